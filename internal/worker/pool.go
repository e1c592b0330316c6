package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bugbot.app/relay/common/logger"
	"bugbot.app/relay/internal/domain"
)

var (
	ErrPoolFull    = errors.New("worker pool queue is full")
	ErrPoolStopped = errors.New("worker pool is stopped")
)

type PoolConfig struct {
	Workers   int
	QueueSize int
	// MaxAttempts bounds the in-process retries of a single envelope. Push deliveries
	// are acknowledged on acceptance, so nobody else will redeliver them.
	MaxAttempts  int
	RetryBackoff time.Duration
}

type job struct {
	env     domain.TaskEnvelope
	traceID string
}

// Pool processes pushed envelopes in the background so the push endpoint can answer
// as soon as a batch is accepted.
type Pool struct {
	processor EnvelopeProcessor
	cfg       PoolConfig

	mu      sync.Mutex
	stopped bool
	jobs    chan job
	wg      sync.WaitGroup
	quit    chan struct{}
}

func NewPool(processor EnvelopeProcessor, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Pool{
		processor: processor,
		cfg:       cfg,
		jobs:      make(chan job, cfg.QueueSize),
		quit:      make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "bugbot.worker.pool"})
	slog.InfoContext(ctx, "worker pool started", "workers", p.cfg.Workers, "queue_size", p.cfg.QueueSize)

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				p.run(ctx, j)
			}
		}()
	}
}

// Enqueue accepts an envelope without waiting for it to be processed.
func (p *Pool) Enqueue(ctx context.Context, env domain.TaskEnvelope, traceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job{env: env, traceID: traceID}:
		return nil
	default:
		return ErrPoolFull
	}
}

// Stop refuses new envelopes and waits for accepted ones to finish. Pending retry
// backoffs are cut short once Stop is called.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
		close(p.quit)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run(ctx context.Context, j job) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Command:   logger.Ptr(string(j.env.Command)),
		ChannelID: &j.env.ChatContext.ChannelID,
	})

	sc := logger.StartSpanFromTraceID(ctx, j.traceID, "worker.pool.process_envelope")
	defer sc.End()
	ctx = sc.Context()

	start := time.Now()
	for attempt := 1; ; attempt++ {
		outcome := p.processSafe(ctx, j.env)
		if outcome.Acknowledge() {
			if outcome.Err != nil {
				slog.WarnContext(ctx, "envelope discarded", "error", outcome.Err)
			}
			slog.InfoContext(ctx, "envelope settled",
				"status", outcome.Status,
				"attempt", attempt,
				"duration_ms", time.Since(start).Milliseconds())
			return
		}

		if attempt >= p.cfg.MaxAttempts {
			sc.Fail(outcome.Err)
			slog.ErrorContext(ctx, "max attempts reached, dropping envelope",
				"attempts", attempt,
				"error", outcome.Err)
			return
		}

		backoff := p.cfg.RetryBackoff << (attempt - 1)
		slog.WarnContext(ctx, "retrying envelope",
			"attempt", attempt,
			"backoff", backoff,
			"error", outcome.Err)
		select {
		case <-time.After(backoff):
		case <-p.quit:
		}
	}
}

func (p *Pool) processSafe(ctx context.Context, env domain.TaskEnvelope) (outcome domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in pooled processing", "panic", r)
			outcome = domain.Retry(fmt.Errorf("panic: %v", r))
		}
	}()
	return p.processor.Process(ctx, env)
}
