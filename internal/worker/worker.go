package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bugbot.app/relay/common/logger"
	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/queue"
)

type Config struct {
	// MaxAttempts is the transport retry policy: a retry outcome on this attempt
	// sends the message to the dead letter stream instead.
	MaxAttempts int
	// ErrorBackoff is the pause after a failed read.
	ErrorBackoff time.Duration
}

type Worker struct {
	consumer  Consumer
	processor EnvelopeProcessor
	cfg       Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, processor EnvelopeProcessor, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{
		consumer:  consumer,
		processor: processor,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "bugbot.worker",
	})

	slog.InfoContext(ctx, "worker started", "max_attempts", w.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				select {
				case <-ctx.Done():
				case <-w.stopCh:
				case <-time.After(w.cfg.ErrorBackoff):
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		w.HandleMessage(ctx, msg)
	}

	return nil
}

// HandleMessage processes one delivery and settles it with the transport.
// Exported so it can be reused by the reclaimer.
func (w *Worker) HandleMessage(ctx context.Context, msg queue.Message) domain.Outcome {
	msgID := msg.ID
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID: &msgID,
		Command:   logger.Ptr(string(msg.Envelope.Command)),
		ChannelID: &msg.Envelope.ChatContext.ChannelID,
	})

	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_envelope")
	defer sc.End()
	ctx = sc.Context()

	slog.InfoContext(ctx, "processing message", "attempt", msg.Attempt)

	start := time.Now()
	outcome := w.processSafe(ctx, msg)

	switch outcome.Status {
	case domain.OutcomeCompleted, domain.OutcomeDiscarded:
		if outcome.Err != nil {
			slog.WarnContext(ctx, "message discarded", "error", outcome.Err)
		}
		if err := w.consumer.Ack(ctx, msg); err != nil {
			// The reclaimer will redeliver it, which processing tolerates.
			slog.WarnContext(ctx, "failed to ACK message", "error", err)
		}
	case domain.OutcomeRetry:
		sc.Fail(outcome.Err)
		w.handleFailedMessage(ctx, msg, outcome.Err)
	}

	slog.InfoContext(ctx, "message settled",
		"status", outcome.Status,
		"duration_ms", time.Since(start).Milliseconds())

	return outcome
}

func (w *Worker) processSafe(ctx context.Context, msg queue.Message) (outcome domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", r)
			outcome = domain.Retry(fmt.Errorf("panic: %v", r))
		}
	}()
	return w.processor.Process(ctx, msg.Envelope)
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	errMsg := "retry requested"
	if err != nil {
		errMsg = err.Error()
	}

	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"attempts", msg.Attempt,
			"error", errMsg)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, errMsg); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"attempt", msg.Attempt,
		"error", errMsg)
	if requeueErr := w.consumer.Requeue(ctx, msg, errMsg); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
