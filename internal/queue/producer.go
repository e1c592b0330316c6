package queue

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/service"
)

// AuthHeader carries the shared secret on push deliveries.
const AuthHeader = "X-Queue-Auth"

type Producer interface {
	// Enqueue hands the envelope to the transport. traceID may be empty.
	Enqueue(ctx context.Context, env domain.TaskEnvelope, traceID string) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, env domain.TaskEnvelope, traceID string) error {
	values, err := messageValues(env, 1, traceID)
	if err != nil {
		return err
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue envelope: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued command", "stream_id", id, "command", env.Command, "channel_id", env.ChatContext.ChannelID)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

// PushBatch is the body accepted by the push endpoint.
type PushBatch struct {
	Messages []PushMessage `json:"messages"`
}

type PushMessage struct {
	Body domain.TaskEnvelope `json:"body"`
}

type HTTPProducerConfig struct {
	URL         string
	Secret      string
	TraceHeader string
	HTTPClient  *http.Client
}

type httpProducer struct {
	cfg    HTTPProducerConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPProducer delivers each envelope as a single-message batch to a push endpoint.
func NewHTTPProducer(cfg HTTPProducerConfig, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &httpProducer{cfg: cfg, client: client, logger: logger}
}

func (p *httpProducer) Enqueue(ctx context.Context, env domain.TaskEnvelope, traceID string) error {
	req, err := service.JSONRequest(ctx, http.MethodPost, p.cfg.URL, PushBatch{
		Messages: []PushMessage{{Body: env}},
	})
	if err != nil {
		return err
	}
	req.Header.Set(AuthHeader, p.cfg.Secret)
	if traceID != "" && p.cfg.TraceHeader != "" {
		req.Header.Set(p.cfg.TraceHeader, traceID)
	}

	if err := service.DoJSON(p.client, "queue", "push", req, nil); err != nil {
		return fmt.Errorf("enqueue envelope: %w", err)
	}

	p.logger.InfoContext(ctx, "pushed command", "command", env.Command, "channel_id", env.ChatContext.ChannelID)
	return nil
}

func (p *httpProducer) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
