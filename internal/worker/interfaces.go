package worker

import (
	"context"
	"time"

	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// StaleClaimer hands over messages abandoned by crashed consumers.
type StaleClaimer interface {
	ClaimStale(ctx context.Context, minIdle time.Duration, count int64) ([]queue.Message, error)
}

// EnvelopeProcessor runs one envelope through the task pipeline.
type EnvelopeProcessor interface {
	Process(ctx context.Context, env domain.TaskEnvelope) domain.Outcome
}
