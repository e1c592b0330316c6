package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"bugbot.app/relay/common/logger"
	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/queue"
)

// Dispatcher takes ownership of an accepted envelope: the in-process worker pool, or
// the Redis stream producer when the worker also consumes the stream.
type Dispatcher interface {
	Enqueue(ctx context.Context, env domain.TaskEnvelope, traceID string) error
}

// QueuePushHandler is the HTTP front door of the task queue. It answers once every
// message of a batch has been handed to the dispatcher; processing happens afterwards.
type QueuePushHandler struct {
	dispatcher  Dispatcher
	traceHeader string
}

func NewQueuePushHandler(dispatcher Dispatcher, traceHeader string) *QueuePushHandler {
	return &QueuePushHandler{dispatcher: dispatcher, traceHeader: traceHeader}
}

func (h *QueuePushHandler) Handle(c *gin.Context) {
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{Component: "bugbot.queue.push"})

	var batch queue.PushBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		slog.WarnContext(ctx, "invalid queue push body", "error", err)
		c.String(http.StatusBadRequest, "Bad Request")
		return
	}

	var traceID string
	if h.traceHeader != "" {
		traceID = c.GetHeader(h.traceHeader)
	}

	accepted := 0
	for i, msg := range batch.Messages {
		if err := msg.Body.Validate(); err != nil {
			// Redelivering an invalid envelope can never succeed.
			slog.WarnContext(ctx, "discarding invalid pushed envelope",
				"index", i,
				"command", msg.Body.Command,
				"error", err)
			continue
		}

		if err := h.dispatcher.Enqueue(ctx, msg.Body, traceID); err != nil {
			slog.ErrorContext(ctx, "failed to accept pushed envelope",
				"index", i,
				"batch_size", len(batch.Messages),
				"accepted", accepted,
				"command", msg.Body.Command,
				"error", err)
			c.String(http.StatusInternalServerError, "Error")
			return
		}
		accepted++
	}

	slog.InfoContext(ctx, "queue push batch accepted",
		"batch_size", len(batch.Messages),
		"accepted", accepted)
	c.String(http.StatusOK, "OK")
}
