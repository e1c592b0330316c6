package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"bugbot.app/relay/common/logger"
	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/http/handler"
	"bugbot.app/relay/internal/http/router"
	"bugbot.app/relay/internal/queue"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	accepted []domain.TaskEnvelope
	traceIDs []string
	failOn   int
}

func (f *fakeDispatcher) Enqueue(ctx context.Context, env domain.TaskEnvelope, traceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn > 0 && len(f.accepted)+1 == f.failOn {
		return errors.New("queue full")
	}
	f.accepted = append(f.accepted, env)
	f.traceIDs = append(f.traceIDs, traceID)
	return nil
}

var _ = Describe("QueuePushHandler", func() {
	const secret = "s3cret"

	var (
		engine     *gin.Engine
		dispatcher *fakeDispatcher
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		dispatcher = &fakeDispatcher{}
		engine = gin.New()
		router.SetupPushRoutes(engine, handler.NewQueuePushHandler(dispatcher, "X-Trace-Id"), router.PushConfig{Secret: secret})
	})

	envelope := func(cmd domain.Command, channel string) domain.TaskEnvelope {
		return domain.NewTaskEnvelope(cmd, domain.ChatContext{ChannelID: channel}, domain.ExtractedRefs{})
	}

	push := func(auth string, body any) *httptest.ResponseRecorder {
		var payload []byte
		switch b := body.(type) {
		case []byte:
			payload = b
		default:
			var err error
			payload, err = json.Marshal(b)
			Expect(err).NotTo(HaveOccurred())
		}
		req := httptest.NewRequest(http.MethodPost, router.QueuePushPath, bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Trace-Id", "trace-1")
		if auth != "" {
			req.Header.Set(queue.AuthHeader, auth)
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w
	}

	batch := func(envs ...domain.TaskEnvelope) queue.PushBatch {
		var b queue.PushBatch
		for _, e := range envs {
			b.Messages = append(b.Messages, queue.PushMessage{Body: e})
		}
		return b
	}

	It("rejects requests without the shared secret", func() {
		w := push("", batch(envelope(domain.CommandFix, "c1")))

		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(w.Body.String()).To(Equal("Unauthorized"))
		Expect(dispatcher.accepted).To(BeEmpty())
	})

	It("rejects a wrong secret", func() {
		w := push("nope", batch(envelope(domain.CommandFix, "c1")))

		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(dispatcher.accepted).To(BeEmpty())
	})

	It("hands every message to the dispatcher in order", func() {
		w := push(secret, batch(envelope(domain.CommandContextualize, "c1"), envelope(domain.CommandFix, "c2")))

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("OK"))
		Expect(dispatcher.accepted).To(HaveLen(2))
		Expect(dispatcher.accepted[0].ChatContext.ChannelID).To(Equal("c1"))
		Expect(dispatcher.accepted[1].Command).To(Equal(domain.CommandFix))
		Expect(dispatcher.traceIDs).To(Equal([]string{"trace-1", "trace-1"}))
	})

	It("acknowledges invalid envelopes without dispatching them", func() {
		w := push(secret, batch(
			envelope(domain.CommandContextualize, ""),
			envelope(domain.Command("deploy"), "c1"),
			envelope(domain.CommandFix, "c2"),
		))

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(dispatcher.accepted).To(HaveLen(1))
		Expect(dispatcher.accepted[0].ChatContext.ChannelID).To(Equal("c2"))
	})

	It("fails the batch when a message cannot be accepted", func() {
		dispatcher.failOn = 2

		w := push(secret, batch(envelope(domain.CommandFix, "c1"), envelope(domain.CommandFix, "c2"), envelope(domain.CommandFix, "c3")))

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).To(Equal("Error"))
		Expect(dispatcher.accepted).To(HaveLen(1))
	})

	It("rejects malformed bodies", func() {
		w := push(secret, []byte(`{"messages":`))

		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(dispatcher.accepted).To(BeEmpty())
	})

	It("tags its logs with the bugbot component name", func() {
		logs := &bytes.Buffer{}
		previous := slog.Default()
		slog.SetDefault(slog.New(logger.NewTraceHandler(slog.NewJSONHandler(logs, nil))))
		DeferCleanup(func() { slog.SetDefault(previous) })

		push(secret, batch(envelope(domain.CommandFix, "c1")))

		Expect(logs.String()).To(ContainSubstring(`"component":"bugbot.queue.push"`))
	})

	It("serves health checks without auth", func() {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
	})
})
