package webhook_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"bugbot.app/relay/common/logger"
	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/http/handler/webhook"
)

type fakeHistory struct {
	messages []domain.RecentMessage
	err      error
	delay    time.Duration
	calls    int
	limit    int
}

func (f *fakeHistory) FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]domain.RecentMessage, error) {
	f.calls++
	f.limit = limit
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.messages, f.err
}

type fakeQueue struct {
	envelopes []domain.TaskEnvelope
	err       error
}

func (f *fakeQueue) Enqueue(ctx context.Context, env domain.TaskEnvelope, traceID string) error {
	if f.err != nil {
		return f.err
	}
	f.envelopes = append(f.envelopes, env)
	return nil
}

type replyBody struct {
	Type int `json:"type"`
	Data *struct {
		Content string `json:"content"`
	} `json:"data"`
}

var _ = Describe("InteractionHandler", func() {
	var (
		router  *gin.Engine
		priv    ed25519.PrivateKey
		history *fakeHistory
		q       *fakeQueue
		logs    *bytes.Buffer
		cfg     webhook.InteractionConfig
	)

	setup := func() {
		pub, key, err := ed25519.GenerateKey(nil)
		Expect(err).NotTo(HaveOccurred())
		priv = key
		verifier, err := webhook.NewVerifier(hex.EncodeToString(pub))
		Expect(err).NotTo(HaveOccurred())

		router = gin.New()
		h := webhook.NewInteractionHandler(verifier, history, q, cfg)
		router.POST("/interactions", h.Handle)
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		logs = &bytes.Buffer{}
		slog.SetDefault(slog.New(logger.NewTraceHandler(slog.NewJSONHandler(logs, nil))))

		history = &fakeHistory{}
		q = &fakeQueue{}
		cfg = webhook.InteractionConfig{BotUserID: "999", HistoryTimeout: 50 * time.Millisecond}
		setup()
	})

	send := func(payload []byte, signed bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/interactions", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		if signed {
			ts := strconv.FormatInt(time.Now().Unix(), 10)
			sig := ed25519.Sign(priv, append([]byte(ts), payload...))
			req.Header.Set(webhook.SignatureHeader, hex.EncodeToString(sig))
			req.Header.Set(webhook.TimestampHeader, ts)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	sendJSON := func(v any) *httptest.ResponseRecorder {
		payload, err := json.Marshal(v)
		Expect(err).NotTo(HaveOccurred())
		return send(payload, true)
	}

	reply := func(w *httptest.ResponseRecorder) replyBody {
		var r replyBody
		Expect(json.Unmarshal(w.Body.Bytes(), &r)).To(Succeed())
		return r
	}

	message := func(content string) map[string]any {
		return map[string]any{
			"id":         "int-1",
			"type":       4,
			"channel_id": "chan-1",
			"guild_id":   "guild-1",
			"member":     map[string]any{"user": map[string]any{"id": "user-1"}},
			"data":       map[string]any{"content": content},
		}
	}

	It("answers pings", func() {
		w := sendJSON(map[string]any{"type": 1})

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(MatchJSON(`{"type":1}`))
		Expect(q.envelopes).To(BeEmpty())
	})

	It("rejects unsigned requests without enqueueing", func() {
		w := send([]byte(`{"type":4,"data":{"content":"@bugbot fix"}}`), false)

		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(q.envelopes).To(BeEmpty())
		Expect(history.calls).To(Equal(0))
	})

	It("rejects bad signatures", func() {
		payload := []byte(`{"type":1}`)
		req := httptest.NewRequest(http.MethodPost, "/interactions", bytes.NewReader(payload))
		req.Header.Set(webhook.SignatureHeader, hex.EncodeToString(make([]byte, ed25519.SignatureSize)))
		req.Header.Set(webhook.TimestampHeader, "1700000000")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("rejects malformed json", func() {
		w := send([]byte(`{"type":`), true)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects unknown interaction types", func() {
		w := sendJSON(map[string]any{"type": 3})
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("replies with usage for text without a command", func() {
		w := sendJSON(message("@bugbot please help"))

		Expect(w.Code).To(Equal(http.StatusOK))
		r := reply(w)
		Expect(r.Type).To(Equal(4))
		Expect(r.Data.Content).To(Equal("Invalid command. Use `@bugbot contextualize` or `@bugbot fix`"))
		Expect(q.envelopes).To(BeEmpty())
	})

	It("enqueues a recognised command with history and references", func() {
		history.messages = []domain.RecentMessage{
			{ID: "m1", Content: "checkout is broken for jane@acme.io"},
			{ID: "m2", Content: "see ENG-42"},
		}

		w := sendJSON(message("@BugBot Contextualize this"))

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(reply(w).Data.Content).To(Equal("🤖 Working on your `contextualize` request..."))

		Expect(q.envelopes).To(HaveLen(1))
		env := q.envelopes[0]
		Expect(env.Command).To(Equal(domain.CommandContextualize))
		Expect(env.ChatContext.ChannelID).To(Equal("chan-1"))
		Expect(env.ChatContext.ThreadID).To(BeNil())
		Expect(env.ChatContext.MessageID).To(Equal("int-1"))
		Expect(env.ChatContext.UserID).To(Equal("user-1"))
		Expect(env.ChatContext.GuildID).To(Equal("guild-1"))
		Expect(env.ChatContext.RecentMessages).To(Equal(history.messages))
		Expect(env.ExtractedRefs.IssueID).To(HaveValue(Equal("ENG-42")))
		Expect(env.ExtractedRefs.UserEmail).To(HaveValue(Equal("jane@acme.io")))
		Expect(env.Timestamp).To(BeNumerically(">", 0))
		Expect(history.limit).To(Equal(10))
	})

	It("records the thread when invoked inside one", func() {
		payload := message("@bugbot fix")
		payload["channel"] = map[string]any{"id": "chan-1", "type": 11}

		sendJSON(payload)

		Expect(q.envelopes).To(HaveLen(1))
		Expect(q.envelopes[0].ChatContext.ThreadID).To(HaveValue(Equal("chan-1")))
		Expect(q.envelopes[0].ChatContext.ThreadKey()).To(Equal("chan-1"))
	})

	It("normalises bot user mentions", func() {
		w := sendJSON(message("<@!999> fix ENG-7"))

		Expect(reply(w).Data.Content).To(Equal("🤖 Working on your `fix` request..."))
		Expect(q.envelopes[0].ChatContext.MessageContent).To(Equal("@bugbot fix ENG-7"))
	})

	It("synthesises content for slash commands", func() {
		w := sendJSON(map[string]any{
			"id":         "int-2",
			"type":       2,
			"channel_id": "chan-1",
			"user":       map[string]any{"id": "user-2"},
			"data": map[string]any{
				"name":    "fix",
				"options": []map[string]any{{"name": "issue", "value": "ENG-9"}},
			},
		})

		Expect(reply(w).Data.Content).To(Equal("🤖 Working on your `fix` request..."))
		Expect(q.envelopes).To(HaveLen(1))
		Expect(q.envelopes[0].ChatContext.MessageContent).To(Equal("@bugbot fix ENG-9"))
		Expect(q.envelopes[0].ChatContext.UserID).To(Equal("user-2"))
		Expect(q.envelopes[0].ExtractedRefs.IssueID).To(HaveValue(Equal("ENG-9")))
	})

	It("still enqueues when history fails", func() {
		history.err = errors.New("discord down")

		sendJSON(message("@bugbot fix"))

		Expect(q.envelopes).To(HaveLen(1))
		Expect(q.envelopes[0].ChatContext.RecentMessages).To(BeEmpty())
	})

	It("gives up on slow history", func() {
		history.delay = time.Second

		start := time.Now()
		sendJSON(message("@bugbot fix"))

		Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
		Expect(q.envelopes).To(HaveLen(1))
		Expect(q.envelopes[0].ChatContext.RecentMessages).To(BeEmpty())
	})

	It("reports enqueue failures to the user", func() {
		q.err = errors.New("redis unavailable")

		w := sendJSON(message("@bugbot fix"))

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(reply(w).Data.Content).To(Equal("❌ Error: Failed to queue command"))
		Expect(logs.String()).To(ContainSubstring("failed to enqueue command"))
	})

	It("never logs message content", func() {
		sendJSON(message("@bugbot fix secret-token-123"))

		Expect(logs.String()).NotTo(ContainSubstring("secret-token-123"))
		Expect(logs.String()).To(ContainSubstring(`"body_length"`))
	})

	It("tags its logs with the bugbot component name", func() {
		sendJSON(message("@bugbot fix"))

		Expect(logs.String()).To(ContainSubstring(`"component":"bugbot.webhook.interaction"`))
	})
})
