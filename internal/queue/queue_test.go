package queue_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/queue"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func envelope() domain.TaskEnvelope {
	thread := "t1"
	issue := "ENG-1"
	return domain.TaskEnvelope{
		Command: domain.CommandContextualize,
		ChatContext: domain.ChatContext{
			ChannelID:      "c1",
			ThreadID:       &thread,
			MessageID:      "m1",
			UserID:         "u1",
			MessageContent: "@bugbot contextualize ENG-1",
		},
		ExtractedRefs: domain.ExtractedRefs{IssueID: &issue},
		Timestamp:     1700000000000,
	}
}

var _ = Describe("Envelope codec", func() {
	It("uses the wire field names", func() {
		data, err := queue.EncodeEnvelope(envelope())
		Expect(err).NotTo(HaveOccurred())

		var wire map[string]any
		Expect(json.Unmarshal(data, &wire)).To(Succeed())
		Expect(wire).To(HaveKey("discordContext"))
		Expect(wire).To(HaveKey("extractedRefs"))
		Expect(wire["command"]).To(Equal("contextualize"))
		Expect(wire["extractedRefs"]).To(Equal(map[string]any{"linearIssueId": "ENG-1"}))
	})

	It("decodes what it encodes", func() {
		data, err := queue.EncodeEnvelope(envelope())
		Expect(err).NotTo(HaveOccurred())

		env, err := queue.DecodeEnvelope(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(env).To(Equal(envelope()))
	})

	It("rejects envelopes without a valid command", func() {
		_, err := queue.DecodeEnvelope([]byte(`{"command":"deploy","discordContext":{"channelId":"c1"}}`))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Redis transport", func() {
	var (
		mr       *miniredis.Miniredis
		client   *redis.Client
		producer queue.Producer
		consumer *queue.RedisConsumer
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		producer = queue.NewRedisProducer(client, "commands", nil)

		var err error
		consumer, err = queue.NewRedisConsumer(ctx, client, queue.ConsumerConfig{
			Stream:    "commands",
			Group:     "workers",
			Consumer:  "w1",
			DLQStream: "commands_dlq",
			BatchSize: 10,
			Block:     -1,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = client.Close()
	})

	It("tolerates an existing group", func() {
		_, err := queue.NewRedisConsumer(ctx, client, queue.ConsumerConfig{Stream: "commands", Group: "workers"})
		Expect(err).NotTo(HaveOccurred())
	})

	It("delivers enqueued envelopes with attempt 1 and the trace id", func() {
		Expect(producer.Enqueue(ctx, envelope(), "0af7651916cd43dd8448eb211c80319c")).To(Succeed())

		messages, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(messages).To(HaveLen(1))
		Expect(messages[0].Envelope).To(Equal(envelope()))
		Expect(messages[0].Attempt).To(Equal(1))
		Expect(messages[0].TraceID).To(Equal("0af7651916cd43dd8448eb211c80319c"))
	})

	It("returns nothing when the stream is empty", func() {
		messages, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(messages).To(BeEmpty())
	})

	It("drops unparseable messages", func() {
		Expect(client.XAdd(ctx, &redis.XAddArgs{Stream: "commands", Values: map[string]any{"envelope": "{not json"}}).Err()).To(Succeed())

		messages, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(messages).To(BeEmpty())

		pending, err := client.XPending(ctx, "commands", "workers").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending.Count).To(BeZero())
	})

	It("requeues with the next attempt and last error", func() {
		Expect(producer.Enqueue(ctx, envelope(), "")).To(Succeed())
		messages, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(consumer.Requeue(ctx, messages[0], "linear down")).To(Succeed())

		redelivered, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(redelivered).To(HaveLen(1))
		Expect(redelivered[0].Attempt).To(Equal(2))
		Expect(redelivered[0].LastError).To(Equal("linear down"))
		Expect(redelivered[0].Envelope).To(Equal(envelope()))
	})

	It("moves messages to the dead letter stream", func() {
		Expect(producer.Enqueue(ctx, envelope(), "")).To(Succeed())
		messages, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(consumer.SendDLQ(ctx, messages[0], "gave up")).To(Succeed())

		dead, err := client.XRange(ctx, "commands_dlq", "-", "+").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(dead).To(HaveLen(1))
		Expect(dead[0].Values["error"]).To(Equal("gave up"))
		Expect(dead[0].Values["command"]).To(Equal("contextualize"))

		pending, err := client.XPending(ctx, "commands", "workers").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending.Count).To(BeZero())
	})

	It("keeps the original pending when the requeue write fails", func() {
		Expect(producer.Enqueue(ctx, envelope(), "")).To(Succeed())
		messages, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())

		mr.SetError("LOADING redis is loading the dataset")
		Expect(consumer.Requeue(ctx, messages[0], "linear down")).NotTo(Succeed())
		mr.SetError("")

		pending, err := client.XPending(ctx, "commands", "workers").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending.Count).To(Equal(int64(1)))
		Expect(pending.Lower).To(Equal(messages[0].ID))

		length, err := client.XLen(ctx, "commands").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(length).To(Equal(int64(1)))
	})

	It("keeps the original pending when the dead letter write fails", func() {
		Expect(producer.Enqueue(ctx, envelope(), "")).To(Succeed())
		messages, err := consumer.Read(ctx)
		Expect(err).NotTo(HaveOccurred())

		// A string at the dead letter key makes XADD fail with WRONGTYPE.
		Expect(mr.Set("commands_dlq", "occupied")).To(Succeed())

		Expect(consumer.SendDLQ(ctx, messages[0], "gave up")).NotTo(Succeed())

		pending, err := client.XPending(ctx, "commands", "workers").Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending.Count).To(Equal(int64(1)))
		Expect(pending.Lower).To(Equal(messages[0].ID))
	})
})

var _ = Describe("HTTP producer", func() {
	It("posts a single-message batch with the shared secret", func() {
		var (
			batch  queue.PushBatch
			secret string
			trace  string
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			secret = r.Header.Get(queue.AuthHeader)
			trace = r.Header.Get("X-Trace-Id")
			Expect(json.NewDecoder(r.Body).Decode(&batch)).To(Succeed())
			_, _ = w.Write([]byte("OK"))
		}))
		defer server.Close()

		producer := queue.NewHTTPProducer(queue.HTTPProducerConfig{
			URL:         server.URL,
			Secret:      "s3cret",
			TraceHeader: "X-Trace-Id",
		}, nil)

		Expect(producer.Enqueue(context.Background(), envelope(), "abc")).To(Succeed())
		Expect(secret).To(Equal("s3cret"))
		Expect(trace).To(Equal("abc"))
		Expect(batch.Messages).To(HaveLen(1))
		Expect(batch.Messages[0].Body).To(Equal(envelope()))
	})

	It("fails when the endpoint rejects the batch", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		producer := queue.NewHTTPProducer(queue.HTTPProducerConfig{URL: server.URL}, nil)
		Expect(producer.Enqueue(context.Background(), envelope(), "")).NotTo(Succeed())
	})
})
