package worker_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/queue"
	"bugbot.app/relay/internal/worker"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Worker", func() {
	var (
		consumer  *mockConsumer
		processor *mockProcessor
		w         *worker.Worker
		ctx       context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		consumer = &mockConsumer{}
		processor = &mockProcessor{}
		w = worker.New(consumer, processor, worker.Config{MaxAttempts: 3})
	})

	Describe("HandleMessage", func() {
		It("acks completed envelopes", func() {
			outcome := w.HandleMessage(ctx, message("1-0", 1))

			Expect(outcome.Status).To(Equal(domain.OutcomeCompleted))
			Expect(consumer.acked).To(Equal([]string{"1-0"}))
			Expect(consumer.requeued).To(BeEmpty())
		})

		It("acks discarded envelopes", func() {
			processor.processFn = func(ctx context.Context, env domain.TaskEnvelope) domain.Outcome {
				return domain.Discarded(errors.New("unknown command"))
			}

			w.HandleMessage(ctx, message("1-0", 1))
			Expect(consumer.acked).To(Equal([]string{"1-0"}))
		})

		It("requeues retry outcomes below the attempt limit", func() {
			processor.processFn = func(ctx context.Context, env domain.TaskEnvelope) domain.Outcome {
				return domain.Retry(errors.New("linear unavailable"))
			}

			w.HandleMessage(ctx, message("1-0", 2))
			Expect(consumer.acked).To(BeEmpty())
			Expect(consumer.requeued).To(Equal([]string{"1-0"}))
			Expect(consumer.errMsgs).To(Equal([]string{"linear unavailable"}))
		})

		It("dead-letters retry outcomes on the last attempt", func() {
			processor.processFn = func(ctx context.Context, env domain.TaskEnvelope) domain.Outcome {
				return domain.Retry(errors.New("linear unavailable"))
			}

			w.HandleMessage(ctx, message("1-0", 3))
			Expect(consumer.requeued).To(BeEmpty())
			Expect(consumer.dlq).To(Equal([]string{"1-0"}))
		})

		It("turns a panic into a retry", func() {
			processor.processFn = func(ctx context.Context, env domain.TaskEnvelope) domain.Outcome {
				panic("nil map")
			}

			outcome := w.HandleMessage(ctx, message("1-0", 1))
			Expect(outcome.Status).To(Equal(domain.OutcomeRetry))
			Expect(outcome.Err).To(MatchError(ContainSubstring("nil map")))
			Expect(consumer.requeued).To(Equal([]string{"1-0"}))
		})

		It("passes the envelope to the processor", func() {
			var got domain.TaskEnvelope
			processor.processFn = func(ctx context.Context, env domain.TaskEnvelope) domain.Outcome {
				got = env
				return domain.Completed()
			}

			msg := message("1-0", 1)
			w.HandleMessage(ctx, msg)
			Expect(got).To(Equal(msg.Envelope))
		})

		It("logs the settled outcome", func() {
			var buf bytes.Buffer
			prev := slog.Default()
			slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
			DeferCleanup(func() { slog.SetDefault(prev) })

			w.HandleMessage(ctx, message("7-0", 1))
			Expect(buf.String()).To(ContainSubstring(`"msg":"message settled"`))
		})
	})

	Describe("Run", func() {
		It("processes batches until stopped", func() {
			consumer.batches = [][]queue.Message{{message("1-0", 1), message("2-0", 1)}}

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)
				_ = w.Run(ctx)
			}()

			Eventually(consumer.ackedIDs).Should(Equal([]string{"1-0", "2-0"}))
			w.Stop()
			Eventually(done).Should(BeClosed())
		})

		It("returns when the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			errCh := make(chan error, 1)
			go func() {
				errCh <- w.Run(cctx)
			}()

			cancel()
			Eventually(errCh, time.Second).Should(Receive(MatchError(context.Canceled)))
		})
	})
})
