package chat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"bugbot.app/relay/internal/service"
	"bugbot.app/relay/internal/service/chat"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DiscordClient", func() {
	var (
		server  *httptest.Server
		client  chat.Client
		handler http.HandlerFunc
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			handler(w, r)
		}))
		client = chat.NewDiscordClient(chat.Config{BotToken: "tok", APIBaseURL: server.URL})
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("FetchRecentMessages", func() {
		It("returns history oldest first", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodGet))
				Expect(r.URL.Path).To(Equal("/channels/c1/messages"))
				Expect(r.URL.Query().Get("limit")).To(Equal("10"))
				Expect(r.Header.Get("Authorization")).To(Equal("Bot tok"))
				_, _ = w.Write([]byte(`[
					{"id":"3","content":"newest","author":{"id":"u1","username":"ann"}},
					{"id":"2","content":"middle","author":{"id":"u2","username":"bob"}},
					{"id":"1","content":"oldest","author":{"id":"u1","username":"ann"}}
				]`))
			}

			messages, err := client.FetchRecentMessages(ctx, "c1", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(messages).To(HaveLen(3))
			Expect(messages[0].Content).To(Equal("oldest"))
			Expect(messages[2].Content).To(Equal("newest"))
			Expect(messages[1].Author.Username).To(Equal("bob"))
		})

		It("returns an upstream error on failure status", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			}

			_, err := client.FetchRecentMessages(ctx, "c1", 10)
			Expect(err).To(HaveOccurred())
			Expect(service.IsStatus(err, http.StatusForbidden)).To(BeTrue())
		})
	})

	Describe("PostMessage", func() {
		It("posts the content", func() {
			var got map[string]string
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.URL.Path).To(Equal("/channels/c1/messages"))
				Expect(json.NewDecoder(r.Body).Decode(&got)).To(Succeed())
				_, _ = w.Write([]byte(`{"id":"9"}`))
			}

			Expect(client.PostMessage(ctx, "c1", "hello")).To(Succeed())
			Expect(got["content"]).To(Equal("hello"))
		})

		It("truncates content to the platform limit", func() {
			var got map[string]string
			handler = func(w http.ResponseWriter, r *http.Request) {
				Expect(json.NewDecoder(r.Body).Decode(&got)).To(Succeed())
				w.WriteHeader(http.StatusOK)
			}

			Expect(client.PostMessage(ctx, "c1", strings.Repeat("é", 2500))).To(Succeed())
			Expect([]rune(got["content"])).To(HaveLen(chat.MaxMessageLength))
		})

		It("fails on server error", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			}

			Expect(client.PostMessage(ctx, "c1", "hello")).NotTo(Succeed())
		})
	})

	Describe("rate limiting", func() {
		It("gives up waiting when the context ends", func() {
			calls := 0
			handler = func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{}`))
			}
			slow := chat.NewDiscordClient(chat.Config{BotToken: "tok", APIBaseURL: server.URL, RequestsPerSecond: 0.01})

			Expect(slow.PostMessage(ctx, "c1", "first")).To(Succeed())

			shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			err := slow.PostMessage(shortCtx, "c1", "second")

			Expect(err).To(MatchError(ContainSubstring("rate limiter")))
			Expect(calls).To(Equal(1))
		})
	})
})
