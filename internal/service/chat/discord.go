package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/service"
)

const (
	serviceName = "discord"

	// MaxMessageLength is the longest message content, in characters, the platform accepts.
	MaxMessageLength = 2000
)

// Client is the chat-platform surface the relay needs: read recent history and post replies.
type Client interface {
	FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]domain.RecentMessage, error)
	PostMessage(ctx context.Context, channelID, content string) error
}

type Config struct {
	BotToken   string
	APIBaseURL string
	HTTPClient *http.Client
	// RequestsPerSecond caps outbound calls from this process. Defaults to 5.
	RequestsPerSecond float64
}

type discordClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func NewDiscordClient(cfg Config) Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = "https://discord.com/api/v10"
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &discordClient{
		token:   cfg.BotToken,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
	}
}

type messageResponse struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Author  struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"author"`
}

// FetchRecentMessages returns up to limit messages, oldest first.
func (c *discordClient) FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]domain.RecentMessage, error) {
	endpoint := fmt.Sprintf("%s/channels/%s/messages?limit=%d", c.baseURL, url.PathEscape(channelID), limit)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := service.JSONRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	var resp []messageResponse
	if err := service.DoJSON(c.http, serviceName, "fetch messages", req, &resp); err != nil {
		return nil, err
	}

	messages := make([]domain.RecentMessage, 0, len(resp))
	for _, m := range resp {
		if m.ID == "" {
			continue
		}
		messages = append(messages, domain.RecentMessage{
			ID:      m.ID,
			Content: m.Content,
			Author:  domain.Author{ID: m.Author.ID, Username: m.Author.Username},
		})
	}
	// The API answers newest first.
	slices.Reverse(messages)

	return messages, nil
}

func (c *discordClient) PostMessage(ctx context.Context, channelID, content string) error {
	endpoint := fmt.Sprintf("%s/channels/%s/messages", c.baseURL, url.PathEscape(channelID))

	if n := utf8.RuneCountInString(content); n > MaxMessageLength {
		slog.DebugContext(ctx, "truncating chat message", "length", n)
		content = truncate(content, MaxMessageLength)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := service.JSONRequest(ctx, http.MethodPost, endpoint, map[string]string{"content": content})
	if err != nil {
		return err
	}
	c.authorize(req)

	return service.DoJSON(c.http, serviceName, "post message", req, nil)
}

func (c *discordClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bot "+c.token)
}

// truncate cuts s to at most limit characters.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
