package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bugbot.app/relay/common/logger"
	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/extract"
	"bugbot.app/relay/internal/http/dto"
)

const (
	invalidCommandReply = "Invalid command. Use `@bugbot contextualize` or `@bugbot fix`"
	enqueueFailedReply  = "❌ Error: Failed to queue command"
)

// HistoryFetcher returns the most recent channel messages, oldest first.
type HistoryFetcher interface {
	FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]domain.RecentMessage, error)
}

// Enqueuer hands an envelope to the task queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, env domain.TaskEnvelope, traceID string) error
}

type InteractionConfig struct {
	Mention        string // defaults to "@bugbot"
	BotUserID      string // <@id> and <@!id> are rewritten to Mention when set
	HistoryLimit   int
	HistoryTimeout time.Duration
}

type InteractionHandler struct {
	verifier *Verifier
	history  HistoryFetcher
	queue    Enqueuer
	cfg      InteractionConfig
	grammar  *regexp.Regexp
	botRef   *regexp.Regexp
}

func NewInteractionHandler(verifier *Verifier, history HistoryFetcher, queue Enqueuer, cfg InteractionConfig) *InteractionHandler {
	if cfg.Mention == "" {
		cfg.Mention = "@bugbot"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = 1500 * time.Millisecond
	}

	h := &InteractionHandler{
		verifier: verifier,
		history:  history,
		queue:    queue,
		cfg:      cfg,
		grammar:  regexp.MustCompile(`(?i)` + regexp.QuoteMeta(cfg.Mention) + `\s+(contextualize|fix)`),
	}
	if cfg.BotUserID != "" {
		h.botRef = regexp.MustCompile(`<@!?` + regexp.QuoteMeta(cfg.BotUserID) + `>`)
	}
	return h
}

func (h *InteractionHandler) Handle(c *gin.Context) {
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{Component: "bugbot.webhook.interaction"})

	signature := c.GetHeader(SignatureHeader)
	timestamp := c.GetHeader(TimestampHeader)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "failed to read request body")
		return
	}

	slog.InfoContext(ctx, "interaction received",
		"has_signature", signature != "",
		"has_timestamp", timestamp != "",
		"body_length", len(body))

	if signature == "" || timestamp == "" {
		slog.WarnContext(ctx, "missing signature headers")
		c.String(http.StatusUnauthorized, "Missing signature headers")
		return
	}
	if !h.verifier.Verify(body, signature, timestamp) {
		slog.WarnContext(ctx, "invalid interaction signature")
		c.String(http.StatusUnauthorized, "Invalid signature")
		return
	}

	var interaction dto.Interaction
	if err := json.Unmarshal(body, &interaction); err != nil {
		c.String(http.StatusBadRequest, "invalid payload")
		return
	}

	switch interaction.Type {
	case dto.InteractionTypePing:
		c.JSON(http.StatusOK, dto.Pong())
	case dto.InteractionTypeApplicationCommand, dto.InteractionTypeMessage:
		c.JSON(http.StatusOK, dto.ChannelMessage(h.route(ctx, interaction)))
	default:
		slog.WarnContext(ctx, "unknown interaction type", "type", interaction.Type)
		c.String(http.StatusBadRequest, "Unknown interaction type")
	}
}

// route parses the command and enqueues it, returning the reply shown to the user.
func (h *InteractionHandler) route(ctx context.Context, interaction dto.Interaction) string {
	content := h.content(interaction)

	m := h.grammar.FindStringSubmatch(content)
	if m == nil {
		slog.InfoContext(ctx, "interaction without a command")
		return invalidCommandReply
	}
	cmd, err := domain.ParseCommand(m[1])
	if err != nil {
		return invalidCommandReply
	}

	chat := domain.ChatContext{
		ChannelID:      interaction.ChannelID,
		MessageID:      interaction.ID,
		UserID:         interaction.UserID(),
		GuildID:        interaction.GuildID,
		MessageContent: content,
	}
	if interaction.IsThread() {
		chat.ThreadID = logger.Ptr(interaction.ChannelID)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Command:   logger.Ptr(string(cmd)),
		ChannelID: logger.Ptr(chat.ChannelID),
		ThreadKey: logger.Ptr(chat.ThreadKey()),
		MessageID: logger.Ptr(chat.MessageID),
	})

	chat.RecentMessages = h.fetchHistory(ctx, chat.ChannelID)

	env := domain.NewTaskEnvelope(cmd, chat, extract.FromContext(chat))
	if err := h.queue.Enqueue(ctx, env, logger.TraceID(ctx)); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue command", "error", err)
		return enqueueFailedReply
	}

	slog.InfoContext(ctx, "command enqueued", "history_count", len(chat.RecentMessages))
	return fmt.Sprintf("🤖 Working on your `%s` request...", cmd)
}

// content is the message text with bot mentions normalised. Slash commands carry no
// content, so one is synthesised from the command name and its option values.
func (h *InteractionHandler) content(interaction dto.Interaction) string {
	if interaction.Data == nil {
		return ""
	}

	content := interaction.Data.Content
	if strings.TrimSpace(content) == "" && interaction.Data.Name != "" {
		parts := []string{h.cfg.Mention, interaction.Data.Name}
		for _, opt := range interaction.Data.Options {
			if v := fmt.Sprint(opt.Value); opt.Value != nil && v != "" {
				parts = append(parts, v)
			}
		}
		content = strings.Join(parts, " ")
	}

	if h.botRef != nil {
		content = h.botRef.ReplaceAllString(content, h.cfg.Mention)
	}
	return strings.TrimSpace(content)
}

// fetchHistory never fails the request: errors and timeouts yield an empty history.
func (h *InteractionHandler) fetchHistory(ctx context.Context, channelID string) []domain.RecentMessage {
	if h.history == nil || channelID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.HistoryTimeout)
	defer cancel()

	msgs, err := h.history.FetchRecentMessages(ctx, channelID, h.cfg.HistoryLimit)
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch recent messages", "error", err)
		return nil
	}
	return msgs
}
