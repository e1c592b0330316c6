package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"bugbot.app/relay/common/logger"
	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/service"
	"bugbot.app/relay/internal/service/analytics"
	"bugbot.app/relay/internal/service/chat"
	"bugbot.app/relay/internal/service/issue_tracker"
	"bugbot.app/relay/internal/store"
)

// FixRequest is what the fix step gets to work with.
type FixRequest struct {
	Issue   domain.Issue
	RepoURL string // empty when neither the thread nor the configuration names a repository
	Report  string // the triggering chat message
}

// FixGenerator produces a fix for an issue. Failures are reported in the result,
// not as an error, so the pipeline always posts exactly one terminal message.
type FixGenerator interface {
	Generate(ctx context.Context, req FixRequest) domain.FixResult
}

type Deps struct {
	Chat      chat.Client
	Tracker   issue_tracker.Client
	Analytics analytics.Client
	Mappings  store.ThreadIssueStore
	Fixer     FixGenerator // nil disables fix generation
}

type Config struct {
	Platform       string // mapping key prefix, e.g. "discord"
	Mention        string // bot mention token stripped from issue titles
	TeamID         string // tracker team for new issues; first listed team when empty
	RecordingLimit int
	DefaultRepoURL string
}

// Processor executes queued command envelopes. It is shared by every queue front door.
type Processor struct {
	deps    Deps
	cfg     Config
	mention *regexp.Regexp
}

func NewProcessor(deps Deps, cfg Config) *Processor {
	if cfg.Platform == "" {
		cfg.Platform = "discord"
	}
	if cfg.Mention == "" {
		cfg.Mention = "@bugbot"
	}
	if cfg.RecordingLimit <= 0 {
		cfg.RecordingLimit = 5
	}
	return &Processor{
		deps:    deps,
		cfg:     cfg,
		mention: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(cfg.Mention)),
	}
}

// Process runs one envelope. Upstream failures are reported in chat and returned as
// a retry; everything else completes. Processing the same envelope twice may add a
// second comment to the issue but never creates a second issue for a mapped thread.
func (p *Processor) Process(ctx context.Context, env domain.TaskEnvelope) domain.Outcome {
	threadKey := store.ThreadKey(p.cfg.Platform, env.ChatContext.ThreadKey())
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Command:   logger.Ptr(string(env.Command)),
		ChannelID: logger.Ptr(env.ChatContext.ChannelID),
		ThreadKey: &threadKey,
		Component: "bugbot.pipeline.processor",
	})

	sc := logger.StartSpan(ctx, "pipeline.process."+string(env.Command))
	defer sc.End()
	ctx = sc.Context()

	var err error
	switch env.Command {
	case domain.CommandContextualize:
		err = p.contextualize(ctx, env, threadKey)
	case domain.CommandFix:
		err = p.fix(ctx, env, threadKey)
	default:
		err = fmt.Errorf("unknown command %q", env.Command)
		slog.WarnContext(ctx, "discarding envelope", "error", err)
		return domain.Discarded(err)
	}

	if err != nil {
		sc.Fail(err)
		slog.ErrorContext(ctx, "command failed", "error", err)
		p.reportError(ctx, env, err)
		return domain.Retry(err)
	}

	slog.InfoContext(ctx, "command completed")
	return domain.Completed()
}

func (p *Processor) reportError(ctx context.Context, env domain.TaskEnvelope, err error) {
	content := fmt.Sprintf("❌ Error processing `%s`: %s", env.Command, service.UserMessage(err))
	if postErr := p.deps.Chat.PostMessage(ctx, env.ChatContext.ChannelID, content); postErr != nil {
		slog.ErrorContext(ctx, "failed to report error in chat", "error", postErr)
	}
}
