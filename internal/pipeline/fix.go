package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"bugbot.app/relay/common/logger"
	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/extract"
)

const noIssueReply = "❌ No Linear issue found for this thread. Mention an issue or run `@bugbot contextualize` first."

func (p *Processor) fix(ctx context.Context, env domain.TaskEnvelope, threadKey string) error {
	issue, found, err := p.findIssue(ctx, env, threadKey)
	if err != nil {
		return err
	}
	if !found {
		slog.InfoContext(ctx, "no issue to fix")
		if err := p.deps.Chat.PostMessage(ctx, env.ChatContext.ChannelID, noIssueReply); err != nil {
			return fmt.Errorf("posting fix result: %w", err)
		}
		return nil
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{Issue: &issue.Identifier})

	result := p.generateFix(ctx, FixRequest{
		Issue:   issue,
		RepoURL: p.repoURL(env.ExtractedRefs),
		Report:  extract.ContextText(env.ChatContext),
	})

	slog.InfoContext(ctx, "fix generation finished",
		"success", result.Success,
		"branch", result.BranchName,
		"fix_error", result.Error)

	if err := p.deps.Chat.PostMessage(ctx, env.ChatContext.ChannelID, fixReply(issue, result)); err != nil {
		return fmt.Errorf("posting fix result: %w", err)
	}
	return nil
}

func (p *Processor) generateFix(ctx context.Context, req FixRequest) domain.FixResult {
	if p.deps.Fixer == nil {
		return domain.FixResult{Error: "fix generation is not configured"}
	}
	return p.deps.Fixer.Generate(ctx, req)
}

func (p *Processor) repoURL(refs domain.ExtractedRefs) string {
	if refs.RepoURL != nil && *refs.RepoURL != "" {
		return *refs.RepoURL
	}
	return p.cfg.DefaultRepoURL
}

func fixReply(issue domain.Issue, result domain.FixResult) string {
	if result.Success {
		reply := fmt.Sprintf("✅ Opened fix PR for [%s](%s): %s", issue.Identifier, issue.URL, result.PRURL)
		if result.BranchName != "" {
			reply += fmt.Sprintf(" (branch `%s`)", result.BranchName)
		}
		return reply
	}
	reason := result.Error
	if reason == "" {
		reason = "unknown error"
	}
	return fmt.Sprintf("❌ Could not generate a fix for %s: %s", issue.Identifier, reason)
}
