package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"bugbot.app/relay/common/logger"
	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/packet"
)

func (p *Processor) contextualize(ctx context.Context, env domain.TaskEnvelope, threadKey string) error {
	issue, err := p.resolveIssue(ctx, env, threadKey)
	if err != nil {
		return err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{Issue: &issue.Identifier})

	recordings, err := p.findRecordings(ctx, env.ExtractedRefs)
	if err != nil {
		return err
	}

	body := packet.Build(issue, recordings, env.ChatContext.MessageContent)
	if err := p.deps.Tracker.AddComment(ctx, issue.ID, body); err != nil {
		return fmt.Errorf("adding context comment: %w", err)
	}

	slog.InfoContext(ctx, "context packet added", "recordings", len(recordings))

	if err := p.deps.Chat.PostMessage(ctx, env.ChatContext.ChannelID, contextualizeReply(issue, len(recordings))); err != nil {
		return fmt.Errorf("posting confirmation: %w", err)
	}
	return nil
}

// findRecordings prefers an explicit session over the reporter's email.
func (p *Processor) findRecordings(ctx context.Context, refs domain.ExtractedRefs) ([]domain.Recording, error) {
	switch {
	case refs.SessionID != nil && *refs.SessionID != "":
		recording, err := p.deps.Analytics.FindRecordingBySession(ctx, *refs.SessionID)
		if err != nil {
			return nil, fmt.Errorf("fetching session recording: %w", err)
		}
		if recording == nil {
			return nil, nil
		}
		return []domain.Recording{*recording}, nil
	case refs.UserEmail != nil && *refs.UserEmail != "":
		recordings, err := p.deps.Analytics.FindRecordingsForUser(ctx, *refs.UserEmail, p.cfg.RecordingLimit)
		if err != nil {
			return nil, fmt.Errorf("finding user recordings: %w", err)
		}
		return recordings, nil
	default:
		return nil, nil
	}
}

func contextualizeReply(issue domain.Issue, recordings int) string {
	if recordings > 0 {
		return fmt.Sprintf("✅ Added context to Linear issue [%s](%s) with %d PostHog recording(s)",
			issue.Identifier, issue.URL, recordings)
	}
	return fmt.Sprintf("✅ Added context to Linear issue [%s](%s) (no PostHog recordings found)",
		issue.Identifier, issue.URL)
}
