package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"bugbot.app/relay/common/logger"
	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/service/issue_tracker"
	"bugbot.app/relay/internal/store"
)

const (
	defaultIssueTitle  = "Bug report from Discord"
	issueDescription   = "Created by @bugbot"
	maxIssueTitleRunes = 100
)

var (
	commandWordPattern   = regexp.MustCompile(`(?i)contextualize`)
	sentenceBreakPattern = regexp.MustCompile(`[.!?]`)
)

// findIssue looks the issue up by the extracted id, then by the thread mapping.
// Stale references (deleted issues) fall through to the next source.
func (p *Processor) findIssue(ctx context.Context, env domain.TaskEnvelope, threadKey string) (domain.Issue, bool, error) {
	if id := env.ExtractedRefs.IssueID; id != nil && *id != "" {
		issue, err := p.deps.Tracker.GetIssue(ctx, *id)
		switch {
		case err == nil:
			return issue, true, nil
		case errors.Is(err, issue_tracker.ErrIssueNotFound):
			slog.InfoContext(ctx, "referenced issue not found, trying thread mapping", "issue_ref", *id)
		default:
			return domain.Issue{}, false, fmt.Errorf("fetching referenced issue: %w", err)
		}
	}

	mappedID, err := p.deps.Mappings.Get(ctx, threadKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.Issue{}, false, nil
	case err != nil:
		return domain.Issue{}, false, fmt.Errorf("reading thread mapping: %w", err)
	}

	issue, err := p.deps.Tracker.GetIssue(ctx, mappedID)
	switch {
	case err == nil:
		return issue, true, nil
	case errors.Is(err, issue_tracker.ErrIssueNotFound):
		slog.InfoContext(ctx, "mapped issue not found", "mapped_issue_id", mappedID)
		return domain.Issue{}, false, nil
	default:
		return domain.Issue{}, false, fmt.Errorf("fetching mapped issue: %w", err)
	}
}

// resolveIssue returns the thread's issue, creating and mapping one when none exists.
// Two envelopes for the same new thread processed at once can each create an issue;
// the mapping then points at whichever was written last.
func (p *Processor) resolveIssue(ctx context.Context, env domain.TaskEnvelope, threadKey string) (domain.Issue, error) {
	issue, found, err := p.findIssue(ctx, env, threadKey)
	if err != nil {
		return domain.Issue{}, err
	}
	if found {
		return issue, nil
	}

	teamID, err := p.teamID(ctx)
	if err != nil {
		return domain.Issue{}, err
	}

	issue, err = p.deps.Tracker.CreateIssue(ctx, issue_tracker.CreateIssueParams{
		TeamID:      teamID,
		Title:       issueTitle(env.ChatContext.MessageContent, p.mention),
		Description: issueDescription,
	})
	if err != nil {
		return domain.Issue{}, fmt.Errorf("creating issue: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Issue: &issue.Identifier})
	slog.InfoContext(ctx, "created issue for thread")

	if err := p.deps.Mappings.Put(ctx, threadKey, issue.ID); err != nil {
		return domain.Issue{}, fmt.Errorf("writing thread mapping: %w", err)
	}

	return issue, nil
}

func (p *Processor) teamID(ctx context.Context) (string, error) {
	if p.cfg.TeamID != "" {
		return p.cfg.TeamID, nil
	}
	teams, err := p.deps.Tracker.ListTeams(ctx)
	if err != nil {
		return "", fmt.Errorf("listing teams: %w", err)
	}
	if len(teams) == 0 {
		return "", errors.New("no issue tracker teams found")
	}
	return teams[0].ID, nil
}

// issueTitle is the first sentence of the message with the mention and command word
// removed, capped at 100 characters.
func issueTitle(content string, mention *regexp.Regexp) string {
	cleaned := mention.ReplaceAllString(content, "")
	cleaned = strings.TrimSpace(commandWordPattern.ReplaceAllString(cleaned, ""))

	first := strings.TrimSpace(sentenceBreakPattern.Split(cleaned, 2)[0])
	if runes := []rune(first); len(runes) > maxIssueTitleRunes {
		first = string(runes[:maxIssueTitleRunes])
	}
	if first == "" {
		return defaultIssueTitle
	}
	return first
}
