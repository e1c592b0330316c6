// Package extract finds tracker, repository, session and email references in chat text.
package extract

import (
	"regexp"
	"strings"

	"bugbot.app/relay/internal/domain"
)

var (
	issueURLPattern = regexp.MustCompile(`(?i)https://linear\.app/[^/]+/issue/([A-Z]+-\d+)`)
	issueIDPattern  = regexp.MustCompile(`\b([A-Z]+-\d+)\b`)
	repoURLPattern  = regexp.MustCompile(`https://github\.com/[^/]+/[^/\s]+`)
	sessionPattern  = regexp.MustCompile(`(?i)posthog\.com/.*sessions?/([a-f0-9-]+)`)
	emailPattern    = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
)

// Extract runs each finder independently over text; every finder keeps its first match.
func Extract(text string) domain.ExtractedRefs {
	issueID, issueURL := findIssue(text)
	return domain.ExtractedRefs{
		IssueID:   issueID,
		IssueURL:  issueURL,
		RepoURL:   findRepo(text),
		SessionID: findSession(text),
		UserEmail: findEmail(text),
	}
}

// FromContext extracts over the triggering message followed by the recent history,
// so a reference dropped earlier in a thread is still found by a later command.
func FromContext(chat domain.ChatContext) domain.ExtractedRefs {
	return Extract(ContextText(chat))
}

// ContextText joins the message content and the history (oldest first) with newlines.
func ContextText(chat domain.ChatContext) string {
	parts := make([]string, 0, len(chat.RecentMessages)+1)
	parts = append(parts, chat.MessageContent)
	for _, m := range chat.RecentMessages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// findIssue prefers a full tracker URL over a bare identifier.
func findIssue(text string) (id, url *string) {
	if m := issueURLPattern.FindStringSubmatch(text); m != nil {
		return ptr(m[1]), ptr(m[0])
	}
	if m := issueIDPattern.FindStringSubmatch(text); m != nil {
		return ptr(m[1]), nil
	}
	return nil, nil
}

func findRepo(text string) *string {
	m := repoURLPattern.FindString(text)
	if m == "" {
		return nil
	}
	return ptr(strings.TrimSuffix(m, ".git"))
}

func findSession(text string) *string {
	if m := sessionPattern.FindStringSubmatch(text); m != nil {
		return ptr(m[1])
	}
	return nil
}

func findEmail(text string) *string {
	if m := emailPattern.FindString(text); m != "" {
		return ptr(m)
	}
	return nil
}

func ptr(s string) *string {
	return &s
}
