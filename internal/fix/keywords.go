package fix

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"bugbot.app/relay/common/llm"
	"bugbot.app/relay/internal/domain"
)

type KeywordsResponse struct {
	Keywords []KeywordItem `json:"keywords" jsonschema_description:"Code search terms for the bug"`
}

type KeywordItem struct {
	Value    string  `json:"value" jsonschema_description:"The search term as it would appear in code"`
	Weight   float64 `json:"weight" jsonschema_description:"Relevance weight 0.0-1.0"`
	Category string  `json:"category" jsonschema:"enum=entity,enum=concept,enum=library" jsonschema_description:"Type of keyword"`
}

var keywordsSchema = llm.GenerateSchema[KeywordsResponse]()

// KeywordsExtractor turns a bug report into code search terms.
type KeywordsExtractor struct {
	llm     llm.Client
	backoff time.Duration
}

func NewKeywordsExtractor(client llm.Client, backoff time.Duration) *KeywordsExtractor {
	return &KeywordsExtractor{llm: client, backoff: backoff}
}

// Extract returns keyword values ordered by descending weight, at most max of them.
func (e *KeywordsExtractor) Extract(ctx context.Context, issue domain.Issue, report string, max int) ([]string, error) {
	prompt := buildKeywordsPrompt(issue, report)
	if prompt == "" {
		return nil, nil
	}

	var response KeywordsResponse
	start := time.Now()
	err := chatWithRetry(ctx, e.llm, e.backoff, "keywords", llm.Request{
		SystemPrompt: keywordsSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "keywords_response",
		Schema:       keywordsSchema,
		Temperature:  llm.Temp(0.1),
	}, &response)
	if err != nil {
		return nil, err
	}

	items := response.Keywords
	sort.SliceStable(items, func(i, j int) bool { return items[i].Weight > items[j].Weight })

	seen := make(map[string]bool)
	keywords := make([]string, 0, max)
	for _, k := range items {
		v := strings.TrimSpace(k.Value)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		keywords = append(keywords, v)
		if len(keywords) == max {
			break
		}
	}

	slog.InfoContext(ctx, "keywords extracted",
		"keyword_count", len(keywords),
		"latency_ms", time.Since(start).Milliseconds())

	return keywords, nil
}

// chatWithRetry retries transient LLM failures with exponential backoff (b, 2b, 4b).
func chatWithRetry(ctx context.Context, client llm.Client, backoff time.Duration, stage string, req llm.Request, result any) error {
	const attempts = 3

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		_, err = client.Chat(ctx, req, result)
		if err == nil {
			return nil
		}
		if !llm.IsRetryable(ctx, err) {
			return fmt.Errorf("%s: %w", stage, err)
		}
		slog.WarnContext(ctx, "llm call retry",
			"stage", stage,
			"attempt", attempt+1,
			"error", err)
		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", stage, ctx.Err())
			case <-time.After(backoff << attempt):
			}
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", stage, attempts, err)
}

func buildKeywordsPrompt(issue domain.Issue, report string) string {
	var sb strings.Builder

	if issue.Title != "" {
		sb.WriteString("## Title\n")
		sb.WriteString(issue.Title)
		sb.WriteString("\n\n")
	}

	if issue.Description != "" {
		sb.WriteString("## Description\n")
		sb.WriteString(issue.Description)
		sb.WriteString("\n\n")
	}

	if report != "" {
		sb.WriteString("## Report\n")
		sb.WriteString(report)
		sb.WriteString("\n")
	}

	return sb.String()
}

const keywordsSystemPrompt = `You extract code search terms from bug reports.

Think: "What would a developer type into code search to find where this bug lives?"

## Categories

- entity: Code identifiers like function names, class names, file names, error types
- concept: Technical areas such as authentication, caching, checkout
- library: Dependencies such as stripe, redis, jwt

## Example

Input: "Login fails when password contains special characters like @#$"
Output:
- login (concept, 0.85)
- password (concept, 0.8)
- validatePassword (entity, 0.6)
- auth (concept, 0.5)

## Rules

- Use the spelling the code would most likely use
- Max 10 keywords
- Higher weight = more specific to this bug

## Do NOT extract

- Action verbs: add, fix, update, implement, change
- Filler words: please, should, would, need, want
- Vague terms: bug, issue, problem, broken`
