// Package packet renders the Markdown context packet that is posted as an issue comment.
package packet

import (
	"fmt"
	"math"
	"strings"

	"bugbot.app/relay/internal/domain"
)

const header = "# Context from Discord (@bugbot)"

var reproSteps = []string{
	"Review PostHog recordings",
	"Identify user actions leading to issue",
	"Document expected vs actual behavior",
}

// Build renders the packet for issue. Recordings are listed in the order given and the
// section is omitted when there are none. The output depends only on the arguments.
func Build(issue domain.Issue, recordings []domain.Recording, bugReport string) string {
	var sb strings.Builder

	sb.WriteString(header + "\n\n")

	if len(recordings) > 0 {
		sb.WriteString("## PostHog Recordings\n")
		for _, rec := range recordings {
			sb.WriteString(fmt.Sprintf("- [Session %s](%s) (%ds) - %s\n", rec.ID, rec.URL, roundSeconds(rec), rec.StartTime))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Bug Behavior\n")
	sb.WriteString(bugReport + "\n\n")

	sb.WriteString("## Intended Behavior\n")
	sb.WriteString("_To be determined from recordings and investigation_\n\n")

	sb.WriteString("## Reproduction Steps\n")
	for i, step := range reproSteps {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, step))
	}

	return sb.String()
}

func roundSeconds(rec domain.Recording) int64 {
	return int64(math.Round(rec.Duration.Seconds()))
}
