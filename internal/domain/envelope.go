package domain

import (
	"fmt"
	"strings"
	"time"
)

// Command is a bot command recognised by the router.
type Command string

const (
	CommandContextualize Command = "contextualize"
	CommandFix           Command = "fix"
)

// ParseCommand maps a case-insensitive command word to a Command.
func ParseCommand(s string) (Command, error) {
	switch Command(strings.ToLower(strings.TrimSpace(s))) {
	case CommandContextualize:
		return CommandContextualize, nil
	case CommandFix:
		return CommandFix, nil
	default:
		return "", fmt.Errorf("unknown command %q", s)
	}
}

func (c Command) Valid() bool {
	return c == CommandContextualize || c == CommandFix
}

// TaskEnvelope is the unit of queued work. It carries no dedup key: the same envelope
// may be delivered more than once and processing must tolerate that.
type TaskEnvelope struct {
	Command       Command       `json:"command"`
	ChatContext   ChatContext   `json:"discordContext"`
	ExtractedRefs ExtractedRefs `json:"extractedRefs"`
	Timestamp     int64         `json:"timestamp"` // unix millis
}

// NewTaskEnvelope stamps a new envelope with the current time.
func NewTaskEnvelope(cmd Command, chat ChatContext, refs ExtractedRefs) TaskEnvelope {
	return TaskEnvelope{
		Command:       cmd,
		ChatContext:   chat,
		ExtractedRefs: refs,
		Timestamp:     time.Now().UnixMilli(),
	}
}

// Validate checks the fields every processor path relies on.
func (e TaskEnvelope) Validate() error {
	if !e.Command.Valid() {
		return fmt.Errorf("unknown command %q", e.Command)
	}
	if e.ChatContext.ChannelID == "" {
		return fmt.Errorf("missing channel id")
	}
	return nil
}
