package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are added to every log record written with a context that carries them.
// Handlers enrich the context once and every slog.*Context call below picks the fields up.
type LogFields struct {
	Command   *string // "contextualize" or "fix"
	ChannelID *string // originating chat channel
	ThreadKey *string // thread-or-channel key used for the issue mapping
	Issue     *string // tracker issue identifier once resolved
	MessageID *string // queue message ID
	Component string  // e.g. "bugbot.pipeline.processor"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields returns the fields carried by ctx, or the zero value.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, update LogFields) LogFields {
	result := existing

	if update.Command != nil {
		result.Command = update.Command
	}
	if update.ChannelID != nil {
		result.ChannelID = update.ChannelID
	}
	if update.ThreadKey != nil {
		result.ThreadKey = update.ThreadKey
	}
	if update.Issue != nil {
		result.Issue = update.Issue
	}
	if update.MessageID != nil {
		result.MessageID = update.MessageID
	}
	if update.Component != "" {
		result.Component = update.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{Issue: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen bytes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
