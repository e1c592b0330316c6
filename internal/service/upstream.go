package service

import (
	"errors"
	"fmt"
)

// UpstreamError is returned by every collaborator client when a remote call fails
// or answers with something the client cannot use.
type UpstreamError struct {
	Service    string // "discord", "linear", "posthog", "github", "gitlab"
	Op         string
	StatusCode int // 0 when no HTTP response was received
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Service, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError builds an UpstreamError for a failed call.
func NewUpstreamError(svc, op string, status int, message string, err error) *UpstreamError {
	return &UpstreamError{Service: svc, Op: op, StatusCode: status, Message: message, Err: err}
}

// UserMessage returns the part of err that is safe to show in chat.
// Upstream errors are reduced to the service and the failing operation; anything else
// is reported verbatim.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		if upstream.Message != "" {
			return fmt.Sprintf("%s %s failed: %s", upstream.Service, upstream.Op, upstream.Message)
		}
		return fmt.Sprintf("%s %s failed", upstream.Service, upstream.Op)
	}
	return err.Error()
}
