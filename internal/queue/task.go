package queue

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"bugbot.app/relay/internal/domain"
)

// Stream field names.
const (
	fieldEnvelope  = "envelope"
	fieldCommand   = "command"
	fieldAttempt   = "attempt"
	fieldTraceID   = "trace_id"
	fieldLastError = "last_error"
	fieldError     = "error"
)

// Message is one delivery of a TaskEnvelope.
type Message struct {
	ID        string
	Envelope  domain.TaskEnvelope
	Attempt   int
	TraceID   string
	LastError string
	Raw       redis.XMessage
}

// EncodeEnvelope serialises an envelope in its wire shape.
func EncodeEnvelope(env domain.TaskEnvelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses and validates a wire envelope.
func DecodeEnvelope(data []byte) (domain.TaskEnvelope, error) {
	var env domain.TaskEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.TaskEnvelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return domain.TaskEnvelope{}, err
	}
	return env, nil
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	raw, err := parseString(msg.Values, fieldEnvelope)
	if err != nil {
		return Message{}, err
	}
	env, err := DecodeEnvelope([]byte(raw))
	if err != nil {
		return Message{}, err
	}

	attempt, err := parseOptionalInt(msg.Values, fieldAttempt)
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	return Message{
		ID:        msg.ID,
		Envelope:  env,
		Attempt:   attempt,
		TraceID:   parseOptionalString(msg.Values, fieldTraceID),
		LastError: parseOptionalString(msg.Values, fieldLastError),
		Raw:       msg,
	}, nil
}

func messageValues(env domain.TaskEnvelope, attempt int, traceID string) (map[string]any, error) {
	data, err := EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	values := map[string]any{
		fieldEnvelope: string(data),
		fieldCommand:  string(env.Command),
		fieldAttempt:  attempt,
	}
	if traceID != "" {
		values[fieldTraceID] = traceID
	}
	return values, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}
