package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const maxErrorBody = 512

// JSONRequest builds a request with an optional JSON body.
func JSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// DoJSON executes req and decodes a 2xx response into out. out may be nil.
// Transport failures, non-2xx statuses and undecodable bodies become *UpstreamError.
func DoJSON(client *http.Client, svc, op string, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return NewUpstreamError(svc, op, 0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var cause error
		if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 {
			cause = errors.New(string(trimmed))
		}
		return NewUpstreamError(svc, op, resp.StatusCode, http.StatusText(resp.StatusCode), cause)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewUpstreamError(svc, op, resp.StatusCode, "unexpected response", err)
	}
	return nil
}

// IsStatus reports whether err is an UpstreamError carrying the given HTTP status.
func IsStatus(err error, status int) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream) && upstream.StatusCode == status
}
