package analytics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/service"
)

const serviceName = "posthog"

// Client looks up session recordings in the product-analytics platform.
type Client interface {
	// FindRecordingsForUser returns up to limit recordings of the first person matching email.
	// An unknown email yields an empty slice.
	FindRecordingsForUser(ctx context.Context, email string, limit int) ([]domain.Recording, error)
	// FindRecordingBySession returns nil when the recording does not exist.
	FindRecordingBySession(ctx context.Context, sessionID string) (*domain.Recording, error)
}

type Config struct {
	APIKey     string
	ProjectID  string
	Host       string
	HTTPClient *http.Client
}

type postHogClient struct {
	apiKey    string
	projectID string
	host      string
	http      *http.Client
}

func NewPostHogClient(cfg Config) Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	host := cfg.Host
	if host == "" {
		host = "https://app.posthog.com"
	}
	return &postHogClient{
		apiKey:    cfg.APIKey,
		projectID: cfg.ProjectID,
		host:      strings.TrimSuffix(host, "/"),
		http:      httpClient,
	}
}

type personsResponse struct {
	Results []struct {
		DistinctIDs []string `json:"distinct_ids"`
	} `json:"results"`
}

type recordingResponse struct {
	ID                string  `json:"id"`
	RecordingDuration float64 `json:"recording_duration"` // seconds
	StartTime         string  `json:"start_time"`
}

type recordingsResponse struct {
	Results []recordingResponse `json:"results"`
}

func (c *postHogClient) FindRecordingsForUser(ctx context.Context, email string, limit int) ([]domain.Recording, error) {
	personsURL := fmt.Sprintf("%s/api/projects/%s/persons/?email=%s",
		c.host, url.PathEscape(c.projectID), url.QueryEscape(email))

	var persons personsResponse
	if err := c.get(ctx, "find person", personsURL, &persons); err != nil {
		return nil, err
	}
	if len(persons.Results) == 0 || len(persons.Results[0].DistinctIDs) == 0 {
		return []domain.Recording{}, nil
	}
	distinctID := persons.Results[0].DistinctIDs[0]

	recordingsURL := fmt.Sprintf("%s/api/projects/%s/session_recordings/?person_uuid=%s&limit=%d",
		c.host, url.PathEscape(c.projectID), url.QueryEscape(distinctID), limit)

	var recordings recordingsResponse
	if err := c.get(ctx, "list recordings", recordingsURL, &recordings); err != nil {
		return nil, err
	}

	result := make([]domain.Recording, 0, len(recordings.Results))
	for _, r := range recordings.Results {
		if r.ID == "" {
			continue
		}
		result = append(result, c.toDomain(r))
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (c *postHogClient) FindRecordingBySession(ctx context.Context, sessionID string) (*domain.Recording, error) {
	recordingURL := fmt.Sprintf("%s/api/projects/%s/session_recordings/%s",
		c.host, url.PathEscape(c.projectID), url.PathEscape(sessionID))

	var resp recordingResponse
	if err := c.get(ctx, "get recording", recordingURL, &resp); err != nil {
		if service.IsStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if resp.ID == "" {
		return nil, service.NewUpstreamError(serviceName, "get recording", 0, "unexpected response", nil)
	}

	recording := c.toDomain(resp)
	return &recording, nil
}

func (c *postHogClient) get(ctx context.Context, op, endpoint string, out any) error {
	req, err := service.JSONRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return service.DoJSON(c.http, serviceName, op, req, out)
}

func (c *postHogClient) toDomain(r recordingResponse) domain.Recording {
	return domain.Recording{
		ID:        r.ID,
		URL:       fmt.Sprintf("%s/project/%s/replay/%s", c.host, c.projectID, r.ID),
		// recording_duration is reported in seconds.
		Duration:  time.Duration(r.RecordingDuration * float64(time.Second)),
		StartTime: r.StartTime,
	}
}
