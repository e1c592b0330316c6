package issue_tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/service"
)

const serviceName = "linear"

// ErrIssueNotFound is returned when the tracker has no issue for the given id.
var ErrIssueNotFound = errors.New("issue not found")

// Client is the issue-tracker surface used by the pipeline.
type Client interface {
	GetIssue(ctx context.Context, id string) (domain.Issue, error)
	ListTeams(ctx context.Context) ([]domain.Team, error)
	CreateIssue(ctx context.Context, params CreateIssueParams) (domain.Issue, error)
	AddComment(ctx context.Context, issueID, body string) error
}

type CreateIssueParams struct {
	TeamID      string
	Title       string
	Description string
}

type Config struct {
	APIKey     string
	APIURL     string
	HTTPClient *http.Client
}

type linearClient struct {
	apiKey string
	apiURL string
	http   *http.Client
}

func NewLinearClient(cfg Config) Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.linear.app/graphql"
	}
	return &linearClient{apiKey: cfg.APIKey, apiURL: apiURL, http: httpClient}
}

const issueFields = `id identifier title description url`

const getIssueQuery = `query($issueId: String!) {
  issue(id: $issueId) { ` + issueFields + ` }
}`

const listTeamsQuery = `query {
  teams { nodes { id name } }
}`

const createIssueMutation = `mutation($teamId: String!, $title: String!, $description: String) {
  issueCreate(input: { teamId: $teamId, title: $title, description: $description }) {
    success
    issue { ` + issueFields + ` }
  }
}`

const addCommentMutation = `mutation($issueId: String!, $body: String!) {
  commentCreate(input: { issueId: $issueId, body: $body }) { success }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLResponse[T any] struct {
	Data   *T             `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type issueNode struct {
	ID          string  `json:"id"`
	Identifier  string  `json:"identifier"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	URL         string  `json:"url"`
}

func (n issueNode) validate() error {
	if n.ID == "" || n.Identifier == "" || n.URL == "" {
		return fmt.Errorf("issue is missing id, identifier or url")
	}
	return nil
}

func (n issueNode) toDomain() domain.Issue {
	issue := domain.Issue{
		ID:         n.ID,
		Identifier: n.Identifier,
		Title:      n.Title,
		URL:        n.URL,
	}
	if n.Description != nil {
		issue.Description = *n.Description
	}
	return issue
}

type getIssueData struct {
	Issue *issueNode `json:"issue"`
}

type listTeamsData struct {
	Teams *struct {
		Nodes []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"teams"`
}

type createIssueData struct {
	IssueCreate *struct {
		Success bool       `json:"success"`
		Issue   *issueNode `json:"issue"`
	} `json:"issueCreate"`
}

type addCommentData struct {
	CommentCreate *struct {
		Success bool `json:"success"`
	} `json:"commentCreate"`
}

// GetIssue accepts either the UUID or the human identifier (e.g. "ENG-123").
// A null issue or an entity-not-found error maps to ErrIssueNotFound.
func (c *linearClient) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	const op = "get issue"

	resp, err := execute[getIssueData](ctx, c, op, getIssueQuery, map[string]any{"issueId": id})
	if err != nil {
		return domain.Issue{}, err
	}
	if len(resp.Errors) > 0 {
		if isNotFound(resp.Errors) {
			return domain.Issue{}, ErrIssueNotFound
		}
		return domain.Issue{}, graphQLFailure(op, resp.Errors)
	}
	if resp.Data == nil || resp.Data.Issue == nil {
		return domain.Issue{}, ErrIssueNotFound
	}
	if err := resp.Data.Issue.validate(); err != nil {
		return domain.Issue{}, service.NewUpstreamError(serviceName, op, 0, "unexpected response", err)
	}

	return resp.Data.Issue.toDomain(), nil
}

func (c *linearClient) ListTeams(ctx context.Context) ([]domain.Team, error) {
	const op = "list teams"

	resp, err := execute[listTeamsData](ctx, c, op, listTeamsQuery, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, graphQLFailure(op, resp.Errors)
	}
	if resp.Data == nil || resp.Data.Teams == nil {
		return nil, service.NewUpstreamError(serviceName, op, 0, "unexpected response", nil)
	}

	teams := make([]domain.Team, 0, len(resp.Data.Teams.Nodes))
	for _, n := range resp.Data.Teams.Nodes {
		teams = append(teams, domain.Team{ID: n.ID, Name: n.Name})
	}
	return teams, nil
}

func (c *linearClient) CreateIssue(ctx context.Context, params CreateIssueParams) (domain.Issue, error) {
	const op = "create issue"

	vars := map[string]any{
		"teamId": params.TeamID,
		"title":  params.Title,
	}
	if params.Description != "" {
		vars["description"] = params.Description
	}

	resp, err := execute[createIssueData](ctx, c, op, createIssueMutation, vars)
	if err != nil {
		return domain.Issue{}, err
	}
	if len(resp.Errors) > 0 {
		return domain.Issue{}, graphQLFailure(op, resp.Errors)
	}
	if resp.Data == nil || resp.Data.IssueCreate == nil {
		return domain.Issue{}, service.NewUpstreamError(serviceName, op, 0, "unexpected response", nil)
	}
	if !resp.Data.IssueCreate.Success || resp.Data.IssueCreate.Issue == nil {
		return domain.Issue{}, service.NewUpstreamError(serviceName, op, 0, "issue was not created", nil)
	}
	if err := resp.Data.IssueCreate.Issue.validate(); err != nil {
		return domain.Issue{}, service.NewUpstreamError(serviceName, op, 0, "unexpected response", err)
	}

	return resp.Data.IssueCreate.Issue.toDomain(), nil
}

func (c *linearClient) AddComment(ctx context.Context, issueID, body string) error {
	const op = "add comment"

	resp, err := execute[addCommentData](ctx, c, op, addCommentMutation, map[string]any{
		"issueId": issueID,
		"body":    body,
	})
	if err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return graphQLFailure(op, resp.Errors)
	}
	if resp.Data == nil || resp.Data.CommentCreate == nil {
		return service.NewUpstreamError(serviceName, op, 0, "unexpected response", nil)
	}
	if !resp.Data.CommentCreate.Success {
		return service.NewUpstreamError(serviceName, op, 0, "comment was not created", nil)
	}
	return nil
}

func execute[T any](ctx context.Context, c *linearClient, op, query string, vars map[string]any) (graphQLResponse[T], error) {
	var resp graphQLResponse[T]

	req, err := service.JSONRequest(ctx, http.MethodPost, c.apiURL, graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return resp, err
	}
	// Personal API keys are sent bare; OAuth tokens already carry their scheme.
	req.Header.Set("Authorization", c.apiKey)

	if err := service.DoJSON(c.http, serviceName, op, req, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func isNotFound(errs []graphQLError) bool {
	for _, e := range errs {
		if strings.EqualFold(e.Extensions.Code, "ENTITY_NOT_FOUND") || strings.Contains(strings.ToLower(e.Message), "not found") {
			return true
		}
	}
	return false
}

func graphQLFailure(op string, errs []graphQLError) error {
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.Message)
	}
	return service.NewUpstreamError(serviceName, op, 0, strings.Join(messages, "; "), nil)
}
