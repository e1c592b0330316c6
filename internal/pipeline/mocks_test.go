package pipeline_test

import (
	"context"
	"fmt"

	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/pipeline"
	"bugbot.app/relay/internal/service/issue_tracker"
	"bugbot.app/relay/internal/store"
)

type posted struct {
	ChannelID string
	Content   string
}

type mockChat struct {
	posts  []posted
	postFn func(channelID, content string) error
}

func (m *mockChat) FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]domain.RecentMessage, error) {
	return nil, nil
}

func (m *mockChat) PostMessage(ctx context.Context, channelID, content string) error {
	m.posts = append(m.posts, posted{ChannelID: channelID, Content: content})
	if m.postFn != nil {
		return m.postFn(channelID, content)
	}
	return nil
}

// mockTracker keeps issues in memory, keyed by both id and identifier.
type mockTracker struct {
	issues    map[string]domain.Issue
	teams     []domain.Team
	created   []issue_tracker.CreateIssueParams
	comments  map[string][]string
	listCalls int

	getIssueFn   func(id string) (domain.Issue, error)
	addCommentFn func(issueID, body string) error
}

func newMockTracker() *mockTracker {
	return &mockTracker{
		issues:   map[string]domain.Issue{},
		teams:    []domain.Team{{ID: "team-1", Name: "Eng"}, {ID: "team-2", Name: "Ops"}},
		comments: map[string][]string{},
	}
}

func (m *mockTracker) add(issue domain.Issue) {
	m.issues[issue.ID] = issue
	m.issues[issue.Identifier] = issue
}

func (m *mockTracker) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	if m.getIssueFn != nil {
		return m.getIssueFn(id)
	}
	issue, ok := m.issues[id]
	if !ok {
		return domain.Issue{}, issue_tracker.ErrIssueNotFound
	}
	return issue, nil
}

func (m *mockTracker) ListTeams(ctx context.Context) ([]domain.Team, error) {
	m.listCalls++
	return m.teams, nil
}

func (m *mockTracker) CreateIssue(ctx context.Context, params issue_tracker.CreateIssueParams) (domain.Issue, error) {
	m.created = append(m.created, params)
	n := len(m.created) + 100
	issue := domain.Issue{
		ID:          fmt.Sprintf("uuid-%d", n),
		Identifier:  fmt.Sprintf("ENG-%d", n),
		Title:       params.Title,
		Description: params.Description,
		URL:         fmt.Sprintf("https://linear.app/acme/issue/ENG-%d", n),
	}
	m.add(issue)
	return issue, nil
}

func (m *mockTracker) AddComment(ctx context.Context, issueID, body string) error {
	if m.addCommentFn != nil {
		if err := m.addCommentFn(issueID, body); err != nil {
			return err
		}
	}
	m.comments[issueID] = append(m.comments[issueID], body)
	return nil
}

type mockAnalytics struct {
	bySession map[string]domain.Recording
	byEmail   map[string][]domain.Recording
	err       error
	limit     int
}

func (m *mockAnalytics) FindRecordingsForUser(ctx context.Context, email string, limit int) ([]domain.Recording, error) {
	m.limit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.byEmail[email], nil
}

func (m *mockAnalytics) FindRecordingBySession(ctx context.Context, sessionID string) (*domain.Recording, error) {
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.bySession[sessionID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

type mockMappings struct {
	data  map[string]string
	getFn func(key string) (string, error)
}

func (m *mockMappings) Get(ctx context.Context, key string) (string, error) {
	if m.getFn != nil {
		return m.getFn(key)
	}
	v, ok := m.data[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (m *mockMappings) Put(ctx context.Context, key, issueID string) error {
	m.data[key] = issueID
	return nil
}

type mockFixer struct {
	requests []pipeline.FixRequest
	result   domain.FixResult
}

func (m *mockFixer) Generate(ctx context.Context, req pipeline.FixRequest) domain.FixResult {
	m.requests = append(m.requests, req)
	return m.result
}
