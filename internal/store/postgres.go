package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bugbot.app/relay/core/db"
)

const (
	getMappingSQL = `SELECT issue_id FROM thread_issue_mappings WHERE thread_key = $1`

	putMappingSQL = `INSERT INTO thread_issue_mappings (thread_key, issue_id, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (thread_key) DO UPDATE SET issue_id = EXCLUDED.issue_id, updated_at = now()`
)

type postgresThreadIssueStore struct {
	q db.Querier
}

func NewPostgresThreadIssueStore(q db.Querier) ThreadIssueStore {
	return &postgresThreadIssueStore{q: q}
}

func (s *postgresThreadIssueStore) Get(ctx context.Context, key string) (string, error) {
	var issueID string
	if err := s.q.QueryRow(ctx, getMappingSQL, key).Scan(&issueID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("selecting mapping %s: %w", key, err)
	}
	return issueID, nil
}

func (s *postgresThreadIssueStore) Put(ctx context.Context, key, issueID string) error {
	if _, err := s.q.Exec(ctx, putMappingSQL, key, issueID); err != nil {
		return fmt.Errorf("upserting mapping %s: %w", key, err)
	}
	return nil
}
