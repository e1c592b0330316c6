package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisThreadIssueStore struct {
	client *redis.Client
	prefix string
}

// NewRedisThreadIssueStore stores mappings as plain string keys, optionally namespaced by prefix.
func NewRedisThreadIssueStore(client *redis.Client, prefix string) ThreadIssueStore {
	return &redisThreadIssueStore{client: client, prefix: prefix}
}

func (s *redisThreadIssueStore) Get(ctx context.Context, key string) (string, error) {
	issueID, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return issueID, nil
}

func (s *redisThreadIssueStore) Put(ctx context.Context, key, issueID string) error {
	if err := s.client.Set(ctx, s.prefix+key, issueID, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
