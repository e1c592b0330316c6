package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// ThreadIssueStore maps a chat thread (or channel) to the tracker issue created for it.
// Last writer wins; there is no compare-and-set.
type ThreadIssueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, issueID string) error
}

// ThreadKey builds the mapping key "<platform>:<thread-or-channel id>".
func ThreadKey(platform, threadOrChannelID string) string {
	return platform + ":" + threadOrChannelID
}
