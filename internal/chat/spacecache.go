package chat

import (
	"context"
	"time"
)

// SpaceEntry is a cached DM space handle for one user.
type SpaceEntry struct {
	Email       string    `json:"email"`
	SpaceHandle string    `json:"spaceHandle"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SpaceCache memoizes DM space handles keyed by user id. A nil entry with
// nil error is a cache miss.
type SpaceCache interface {
	Get(ctx context.Context, userID string) (*SpaceEntry, error)
	Put(ctx context.Context, userID string, entry SpaceEntry) error
}
