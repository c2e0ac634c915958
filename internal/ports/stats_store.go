package ports

import (
	"context"
	"time"

	"gitstars/internal/domain/stats"
)

// RepoRecord is a stored repository payload plus its last write time.
type RepoRecord struct {
	Payload   stats.RepositoryStats
	UpdatedAt time.Time
}

// UserRecord is a stored user payload plus its last write time.
type UserRecord struct {
	Payload   stats.UserStats
	UpdatedAt time.Time
}

// StatsStore is the local cache table for fetched statistics.
// Reads are purely local and never reach upstream. Writes replace the
// record wholesale; there is no partial merge and no eviction.
type StatsStore interface {
	GetRepo(ctx context.Context, key stats.RepoKey) (RepoRecord, bool, error)
	PutRepo(ctx context.Context, key stats.RepoKey, payload stats.RepositoryStats, now time.Time) error

	GetUser(ctx context.Context, key stats.UserKey) (UserRecord, bool, error)
	PutUser(ctx context.Context, key stats.UserKey, payload stats.UserStats, now time.Time) error

	// Counts is diagnostics only, not performance-sensitive.
	Counts(ctx context.Context) (repos int64, users int64, err error)
}
