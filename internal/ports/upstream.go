package ports

import (
	"context"

	"gitstars/internal/domain/stats"
)

// UpstreamSource is the remote metadata API capability.
//
// Fetch errors are reported through the stats sentinels: ErrNotFound for
// missing or private subjects, ErrUpstream for transport failures. Quota
// reads are free metadata on the remote side and consume no allowance.
type UpstreamSource interface {
	FetchRepo(ctx context.Context, key stats.RepoKey) (stats.RepositoryStats, error)
	FetchUser(ctx context.Context, key stats.UserKey) (stats.UserStats, error)
	Quota(ctx context.Context) (stats.QuotaState, error)
}
