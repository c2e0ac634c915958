package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gitstars/internal/bootstrap/logging"
	domain "gitstars/internal/domain/stats"
	"gitstars/internal/errs"
	"gitstars/internal/ports"
)

var errKeyRequired = errors.New("subject key is required")

// Service orchestrates one freshness decision per request: consult the
// store, apply the policy, consult the guard, call upstream if authorized,
// persist the result through the write queue.
//
// There is no single-flight deduplication. Two concurrent requests seeing
// the same stale or cold key may both refresh and both call upstream; the
// store's upsert keeps that correct, just not maximally efficient.
type Service struct {
	store    ports.StatsStore
	upstream ports.UpstreamSource
	guard    *RateLimitGuard
	policy   FreshnessPolicy
	clock    ports.Clock
	rng      ports.RandomSource
	writes   *writeQueue
}

// Options tunes orchestration behavior outside the policy/guard knobs.
type Options struct {
	// WriteQueueDepth bounds the deferred-persistence queue. Zero means
	// the default depth.
	WriteQueueDepth int
}

func NewService(
	ctx context.Context,
	store ports.StatsStore,
	upstream ports.UpstreamSource,
	guard *RateLimitGuard,
	policy FreshnessPolicy,
	clock ports.Clock,
	rng ports.RandomSource,
	opts Options,
) *Service {
	if ctx == nil {
		ctx = context.Background()
	}

	return &Service{
		store:    store,
		upstream: upstream,
		guard:    guard,
		policy:   policy,
		clock:    clock,
		rng:      rng,
		writes:   newWriteQueue(logging.WithAttrs(ctx, slog.String("component", "stats.writer")), opts.WriteQueueDepth),
	}
}

// Repository returns statistics for owner/name, serving the cache when it
// is fresh enough and refreshing from upstream otherwise.
func (s *Service) Repository(ctx context.Context, owner, name string) (domain.RepositoryStats, error) {
	key, err := repoKey(ctx, owner, name)
	if err != nil {
		return domain.RepositoryStats{}, err
	}

	record, found, err := s.store.GetRepo(ctx, key)
	if err != nil {
		return domain.RepositoryStats{}, errs.Wrap(err, "read cached repository")
	}

	age := s.age(record.UpdatedAt, found)
	action := s.policy.Decide(age, found, s.rng)
	if action == ServeCached {
		return withRepoAge(record.Payload, age), nil
	}

	serveStale, err := s.authorizeRefresh(ctx, key.Owner+"/"+key.Name, action, found)
	if err != nil {
		return domain.RepositoryStats{}, err
	}
	if serveStale {
		return withRepoAge(record.Payload, age), nil
	}

	fresh, err := s.upstream.FetchRepo(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Absence is not cached; the next request asks upstream again.
			return domain.RepositoryStats{}, err
		}
		if found {
			logging.Warn(ctx, "repository refresh failed, serving stale",
				slog.String("repo", key.Owner+"/"+key.Name), slog.Any("err", errs.Loggable(err)))
			return withRepoAge(record.Payload, age), nil
		}
		return domain.RepositoryStats{}, fmt.Errorf("refresh repository: %w: %w", domain.ErrUnavailable, err)
	}

	fetchedAt := s.clock.Now()
	s.writes.enqueue(ctx, func(wctx context.Context) error {
		return s.store.PutRepo(wctx, key, fresh, fetchedAt)
	})

	fresh.AgeMinutes = 0
	return fresh, nil
}

// User returns statistics for a login, with the same cache flow as
// Repository.
func (s *Service) User(ctx context.Context, login string) (domain.UserStats, error) {
	key, err := userKey(ctx, login)
	if err != nil {
		return domain.UserStats{}, err
	}

	record, found, err := s.store.GetUser(ctx, key)
	if err != nil {
		return domain.UserStats{}, errs.Wrap(err, "read cached user")
	}

	age := s.age(record.UpdatedAt, found)
	action := s.policy.Decide(age, found, s.rng)
	if action == ServeCached {
		return withUserAge(record.Payload, age), nil
	}

	serveStale, err := s.authorizeRefresh(ctx, key.Login, action, found)
	if err != nil {
		return domain.UserStats{}, err
	}
	if serveStale {
		return withUserAge(record.Payload, age), nil
	}

	fresh, err := s.upstream.FetchUser(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.UserStats{}, err
		}
		if found {
			logging.Warn(ctx, "user refresh failed, serving stale",
				slog.String("login", key.Login), slog.Any("err", errs.Loggable(err)))
			return withUserAge(record.Payload, age), nil
		}
		return domain.UserStats{}, fmt.Errorf("refresh user: %w: %w", domain.ErrUnavailable, err)
	}

	fetchedAt := s.clock.Now()
	s.writes.enqueue(ctx, func(wctx context.Context) error {
		return s.store.PutUser(wctx, key, fresh, fetchedAt)
	})

	fresh.AgeMinutes = 0
	return fresh, nil
}

// Quota exposes the live upstream rate-limit window.
func (s *Service) Quota(ctx context.Context) (domain.QuotaState, error) {
	if ctx == nil {
		return domain.QuotaState{}, errors.New("context is required")
	}
	return s.upstream.Quota(ctx)
}

// Counts reports how many records of each kind are cached.
func (s *Service) Counts(ctx context.Context) (repos int64, users int64, err error) {
	if ctx == nil {
		return 0, 0, errors.New("context is required")
	}
	return s.store.Counts(ctx)
}

// Flush waits for all deferred cache writes enqueued so far.
func (s *Service) Flush(ctx context.Context) error {
	return s.writes.Flush(ctx)
}

// Close drains and stops the write queue.
func (s *Service) Close() {
	s.writes.Close()
}

// authorizeRefresh runs the guard for a refresh decision. It reports
// serveStale=true when the refresh was vetoed (or the quota read failed)
// and a cached record exists to fall back on; with no record it returns
// ErrUnavailable. Cold keys are gated by the absolute floor only; the
// percentage reserve exists to save calls for exactly these first-time
// fetches. A RefreshRequired action gets no special treatment here: the
// guard's veto is the only thing allowed to downgrade it.
func (s *Service) authorizeRefresh(ctx context.Context, subject string, action Action, found bool) (bool, error) {
	allowance, err := s.guard.Check(ctx)
	if err != nil {
		if found {
			logging.Warn(ctx, "quota check failed, serving stale",
				slog.String("subject", subject), slog.Any("err", errs.Loggable(err)))
			return true, nil
		}
		return false, fmt.Errorf("authorize refresh: %w: %w", domain.ErrUnavailable, err)
	}

	allowed := allowance.AllowColdFetch()
	if found {
		allowed = allowance.AllowRefresh()
	}
	if allowed {
		return false, nil
	}

	logging.Info(ctx, "refresh vetoed by rate limit guard",
		slog.String("subject", subject),
		slog.String("action", action.String()),
		slog.Int("remaining", allowance.Quota.Remaining),
		slog.Int("limit", allowance.Quota.Limit))

	if found {
		return true, nil
	}
	return false, fmt.Errorf("refresh vetoed for cold key: %w", domain.ErrUnavailable)
}

func (s *Service) age(updatedAt time.Time, found bool) time.Duration {
	if !found {
		return 0
	}
	return s.clock.Now().Sub(updatedAt)
}

// Keys are lowercased before hitting the store: GitHub treats owner, repo
// and login names case-insensitively, and one row per subject beats one row
// per casing. Canonical casing still comes back inside the payload.
func repoKey(ctx context.Context, owner, name string) (domain.RepoKey, error) {
	if ctx == nil {
		return domain.RepoKey{}, errors.New("context is required")
	}

	owner = strings.ToLower(strings.TrimSpace(owner))
	name = strings.ToLower(strings.TrimSpace(name))
	if owner == "" || name == "" {
		return domain.RepoKey{}, errKeyRequired
	}
	return domain.RepoKey{Owner: owner, Name: name}, nil
}

func userKey(ctx context.Context, login string) (domain.UserKey, error) {
	if ctx == nil {
		return domain.UserKey{}, errors.New("context is required")
	}

	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" {
		return domain.UserKey{}, errKeyRequired
	}
	return domain.UserKey{Login: login}, nil
}

func withRepoAge(payload domain.RepositoryStats, age time.Duration) domain.RepositoryStats {
	payload.AgeMinutes = int(age.Minutes())
	return payload
}

func withUserAge(payload domain.UserStats, age time.Duration) domain.UserStats {
	payload.AgeMinutes = int(age.Minutes())
	return payload
}
