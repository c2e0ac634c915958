package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "gitstars/internal/domain/stats"
)

type fakeQuotaSource struct {
	quota    domain.QuotaState
	quotaErr error
	calls    int
}

func (f *fakeQuotaSource) FetchRepo(_ context.Context, _ domain.RepoKey) (domain.RepositoryStats, error) {
	return domain.RepositoryStats{}, errors.New("not used")
}

func (f *fakeQuotaSource) FetchUser(_ context.Context, _ domain.UserKey) (domain.UserStats, error) {
	return domain.UserStats{}, errors.New("not used")
}

func (f *fakeQuotaSource) Quota(_ context.Context) (domain.QuotaState, error) {
	f.calls++
	return f.quota, f.quotaErr
}

func TestGuardAllowsHealthyQuota(t *testing.T) {
	source := &fakeQuotaSource{quota: domain.QuotaState{Limit: 5000, Remaining: 4000, ResetAt: time.Now()}}
	guard := NewRateLimitGuard(source, 10, 10)

	allowance, err := guard.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !allowance.AllowRefresh() || !allowance.AllowColdFetch() {
		t.Fatalf("Check() vetoed healthy quota %+v", allowance.Quota)
	}
	if allowance.Quota.Remaining != 4000 {
		t.Fatalf("Check() quota remaining = %d, want 4000", allowance.Quota.Remaining)
	}
}

func TestGuardVetoesLowPercentage(t *testing.T) {
	// 9.98% remaining, floor comfortably cleared.
	source := &fakeQuotaSource{quota: domain.QuotaState{Limit: 5000, Remaining: 499}}
	guard := NewRateLimitGuard(source, 10, 10)

	allowance, err := guard.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if allowance.AllowRefresh() {
		t.Fatalf("Check() allowed refresh below reserve percent")
	}
	// The reserve saves capacity for cold keys; it must not block them.
	if !allowance.AllowColdFetch() {
		t.Fatalf("Check() blocked cold fetch on percentage reserve alone")
	}
}

func TestGuardFloorOverridesHealthyPercentage(t *testing.T) {
	// 50% remaining of a tiny window is still below the absolute floor.
	source := &fakeQuotaSource{quota: domain.QuotaState{Limit: 10, Remaining: 5}}
	guard := NewRateLimitGuard(source, 10, 10)

	allowance, err := guard.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if allowance.AllowRefresh() || allowance.AllowColdFetch() {
		t.Fatalf("Check() allowed calls below the absolute floor")
	}
}

func TestGuardExactBoundaries(t *testing.T) {
	// Exactly at the floor and exactly at the reserve percent both pass:
	// the vetoes are strict less-than comparisons.
	source := &fakeQuotaSource{quota: domain.QuotaState{Limit: 100, Remaining: 10}}
	guard := NewRateLimitGuard(source, 10, 10)

	allowance, err := guard.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !allowance.AllowRefresh() {
		t.Fatalf("Check() vetoed at exact boundary %+v", allowance.Quota)
	}
}

func TestGuardFetchesQuotaEveryCall(t *testing.T) {
	source := &fakeQuotaSource{quota: domain.QuotaState{Limit: 5000, Remaining: 4000}}
	guard := NewRateLimitGuard(source, 10, 10)

	for i := 0; i < 3; i++ {
		if _, err := guard.Check(context.Background()); err != nil {
			t.Fatalf("Check() error = %v", err)
		}
	}
	if source.calls != 3 {
		t.Fatalf("quota fetched %d times, want 3 (never cached)", source.calls)
	}
}

func TestGuardPropagatesQuotaError(t *testing.T) {
	source := &fakeQuotaSource{quotaErr: domain.ErrUpstream}
	guard := NewRateLimitGuard(source, 10, 10)

	_, err := guard.Check(context.Background())
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("Check() error = %v, want ErrUpstream", err)
	}
}
