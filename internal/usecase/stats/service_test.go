package stats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	domain "gitstars/internal/domain/stats"
	storeinfra "gitstars/internal/infrastructure/store"
	"gitstars/internal/ports"
)

type fakeUpstream struct {
	repo      domain.RepositoryStats
	repoErr   error
	repoCalls int

	user      domain.UserStats
	userErr   error
	userCalls int

	quota      domain.QuotaState
	quotaErr   error
	quotaCalls int
}

func (f *fakeUpstream) FetchRepo(_ context.Context, _ domain.RepoKey) (domain.RepositoryStats, error) {
	f.repoCalls++
	return f.repo, f.repoErr
}

func (f *fakeUpstream) FetchUser(_ context.Context, _ domain.UserKey) (domain.UserStats, error) {
	f.userCalls++
	return f.user, f.userErr
}

func (f *fakeUpstream) Quota(_ context.Context) (domain.QuotaState, error) {
	f.quotaCalls++
	return f.quota, f.quotaErr
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func setupStore(t *testing.T) *storeinfra.SQLiteStore {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	st := storeinfra.NewSQLiteStore(db)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func setupService(t *testing.T, up *fakeUpstream, clock *fakeClock, roll float64) (*Service, *storeinfra.SQLiteStore) {
	t.Helper()

	st := setupStore(t)
	guard := NewRateLimitGuard(up, 10, 10)
	svc := NewService(
		context.Background(),
		st,
		up,
		guard,
		testPolicy(),
		clock,
		ports.RandomFunc(func() float64 { return roll }),
		Options{WriteQueueDepth: 4},
	)
	t.Cleanup(svc.Close)
	return svc, st
}

func healthyQuota() domain.QuotaState {
	return domain.QuotaState{Limit: 5000, Remaining: 4000, ResetAt: time.Now().Add(time.Hour)}
}

func seedRepo(t *testing.T, st *storeinfra.SQLiteStore, clock *fakeClock, age time.Duration, payload domain.RepositoryStats) {
	t.Helper()
	key := domain.RepoKey{Owner: strings.ToLower(payload.Owner), Name: strings.ToLower(payload.Repository)}
	if err := st.PutRepo(context.Background(), key, payload, clock.now.Add(-age)); err != nil {
		t.Fatalf("seed repo: %v", err)
	}
}

func TestServiceServesFreshRecordWithoutUpstream(t *testing.T) {
	up := &fakeUpstream{quota: healthyQuota()}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, st := setupService(t, up, clock, 0.0)

	seedRepo(t, st, clock, 30*time.Minute, domain.RepositoryStats{
		Owner: "golang", Repository: "go", Stargazers: 120000,
	})

	got, err := svc.Repository(context.Background(), "golang", "go")
	if err != nil {
		t.Fatalf("Repository() error = %v", err)
	}
	if got.Stargazers != 120000 {
		t.Fatalf("Repository() stargazers = %d, want cached 120000", got.Stargazers)
	}
	if got.AgeMinutes != 30 {
		t.Fatalf("Repository() age = %d, want 30", got.AgeMinutes)
	}
	if up.repoCalls != 0 || up.quotaCalls != 0 {
		t.Fatalf("fresh record touched upstream: repo=%d quota=%d", up.repoCalls, up.quotaCalls)
	}
}

func TestServiceColdKeyFetchesAndPersists(t *testing.T) {
	up := &fakeUpstream{
		repo:  domain.RepositoryStats{Owner: "golang", Repository: "go", Stargazers: 125000},
		quota: healthyQuota(),
	}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, st := setupService(t, up, clock, 0.99)

	got, err := svc.Repository(context.Background(), "golang", "go")
	if err != nil {
		t.Fatalf("Repository() error = %v", err)
	}
	if got.AgeMinutes != 0 {
		t.Fatalf("Repository() age = %d, want 0 for fresh fetch", got.AgeMinutes)
	}
	if up.repoCalls != 1 {
		t.Fatalf("Repository() upstream calls = %d, want 1", up.repoCalls)
	}

	if err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	record, found, err := st.GetRepo(context.Background(), domain.RepoKey{Owner: "golang", Name: "go"})
	if err != nil || !found {
		t.Fatalf("GetRepo() after flush = found=%v err=%v", found, err)
	}
	if record.Payload.Stargazers != 125000 {
		t.Fatalf("persisted stargazers = %d, want 125000", record.Payload.Stargazers)
	}

	// Immediate re-read is served from the cache at age 0.
	again, err := svc.Repository(context.Background(), "golang", "go")
	if err != nil {
		t.Fatalf("Repository() second call error = %v", err)
	}
	if again.AgeMinutes != 0 {
		t.Fatalf("second read age = %d, want 0", again.AgeMinutes)
	}
	if up.repoCalls != 1 {
		t.Fatalf("second read hit upstream: calls = %d", up.repoCalls)
	}
}

func TestServiceHardExpiredRefreshes(t *testing.T) {
	up := &fakeUpstream{
		repo:  domain.RepositoryStats{Owner: "golang", Repository: "go", Stargazers: 130000},
		quota: healthyQuota(),
	}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, st := setupService(t, up, clock, 0.99)

	seedRepo(t, st, clock, 700*time.Minute, domain.RepositoryStats{
		Owner: "golang", Repository: "go", Stargazers: 120000,
	})

	got, err := svc.Repository(context.Background(), "golang", "go")
	if err != nil {
		t.Fatalf("Repository() error = %v", err)
	}
	if got.Stargazers != 130000 || got.AgeMinutes != 0 {
		t.Fatalf("Repository() = stargazers=%d age=%d, want fresh 130000/0", got.Stargazers, got.AgeMinutes)
	}
	if up.repoCalls != 1 {
		t.Fatalf("upstream calls = %d, want exactly 1", up.repoCalls)
	}

	if err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	again, err := svc.Repository(context.Background(), "golang", "go")
	if err != nil {
		t.Fatalf("Repository() after refresh error = %v", err)
	}
	if again.AgeMinutes != 0 || again.Stargazers != 130000 {
		t.Fatalf("read after refresh = stargazers=%d age=%d, want 130000/0", again.Stargazers, again.AgeMinutes)
	}
}

func TestServiceVetoServesStaleUnchanged(t *testing.T) {
	up := &fakeUpstream{
		repo:  domain.RepositoryStats{Owner: "golang", Repository: "go", Stargazers: 130000},
		quota: domain.QuotaState{Limit: 5000, Remaining: 100}, // 2% < 10% reserve
	}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, st := setupService(t, up, clock, 0.99)

	seedRepo(t, st, clock, 700*time.Minute, domain.RepositoryStats{
		Owner: "golang", Repository: "go", Stargazers: 120000,
	})

	got, err := svc.Repository(context.Background(), "golang", "go")
	if err != nil {
		t.Fatalf("Repository() error = %v", err)
	}
	if got.Stargazers != 120000 {
		t.Fatalf("veto served stargazers = %d, want prior 120000", got.Stargazers)
	}
	if got.AgeMinutes != 700 {
		t.Fatalf("veto served age = %d, want preserved 700", got.AgeMinutes)
	}
	if up.repoCalls != 0 {
		t.Fatalf("vetoed refresh still called upstream %d times", up.repoCalls)
	}
}

func TestServiceColdKeyVetoedIsUnavailable(t *testing.T) {
	up := &fakeUpstream{quota: domain.QuotaState{Limit: 5000, Remaining: 5}} // below floor
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, _ := setupService(t, up, clock, 0.99)

	_, err := svc.Repository(context.Background(), "golang", "go")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("Repository() error = %v, want ErrUnavailable", err)
	}
	if up.repoCalls != 0 {
		t.Fatalf("floor breach still called upstream %d times", up.repoCalls)
	}
}

func TestServiceFloorBlocksColdFetchDespiteHealthyPercent(t *testing.T) {
	// 40% of a tiny window remains, but the absolute floor wins.
	up := &fakeUpstream{quota: domain.QuotaState{Limit: 20, Remaining: 8}}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, _ := setupService(t, up, clock, 0.99)

	_, err := svc.Repository(context.Background(), "golang", "go")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("Repository() error = %v, want ErrUnavailable", err)
	}
}

func TestServiceColdFetchIgnoresPercentageReserve(t *testing.T) {
	// 2% remaining is under the 10% reserve, but well over the floor of 10.
	up := &fakeUpstream{
		repo:  domain.RepositoryStats{Owner: "golang", Repository: "go", Stargazers: 1},
		quota: domain.QuotaState{Limit: 5000, Remaining: 100},
	}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, _ := setupService(t, up, clock, 0.99)

	got, err := svc.Repository(context.Background(), "golang", "go")
	if err != nil {
		t.Fatalf("Repository() error = %v, cold fetch should pass the reserve", err)
	}
	if got.AgeMinutes != 0 || up.repoCalls != 1 {
		t.Fatalf("cold fetch under reserve: age=%d calls=%d", got.AgeMinutes, up.repoCalls)
	}
}

func TestServiceWindowOptionalRefresh(t *testing.T) {
	up := &fakeUpstream{
		repo:  domain.RepositoryStats{Owner: "golang", Repository: "go", Stargazers: 130000},
		quota: healthyQuota(),
	}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	// Roll under the chance: refresh happens.
	svc, st := setupService(t, up, clock, 0.1)
	seedRepo(t, st, clock, 120*time.Minute, domain.RepositoryStats{
		Owner: "golang", Repository: "go", Stargazers: 120000,
	})

	got, err := svc.Repository(context.Background(), "golang", "go")
	if err != nil {
		t.Fatalf("Repository() error = %v", err)
	}
	if got.Stargazers != 130000 || up.repoCalls != 1 {
		t.Fatalf("window roll<chance: stargazers=%d calls=%d, want refresh", got.Stargazers, up.repoCalls)
	}
}

func TestServiceNotFoundIsNeverCached(t *testing.T) {
	up := &fakeUpstream{repoErr: domain.ErrNotFound, quota: healthyQuota()}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, st := setupService(t, up, clock, 0.99)

	for i := 0; i < 2; i++ {
		_, err := svc.Repository(context.Background(), "nobody", "nothing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Repository() call %d error = %v, want ErrNotFound", i+1, err)
		}
	}
	// Absence is not cached: every request goes upstream again.
	if up.repoCalls != 2 {
		t.Fatalf("upstream calls = %d, want 2", up.repoCalls)
	}

	if err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	_, found, err := st.GetRepo(context.Background(), domain.RepoKey{Owner: "nobody", Name: "nothing"})
	if err != nil {
		t.Fatalf("GetRepo() error = %v", err)
	}
	if found {
		t.Fatalf("not-found subject was cached")
	}
}

func TestServiceTransportErrorFallsBackToStale(t *testing.T) {
	up := &fakeUpstream{repoErr: domain.ErrUpstream, quota: healthyQuota()}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, st := setupService(t, up, clock, 0.99)

	seedRepo(t, st, clock, 700*time.Minute, domain.RepositoryStats{
		Owner: "golang", Repository: "go", Stargazers: 120000,
	})

	got, err := svc.Repository(context.Background(), "golang", "go")
	if err != nil {
		t.Fatalf("Repository() error = %v, want stale fallback", err)
	}
	if got.Stargazers != 120000 || got.AgeMinutes != 700 {
		t.Fatalf("stale fallback = stargazers=%d age=%d", got.Stargazers, got.AgeMinutes)
	}
}

func TestServiceTransportErrorColdIsUnavailable(t *testing.T) {
	up := &fakeUpstream{repoErr: domain.ErrUpstream, quota: healthyQuota()}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, _ := setupService(t, up, clock, 0.99)

	_, err := svc.Repository(context.Background(), "golang", "go")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("Repository() error = %v, want ErrUnavailable", err)
	}
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("Repository() error = %v, want chain to include ErrUpstream", err)
	}
}

func TestServiceQuotaErrorServesStale(t *testing.T) {
	up := &fakeUpstream{quotaErr: domain.ErrUpstream}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, st := setupService(t, up, clock, 0.99)

	seedRepo(t, st, clock, 700*time.Minute, domain.RepositoryStats{
		Owner: "golang", Repository: "go", Stargazers: 120000,
	})

	got, err := svc.Repository(context.Background(), "golang", "go")
	if err != nil {
		t.Fatalf("Repository() error = %v, want stale fallback on quota failure", err)
	}
	if got.Stargazers != 120000 {
		t.Fatalf("stale fallback stargazers = %d", got.Stargazers)
	}
}

func TestServiceUserFlow(t *testing.T) {
	up := &fakeUpstream{
		user:  domain.UserStats{Login: "octocat", Followers: 9000},
		quota: healthyQuota(),
	}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, _ := setupService(t, up, clock, 0.99)

	got, err := svc.User(context.Background(), "octocat")
	if err != nil {
		t.Fatalf("User() error = %v", err)
	}
	if got.Followers != 9000 || got.AgeMinutes != 0 {
		t.Fatalf("User() = %+v, want fresh payload", got)
	}

	if err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	again, err := svc.User(context.Background(), "octocat")
	if err != nil {
		t.Fatalf("User() second call error = %v", err)
	}
	if again.Followers != 9000 || up.userCalls != 1 {
		t.Fatalf("second User() read = %+v calls=%d, want cached", again, up.userCalls)
	}
}

func TestServiceKeysAreCaseInsensitive(t *testing.T) {
	up := &fakeUpstream{
		repo:  domain.RepositoryStats{Owner: "GoLang", Repository: "Go", Stargazers: 1},
		quota: healthyQuota(),
	}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, _ := setupService(t, up, clock, 0.99)

	if _, err := svc.Repository(context.Background(), "GOLANG", "GO"); err != nil {
		t.Fatalf("Repository() error = %v", err)
	}
	if err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if _, err := svc.Repository(context.Background(), "golang", "go"); err != nil {
		t.Fatalf("Repository() lowercase error = %v", err)
	}
	if up.repoCalls != 1 {
		t.Fatalf("differing casings caused %d upstream calls, want 1", up.repoCalls)
	}
}

func TestServiceRejectsEmptyKeys(t *testing.T) {
	up := &fakeUpstream{quota: healthyQuota()}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, _ := setupService(t, up, clock, 0.99)

	if _, err := svc.Repository(context.Background(), " ", "go"); err == nil {
		t.Fatalf("Repository() expected error for empty owner")
	}
	if _, err := svc.User(context.Background(), ""); err == nil {
		t.Fatalf("User() expected error for empty login")
	}
}

func TestServiceCountsAndQuotaPassthrough(t *testing.T) {
	up := &fakeUpstream{quota: domain.QuotaState{Limit: 60, Remaining: 42}}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	svc, st := setupService(t, up, clock, 0.99)

	seedRepo(t, st, clock, time.Minute, domain.RepositoryStats{Owner: "golang", Repository: "go"})

	repos, users, err := svc.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if repos != 1 || users != 0 {
		t.Fatalf("Counts() = %d/%d, want 1/0", repos, users)
	}

	quota, err := svc.Quota(context.Background())
	if err != nil {
		t.Fatalf("Quota() error = %v", err)
	}
	if quota.Remaining != 42 {
		t.Fatalf("Quota() remaining = %d, want 42", quota.Remaining)
	}
}
