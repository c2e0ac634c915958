package stats

import (
	"context"
	"errors"

	domain "gitstars/internal/domain/stats"
	"gitstars/internal/errs"
	"gitstars/internal/ports"
)

// Allowance is the guard's verdict plus the quota snapshot it was based on.
// The two breach conditions are kept separate because they gate different
// paths: the reserve protects refreshes of records we already hold, while
// the floor blocks everything, cold first-time fetches included.
type Allowance struct {
	Quota domain.QuotaState

	FloorBreached   bool
	ReserveBreached bool
}

// AllowRefresh reports whether a refresh of an existing record may proceed.
func (a Allowance) AllowRefresh() bool {
	return !a.FloorBreached && !a.ReserveBreached
}

// AllowColdFetch reports whether a first-time fetch may proceed. Only the
// absolute floor applies: a cold key has nothing to serve stale, so the
// percentage reserve does not veto it.
func (a Allowance) AllowColdFetch() bool {
	return !a.FloorBreached
}

// RateLimitGuard vetoes refreshes when the remote quota is running low.
// It asks upstream for the live window on every call; the quota endpoint
// itself is free, so checking costs nothing.
type RateLimitGuard struct {
	source ports.UpstreamSource

	// ReservePercent: veto when less than this share of the window remains.
	// Scales down gracefully for small total quotas.
	ReservePercent float64
	// AbsoluteFloor: unconditional hard stop, applied even to cold-key
	// fetches, so the process can never drive the quota to zero.
	AbsoluteFloor int
}

func NewRateLimitGuard(source ports.UpstreamSource, reservePercent float64, absoluteFloor int) *RateLimitGuard {
	return &RateLimitGuard{
		source:         source,
		ReservePercent: reservePercent,
		AbsoluteFloor:  absoluteFloor,
	}
}

func (g *RateLimitGuard) Check(ctx context.Context) (Allowance, error) {
	if ctx == nil {
		return Allowance{}, errors.New("context is required")
	}

	quota, err := g.source.Quota(ctx)
	if err != nil {
		return Allowance{}, errs.Wrap(err, "check rate limit")
	}

	return Allowance{
		Quota:           quota,
		FloorBreached:   quota.Remaining < g.AbsoluteFloor,
		ReserveBreached: quota.RemainingPercent() < g.ReservePercent,
	}, nil
}
