package stats

import (
	"time"

	"gitstars/internal/ports"
)

// Action is the freshness decision for one cached record.
type Action int

const (
	// ServeCached: return the stored payload, do not touch upstream.
	ServeCached Action = iota
	// RefreshOptional: a probabilistic refresh inside the soft/hard window.
	RefreshOptional
	// RefreshRequired: cold key or record past the hard TTL. Only the rate
	// limit guard may turn this back into serving the stored value.
	RefreshRequired
)

func (a Action) String() string {
	switch a {
	case ServeCached:
		return "serve-cached"
	case RefreshOptional:
		return "refresh-optional"
	case RefreshRequired:
		return "refresh-required"
	default:
		return "unknown"
	}
}

// FreshnessPolicy maps a record's age to an Action. Pure: all state (the
// random draw included) is passed in.
type FreshnessPolicy struct {
	SoftTTL time.Duration
	HardTTL time.Duration

	// RegenerateChance in [0,1] is the per-read probability of refreshing
	// a record inside [SoftTTL, HardTTL). Randomizing here spreads refresh
	// load across the window instead of stampeding upstream the moment a
	// popular record crosses SoftTTL.
	RegenerateChance float64
}

// Decide evaluates the rules in order. exists=false means a cold key and
// short-circuits the age checks; age is meaningless then.
func (p FreshnessPolicy) Decide(age time.Duration, exists bool, rng ports.RandomSource) Action {
	if !exists {
		return RefreshRequired
	}
	if age < p.SoftTTL {
		return ServeCached
	}
	if age < p.HardTTL {
		if rng.Float64() < p.RegenerateChance {
			return RefreshOptional
		}
		return ServeCached
	}
	return RefreshRequired
}
