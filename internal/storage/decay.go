package storage

import (
	"math"
	"time"
)

// Default decay parameters. Importance halves every 30 days without
// access and never decays below the floor, so old memories stay
// discoverable at low rank instead of vanishing.
const (
	DefaultDecayHalfLifeDays = 30.0
	DefaultDecayFloor        = 0.05
)

// DecayPolicy describes the time-based importance decay rule applied by
// ApplyDecay. Pinned memories are always exempt regardless of policy.
type DecayPolicy struct {
	// HalfLifeDays is the number of days for importance to halve without
	// any access.
	HalfLifeDays float64

	// Floor is the minimum importance decay can reach.
	Floor float64
}

// DefaultDecayPolicy returns the standard exponential policy.
func DefaultDecayPolicy() DecayPolicy {
	return DecayPolicy{
		HalfLifeDays: DefaultDecayHalfLifeDays,
		Floor:        DefaultDecayFloor,
	}
}

// Decayed returns the importance after decay, given the last access time
// (fall back to created_at when the memory was never read) and the
// current time. Formula: importance * 2^(-daysSince/halfLife), floored.
func (p DecayPolicy) Decayed(importance float64, lastAccess, now time.Time) float64 {
	if p.HalfLifeDays <= 0 {
		return importance
	}
	daysSince := now.Sub(lastAccess).Hours() / 24.0
	if daysSince <= 0 {
		return importance
	}
	decayed := importance * math.Pow(2, -daysSince/p.HalfLifeDays)
	if decayed < p.Floor {
		decayed = p.Floor
	}
	if decayed > importance {
		return importance
	}
	return decayed
}
