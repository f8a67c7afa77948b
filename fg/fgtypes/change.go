package fgtypes

import "math"

// ScheduledChange is a future authority-set replacement,
// anchored to a trigger block by the import path
// and taking effect delay blocks after that trigger.
type ScheduledChange struct {
	NextAuthorities Authorities
	Delay           uint64
}

// PendingChange is a scheduled change together with the block
// that anchors it in the chain.
type PendingChange struct {
	TriggerHash   Hash
	TriggerNumber uint64

	Change ScheduledChange
}

// EffectiveNumber returns the block number at which this change takes effect.
// The second return is false if trigger number plus delay overflows,
// which indicates a malformed change.
func (p PendingChange) EffectiveNumber() (uint64, bool) {
	if p.Change.Delay > math.MaxUint64-p.TriggerNumber {
		return 0, false
	}
	return p.TriggerNumber + p.Change.Delay, true
}
