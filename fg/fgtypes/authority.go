package fgtypes

import (
	"fmt"

	"github.com/gordian-engine/gfg/gcrypto"
)

// Authority is a single entry in an authority set:
// a voter entitled to cast prevotes and precommits,
// identified by its public key and carrying a voting weight.
type Authority struct {
	PubKey gcrypto.PubKey
	Weight uint64
}

// Authorities is an ordered list of authorities.
type Authorities []Authority

// TotalWeight returns the sum of all authority weights.
func (as Authorities) TotalWeight() uint64 {
	var total uint64
	for _, a := range as {
		total += a.Weight
	}
	return total
}

// Threshold returns the minimum cumulative weight
// that strictly exceeds two thirds of the total weight.
func (as Authorities) Threshold() uint64 {
	return 2*as.TotalWeight()/3 + 1
}

// Index returns the position of the authority with the given key,
// or -1 if the key is not in the list.
func (as Authorities) Index(k gcrypto.PubKey) int {
	for i, a := range as {
		if a.PubKey.Equal(k) {
			return i
		}
	}
	return -1
}

// Clone returns a copy of the list whose backing array
// is not shared with the original.
func (as Authorities) Clone() Authorities {
	out := make(Authorities, len(as))
	copy(out, as)
	return out
}

// Validate confirms the list is usable as an authority set:
// non-empty, positive weights, and no duplicate keys.
func (as Authorities) Validate() error {
	if len(as) == 0 {
		return fmt.Errorf("authority list must not be empty")
	}

	for i, a := range as {
		if a.PubKey == nil {
			return fmt.Errorf("authority at index %d has nil public key", i)
		}
		if a.Weight == 0 {
			return fmt.Errorf("authority at index %d has zero weight", i)
		}
		for _, prev := range as[:i] {
			if prev.PubKey.Equal(a.PubKey) {
				return fmt.Errorf("duplicate authority key %x", a.PubKey.Address())
			}
		}
	}

	return nil
}

// Equal reports whether the two lists have the same keys and weights
// in the same order.
func (as Authorities) Equal(other Authorities) bool {
	if len(as) != len(other) {
		return false
	}
	for i, a := range as {
		if a.Weight != other[i].Weight || !a.PubKey.Equal(other[i].PubKey) {
			return false
		}
	}
	return true
}
