package fgauthority

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordian-engine/gfg/fg/fgchain"
	"github.com/gordian-engine/gfg/fg/fgtypes"
)

// StoreKey is the fixed auxiliary-store key
// under which the authority-set record is persisted.
var StoreKey = []byte("gfg/authority-set")

var (
	// ErrDuplicateChange is returned by AddPendingChange
	// when the trigger block already holds a pending change.
	ErrDuplicateChange = errors.New("a change is already pending for this trigger block")

	// ErrMalformedChange is returned for changes that can never trigger,
	// such as a delay overflowing the trigger number.
	ErrMalformedChange = errors.New("malformed scheduled change")

	// ErrConflictingChanges is returned by ApplyChangesUpTo
	// when more than one pending change is eligible on the finalized line.
	// Honest voters clamp their vote targets to enactment boundaries,
	// so hitting this indicates a corrupted change set.
	ErrConflictingChanges = errors.New("multiple pending changes eligible on the finalized chain")
)

// Ancestry is the subset of the chain client
// that the set needs to resolve pending changes across forks.
type Ancestry interface {
	IsDescendantOrEqual(ctx context.Context, ancestor, head fgtypes.Hash) (bool, error)
}

// Record is the plain persisted form of a Set:
// the current set id and authorities,
// plus pending changes in insertion order.
type Record struct {
	SetID          uint64
	Authorities    fgtypes.Authorities
	PendingChanges []fgtypes.PendingChange
}

// Clone returns a copy sharing no mutable state with the original.
func (r Record) Clone() Record {
	out := Record{
		SetID:       r.SetID,
		Authorities: r.Authorities.Clone(),
	}
	if r.PendingChanges != nil {
		out.PendingChanges = make([]fgtypes.PendingChange, len(r.PendingChanges))
		copy(out.PendingChanges, r.PendingChanges)
	}
	return out
}

// Enacted describes the outcome of applying a pending change.
type Enacted struct {
	SetID       uint64
	Authorities fgtypes.Authorities
}

// Set tracks the active authority set and its pending changes.
//
// The block import hook appends pending changes while the voter
// reads snapshots and enacts changes at finalization,
// so all methods are safe for concurrent use.
// Snapshots are copy-on-write: slices handed out are never mutated.
type Set struct {
	mu  sync.Mutex
	cur Record
}

// NewGenesisSet returns a Set at set id 0 with the given authorities
// and no pending changes.
func NewGenesisSet(authorities fgtypes.Authorities) (*Set, error) {
	return NewSetFromRecord(Record{Authorities: authorities})
}

// NewSetFromRecord restores a Set from a persisted record.
func NewSetFromRecord(r Record) (*Set, error) {
	if err := r.Authorities.Validate(); err != nil {
		return nil, fmt.Errorf("invalid authority list: %w", err)
	}
	for _, pc := range r.PendingChanges {
		if err := pc.Change.NextAuthorities.Validate(); err != nil {
			return nil, fmt.Errorf("invalid pending change at block %d: %w", pc.TriggerNumber, err)
		}
	}

	s := &Set{cur: r.Clone()}
	return s, nil
}

// Current returns the active set id and authority list.
// The returned slice is a snapshot and is never mutated by the Set.
func (s *Set) Current() (uint64, fgtypes.Authorities) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cur.SetID, s.cur.Authorities
}

// Record returns a deep copy of the current state for persistence.
func (s *Set) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cur.Clone()
}

// AddPendingChange schedules a change anchored at the given trigger block.
func (s *Set) AddPendingChange(
	triggerHash fgtypes.Hash,
	triggerNumber uint64,
	change fgtypes.ScheduledChange,
) error {
	if err := change.NextAuthorities.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedChange, err)
	}

	pc := fgtypes.PendingChange{
		TriggerHash:   triggerHash,
		TriggerNumber: triggerNumber,
		Change:        change,
	}
	if _, ok := pc.EffectiveNumber(); !ok {
		return fmt.Errorf(
			"%w: delay %d overflows trigger number %d",
			ErrMalformedChange, change.Delay, triggerNumber,
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.cur.PendingChanges {
		if existing.TriggerHash == triggerHash {
			return fmt.Errorf("%w: trigger block %s", ErrDuplicateChange, triggerHash)
		}
	}

	next := s.cur.Clone()
	next.PendingChanges = append(next.PendingChanges, pc)
	s.cur = next

	return nil
}

// ApplyChangesUpTo enacts at most one pending change
// whose trigger lies on the path to the newly finalized block
// and whose delay has elapsed, bumping the set id.
// Changes stranded on forks pruned by this finalization are discarded.
//
// The returned Enacted is nil when no change applied.
// Calling again with the same finalized block is a no-op.
func (s *Set) ApplyChangesUpTo(
	ctx context.Context,
	anc Ancestry,
	finalizedHash fgtypes.Hash,
	finalizedNumber uint64,
) (*Enacted, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cur.PendingChanges) == 0 {
		return nil, nil
	}

	applyIdx := -1
	kept := make([]fgtypes.PendingChange, 0, len(s.cur.PendingChanges))

	for i, pc := range s.cur.PendingChanges {
		eff, ok := pc.EffectiveNumber()
		if !ok {
			// Rejected at insertion; only reachable via a corrupt persisted record.
			return nil, fmt.Errorf(
				"%w: pending change at block %d has overflowing delay",
				ErrMalformedChange, pc.TriggerNumber,
			)
		}

		onLine, err := reachable(ctx, anc, pc.TriggerHash, finalizedHash)
		if err != nil {
			return nil, fmt.Errorf("failed to check ancestry of pending change trigger %s: %w", pc.TriggerHash, err)
		}

		switch {
		case onLine == reachNone:
			// Stranded on a fork pruned by this finalization; drop.
			continue
		case onLine == reachAncestor && eff <= finalizedNumber:
			if applyIdx >= 0 {
				return nil, fmt.Errorf(
					"%w: triggers at blocks %d and %d both effective at finalized number %d",
					ErrConflictingChanges,
					s.cur.PendingChanges[applyIdx].TriggerNumber, pc.TriggerNumber, finalizedNumber,
				)
			}
			applyIdx = i
		default:
			kept = append(kept, pc)
		}
	}

	if applyIdx < 0 {
		if len(kept) != len(s.cur.PendingChanges) {
			next := s.cur.Clone()
			next.PendingChanges = kept
			s.cur = next
		}
		return nil, nil
	}

	applied := s.cur.PendingChanges[applyIdx]

	next := Record{
		SetID:          s.cur.SetID + 1,
		Authorities:    applied.Change.NextAuthorities.Clone(),
		PendingChanges: kept,
	}
	s.cur = next

	return &Enacted{
		SetID:       next.SetID,
		Authorities: next.Authorities,
	}, nil
}

// EffectiveBlockOnChain returns the lowest effective number
// among pending changes anchored on the chain leading to head,
// clamped as a voting limit: the second return is false
// when no pending change constrains the given chain.
//
// Voters never vote past this number,
// so finalization lands exactly on enactment boundaries.
func (s *Set) EffectiveBlockOnChain(
	ctx context.Context,
	anc Ancestry,
	head fgtypes.Hash,
) (uint64, bool, error) {
	s.mu.Lock()
	pending := s.cur.PendingChanges
	s.mu.Unlock()

	var (
		limit uint64
		found bool
	)

	for _, pc := range pending {
		ok, err := anc.IsDescendantOrEqual(ctx, pc.TriggerHash, head)
		if err != nil {
			if errors.Is(err, fgchain.ErrUnknownBlock) {
				continue
			}
			return 0, false, fmt.Errorf("failed to check ancestry of trigger %s: %w", pc.TriggerHash, err)
		}
		if !ok {
			continue
		}

		eff, _ := pc.EffectiveNumber()
		if !found || eff < limit {
			limit = eff
			found = true
		}
	}

	return limit, found, nil
}

type reach int

const (
	reachNone     reach = iota // Trigger unreachable from the finalized chain.
	reachAncestor              // Trigger on the path from genesis to the finalized block.
	reachPending               // Trigger in the surviving subtree above the finalized block.
)

func reachable(ctx context.Context, anc Ancestry, trigger, finalized fgtypes.Hash) (reach, error) {
	ok, err := anc.IsDescendantOrEqual(ctx, trigger, finalized)
	if err != nil {
		if errors.Is(err, fgchain.ErrUnknownBlock) {
			return reachNone, nil
		}
		return reachNone, err
	}
	if ok {
		return reachAncestor, nil
	}

	ok, err = anc.IsDescendantOrEqual(ctx, finalized, trigger)
	if err != nil {
		if errors.Is(err, fgchain.ErrUnknownBlock) {
			return reachNone, nil
		}
		return reachNone, err
	}
	if ok {
		return reachPending, nil
	}

	return reachNone, nil
}
