package fground

import (
	"context"

	"github.com/bits-and-blooms/bitset"

	"github.com/gordian-engine/gfg/fg/fgchain"
	"github.com/gordian-engine/gfg/fg/fgtypes"
)

// Equivocation is evidence that one authority cast two differing votes
// in the same stage of the same round.
// The first vote remains in the tally; the second and any later votes
// are excluded but the evidence is retained for reporting.
type Equivocation struct {
	AuthorityIndex int

	First  fgtypes.SignedVote
	Second fgtypes.SignedVote
}

// tally is the per-stage vote bookkeeping for one round.
//
// It keys accepted votes by authority index,
// keeping the first vote seen per authority.
type tally struct {
	stage fgtypes.VoteStage

	votes map[int]fgtypes.SignedVote

	voted       bitset.BitSet
	equivocated bitset.BitSet

	equivocations []Equivocation
}

func newTally(stage fgtypes.VoteStage) *tally {
	return &tally{
		stage: stage,
		votes: make(map[int]fgtypes.SignedVote),
	}
}

// add records a vote by authority index,
// reporting whether it was new, redundant, or equivocating.
// Adding is idempotent over the multiset of received votes.
func (t *tally) add(idx int, sv fgtypes.SignedVote) AddVoteResult {
	existing, ok := t.votes[idx]
	if !ok {
		t.votes[idx] = sv
		t.voted.Set(uint(idx))
		return VoteAccepted
	}

	if existing.Vote == sv.Vote {
		return VoteDuplicate
	}

	if !t.equivocated.Test(uint(idx)) {
		t.equivocated.Set(uint(idx))
		t.equivocations = append(t.equivocations, Equivocation{
			AuthorityIndex: idx,
			First:          existing,
			Second:         sv,
		})
	}
	return VoteEquivocation
}

func (t *tally) allVoted(n int) bool {
	return t.voted.Count() == uint(n)
}

// ghost returns the highest block whose supermajority-link weight
// (votes for the block itself or any descendant) meets the threshold,
// restricted to the subtree rooted at base.
//
// Votes whose target is unknown to the chain view, or off the base subtree,
// are skipped for now; a later call re-evaluates them,
// so a block arriving after its votes still counts.
func (t *tally) ghost(
	ctx context.Context,
	chain ChainView,
	authorities fgtypes.Authorities,
	base fgchain.Header,
	threshold uint64,
) (fgchain.Header, bool, error) {
	type entry struct {
		header fgchain.Header
		weight uint64
	}
	weights := make(map[fgtypes.Hash]*entry)

	for idx, sv := range t.votes {
		h, err := chain.Header(ctx, sv.Vote.TargetHash)
		if err != nil {
			if errorsIsUnknownBlock(err) {
				continue
			}
			return fgchain.Header{}, false, err
		}

		w := authorities[idx].Weight

		// Accumulate this vote's weight onto the target
		// and every ancestor down to the base.
		for {
			if h.Number < base.Number {
				break
			}
			if h.Number == base.Number {
				if h.Hash == base.Hash {
					e := weights[h.Hash]
					if e == nil {
						e = &entry{header: h}
						weights[h.Hash] = e
					}
					e.weight += w
				}
				// Off the base subtree otherwise; contributes nothing.
				break
			}

			e := weights[h.Hash]
			if e == nil {
				e = &entry{header: h}
				weights[h.Hash] = e
			}
			e.weight += w

			h, err = chain.Header(ctx, h.ParentHash)
			if err != nil {
				if errorsIsUnknownBlock(err) {
					break
				}
				return fgchain.Header{}, false, err
			}
		}
	}

	var (
		best  fgchain.Header
		found bool
	)
	for _, e := range weights {
		if e.weight < threshold {
			continue
		}
		if !found || e.header.Number > best.Number {
			best = e.header
			found = true
		}
	}

	return best, found, nil
}
