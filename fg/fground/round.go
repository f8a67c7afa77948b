// Package fground implements one round of prevote/precommit voting:
// accepting and validating votes, tracking equivocations,
// and deriving supermajority-link (ghost) estimates.
//
// A Round is a plain state machine.
// It never touches the network or any timer;
// the voter runtime drives it and is the only goroutine using it.
package fground

import (
	"context"
	"errors"
	"fmt"

	"github.com/gordian-engine/gfg/fg/fgchain"
	"github.com/gordian-engine/gfg/fg/fgtypes"
)

// State is the lifecycle position of a Round.
type State uint8

const (
	_ State = iota // Zero value reserved.

	Prevoting
	Precommitting
	Completed
)

func (s State) String() string {
	switch s {
	case Prevoting:
		return "prevoting"
	case Precommitting:
		return "precommitting"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// AddVoteResult reports how an incoming vote was handled.
type AddVoteResult uint8

const (
	_ AddVoteResult = iota // Invalid.

	VoteAccepted     // New vote, now counted in the tally.
	VoteDuplicate    // Identical to an already-accepted vote.
	VoteEquivocation // Differing repeat vote; evidence recorded, not counted.

	// The following are rejections of malformed or mismatched input.
	// None of them are fatal; the message is simply dropped.
	VoteMismatchedRound
	VoteBadStage
	VoteUnknownAuthority
	VoteBadSignature
)

// ChainView is the subset of the chain client a round needs:
// header lookup for walking vote ancestry,
// and the ancestry predicate for completion checks.
type ChainView interface {
	Header(ctx context.Context, hash fgtypes.Hash) (fgchain.Header, error)
	IsDescendantOrEqual(ctx context.Context, ancestor, head fgtypes.Hash) (bool, error)
}

// Config is the immutable identity of a round.
type Config struct {
	Number uint64
	SetID  uint64

	// The authority set snapshot active for SetID.
	Authorities fgtypes.Authorities

	// The last finalized block when the round started.
	// Votes are tallied against the subtree rooted here.
	Base fgchain.Header
}

// Round is one instance of the voting state machine
// for a single (set id, round number) pair.
//
// A Round is not safe for concurrent use;
// it is owned and driven by a single voter runtime loop.
type Round struct {
	cfg       Config
	threshold uint64

	state State

	prevotes   *tally
	precommits *tally

	finalized    fgchain.Header
	hasFinalized bool
}

// New returns a round in the Prevoting state.
func New(cfg Config) (*Round, error) {
	if cfg.Number == 0 {
		return nil, errors.New("round numbers start at 1")
	}
	if err := cfg.Authorities.Validate(); err != nil {
		return nil, fmt.Errorf("invalid round authority set: %w", err)
	}

	return &Round{
		cfg:       cfg,
		threshold: cfg.Authorities.Threshold(),

		state: Prevoting,

		prevotes:   newTally(fgtypes.StagePrevote),
		precommits: newTally(fgtypes.StagePrecommit),
	}, nil
}

func (r *Round) Number() uint64 { return r.cfg.Number }
func (r *Round) SetID() uint64  { return r.cfg.SetID }
func (r *Round) State() State   { return r.state }

// Base returns the finalized block this round builds on.
func (r *Round) Base() fgchain.Header { return r.cfg.Base }

// AddVote validates and tallies one vote.
// Every problem with the vote itself maps to a non-accepted result;
// nothing here is fatal to the round.
func (r *Round) AddVote(sv fgtypes.SignedVote) AddVoteResult {
	v := sv.Vote

	if v.Round != r.cfg.Number || v.SetID != r.cfg.SetID {
		return VoteMismatchedRound
	}

	var t *tally
	switch v.Stage {
	case fgtypes.StagePrevote:
		t = r.prevotes
	case fgtypes.StagePrecommit:
		t = r.precommits
	default:
		return VoteBadStage
	}

	idx := r.cfg.Authorities.Index(sv.PubKey)
	if idx < 0 {
		return VoteUnknownAuthority
	}

	if !sv.Verify() {
		return VoteBadSignature
	}

	return t.add(idx, sv)
}

// AllVoted reports whether every authority has an accepted vote
// in the given stage.
func (r *Round) AllVoted(stage fgtypes.VoteStage) bool {
	switch stage {
	case fgtypes.StagePrevote:
		return r.prevotes.allVoted(len(r.cfg.Authorities))
	case fgtypes.StagePrecommit:
		return r.precommits.allVoted(len(r.cfg.Authorities))
	default:
		return false
	}
}

// Ghost returns the stage's current supermajority-link estimate:
// the highest block whose cumulative vote weight
// (own votes plus descendants') exceeds two thirds of total weight.
func (r *Round) Ghost(ctx context.Context, chain ChainView, stage fgtypes.VoteStage) (fgchain.Header, bool, error) {
	var t *tally
	switch stage {
	case fgtypes.StagePrevote:
		t = r.prevotes
	case fgtypes.StagePrecommit:
		t = r.precommits
	default:
		return fgchain.Header{}, false, fmt.Errorf("no ghost for stage %s", stage)
	}

	return t.ghost(ctx, chain, r.cfg.Authorities, r.cfg.Base, r.threshold)
}

// EnterPrecommit transitions the round from Prevoting to Precommitting.
// The voter calls this once its prevote ghost
// is no longer expected to change.
// Calling in any other state is a no-op.
func (r *Round) EnterPrecommit() {
	if r.state == Prevoting {
		r.state = Precommitting
	}
}

// TryComplete checks whether the round can finish:
// a precommit ghost must exist and be covered by the prevote ghost,
// so precommit support never exceeds what prevotes justified.
// On success the round becomes Completed
// and the finalized block is returned.
//
// Safe to call repeatedly; after completion it keeps returning
// the same finalized block.
func (r *Round) TryComplete(ctx context.Context, chain ChainView) (fgchain.Header, bool, error) {
	if r.hasFinalized {
		return r.finalized, true, nil
	}

	pcGhost, ok, err := r.Ghost(ctx, chain, fgtypes.StagePrecommit)
	if err != nil || !ok {
		return fgchain.Header{}, false, err
	}

	pvGhost, ok, err := r.Ghost(ctx, chain, fgtypes.StagePrevote)
	if err != nil || !ok {
		return fgchain.Header{}, false, err
	}

	covered, err := chain.IsDescendantOrEqual(ctx, pcGhost.Hash, pvGhost.Hash)
	if err != nil {
		return fgchain.Header{}, false, err
	}
	if !covered {
		return fgchain.Header{}, false, nil
	}

	r.finalized = pcGhost
	r.hasFinalized = true
	r.state = Completed

	return pcGhost, true, nil
}

// Finalized returns the round's finalized block after completion.
func (r *Round) Finalized() (fgchain.Header, bool) {
	return r.finalized, r.hasFinalized
}

// PrecommitsFor returns the accepted precommits whose targets
// are the given block or its descendants:
// the justification set for a commit announcing that block.
func (r *Round) PrecommitsFor(ctx context.Context, chain ChainView, target fgtypes.Hash) ([]fgtypes.SignedVote, error) {
	out := make([]fgtypes.SignedVote, 0, len(r.precommits.votes))

	for _, sv := range r.precommits.votes {
		ok, err := chain.IsDescendantOrEqual(ctx, target, sv.Vote.TargetHash)
		if err != nil {
			if errorsIsUnknownBlock(err) {
				continue
			}
			return nil, err
		}
		if ok {
			out = append(out, sv)
		}
	}

	return out, nil
}

// Equivocations returns the evidence collected so far in both stages.
func (r *Round) Equivocations() []Equivocation {
	out := make([]Equivocation, 0, len(r.prevotes.equivocations)+len(r.precommits.equivocations))
	out = append(out, r.prevotes.equivocations...)
	return append(out, r.precommits.equivocations...)
}

func errorsIsUnknownBlock(err error) bool {
	return errors.Is(err, fgchain.ErrUnknownBlock)
}
