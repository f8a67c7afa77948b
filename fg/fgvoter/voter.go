// Package fgvoter drives round succession for one node:
// creating rounds, casting votes when the local key is an authority,
// finalizing completed rounds, enacting authority-set changes,
// and emitting the finality notification stream.
package fgvoter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/gfg/fg/fgchain"
	"github.com/gordian-engine/gfg/fg/fgimport"
	"github.com/gordian-engine/gfg/fg/fgnetwork"
	"github.com/gordian-engine/gfg/fg/fground"
	"github.com/gordian-engine/gfg/fg/fgtypes"
)

// ErrStreamClosed is the fatal error recorded when a gossip stream
// ends before the voter is done with it.
// The voter never silently resubscribes:
// that could desynchronize round state,
// and resubscription semantics belong to the gossip layer.
var ErrStreamClosed = errors.New("gossip stream ended unexpectedly")

// finalityBuffer is the capacity of the finality notification channel.
const finalityBuffer = 256

// Voter is the runtime for one node's participation in finality voting.
//
// Construct with [New]; the voter runs until its context is cancelled
// or a fatal error occurs, observable via [Voter.Wait] and [Voter.Err].
type Voter struct {
	log *slog.Logger

	cfg Config

	link *fgimport.Link
	net  fgnetwork.Network

	finality chan fgtypes.FinalityNotification

	done chan struct{}

	// Written at most once, before done is closed.
	err error
}

// New starts a voter (or observer, when cfg.LocalKey is nil)
// against the given import link and network.
func New(
	ctx context.Context,
	log *slog.Logger,
	cfg Config,
	link *fgimport.Link,
	net fgnetwork.Network,
) (*Voter, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid voter config: %w", err)
	}
	if link == nil {
		return nil, errors.New("nil import link")
	}
	if net == nil {
		return nil, errors.New("nil network")
	}

	v := &Voter{
		log: log.With("name", cfg.Name),

		cfg: cfg,

		link: link,
		net:  net,

		finality: make(chan fgtypes.FinalityNotification, finalityBuffer),

		done: make(chan struct{}),
	}

	go v.run(ctx)

	return v, nil
}

// FinalityNotifications is the stream of finalized blocks:
// exactly one entry per finalized block,
// in strictly increasing block-number order.
func (v *Voter) FinalityNotifications() <-chan fgtypes.FinalityNotification {
	return v.finality
}

// Wait blocks until the voter has stopped.
func (v *Voter) Wait() {
	<-v.done
}

// Err returns the fatal error that stopped the voter, if any.
// Only valid after Wait returns.
func (v *Voter) Err() error {
	return v.err
}

func (v *Voter) run(ctx context.Context) {
	defer close(v.done)

	err := v.runLoop(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		v.err = err
		v.log.Error("Voter terminated", "err", err)
	}
}

// roundState pairs a round with its message subscription
// and the voter's per-round stage flags.
type roundState struct {
	round *fground.Round

	msgs <-chan []byte

	timedOut bool
}

// loopState is the mutable state of one pass through the main loop.
type loopState struct {
	lastFinalized fgchain.Header

	setID       uint64
	authorities fgtypes.Authorities

	commits <-chan []byte

	cur  *roundState
	prev *roundState

	timer *time.Timer
}

func (v *Voter) runLoop(ctx context.Context) error {
	chain := v.link.Chain

	finalized, err := chain.FinalizedHead(ctx)
	if err != nil {
		return fmt.Errorf("failed to read finalized head: %w", err)
	}

	ls := &loopState{
		lastFinalized: finalized,

		timer: time.NewTimer(v.cfg.GossipDuration),
	}
	defer ls.timer.Stop()
	defer v.dropRounds(ls)

	ls.setID, ls.authorities = v.link.AuthoritySet.Current()

	ls.commits, err = v.net.CommitMessagesFor(ls.setID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to commits for set %d: %w", ls.setID, err)
	}
	// ls.setID always names the currently subscribed commit topic.
	defer func() { v.net.DropCommits(ls.setID) }()

	if err := v.startRound(ctx, ls, 1); err != nil {
		return err
	}

	v.log.Info(
		"Voter started",
		"set_id", ls.setID,
		"finalized_number", ls.lastFinalized.Number,
		"observer", v.cfg.LocalKey == nil,
	)

	for {
		var curCh, prevCh <-chan []byte
		if ls.cur != nil {
			curCh = ls.cur.msgs
		}
		if ls.prev != nil {
			prevCh = ls.prev.msgs
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-curCh:
			if !ok {
				return fmt.Errorf("messages for round %d, set %d: %w", ls.cur.round.Number(), ls.setID, ErrStreamClosed)
			}
			v.handleVotePayload(ls, raw)

		case raw, ok := <-prevCh:
			if !ok {
				return fmt.Errorf("messages for round %d, set %d: %w", ls.prev.round.Number(), ls.setID, ErrStreamClosed)
			}
			v.handleVotePayload(ls, raw)

		case raw, ok := <-ls.commits:
			if !ok {
				return fmt.Errorf("commits for set %d: %w", ls.setID, ErrStreamClosed)
			}
			if err := v.handleCommitPayload(ctx, ls, raw); err != nil {
				return err
			}

		case <-ls.timer.C:
			if ls.cur != nil {
				ls.cur.timedOut = true
			}
			ls.timer.Reset(v.cfg.GossipDuration)

		case <-v.link.Imported():
			// New block available; fall through and re-evaluate.
		}

		if ls.cur != nil {
			if err := v.evaluate(ctx, ls); err != nil {
				return err
			}
		}

		// A set change tears the rounds down;
		// restart numbering under the new set id.
		if ls.cur == nil {
			if err := v.startRound(ctx, ls, 1); err != nil {
				return err
			}
		}
	}
}

// startRound subscribes the round's topic, builds the round state machine,
// and casts the local prevote when this node is an authority in the set.
func (v *Voter) startRound(ctx context.Context, ls *loopState, number uint64) error {
	msgs, err := v.net.MessagesFor(number, ls.setID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to round %d, set %d: %w", number, ls.setID, err)
	}

	r, err := fground.New(fground.Config{
		Number: number,
		SetID:  ls.setID,

		Authorities: ls.authorities,

		Base: ls.lastFinalized,
	})
	if err != nil {
		return fmt.Errorf("failed to create round %d: %w", number, err)
	}

	ls.cur = &roundState{
		round: r,
		msgs:  msgs,
	}

	v.log.Debug("Round started", "round", number, "set_id", ls.setID, "base", ls.lastFinalized.Number)

	if v.isAuthority(ls) {
		target, err := v.prevoteTarget(ctx, ls)
		if err != nil {
			return err
		}
		if err := v.castVote(ctx, ls, fgtypes.StagePrevote, target); err != nil {
			return err
		}
	}

	v.resetTimer(ls)
	return nil
}

func (v *Voter) isAuthority(ls *loopState) bool {
	return v.cfg.LocalKey != nil && ls.authorities.Index(v.cfg.LocalKey.PubKey()) >= 0
}

// prevoteTarget is the local best-chain estimate:
// the head of the best chain through the last finalized block,
// clamped so the vote never crosses a pending change's effective block.
func (v *Voter) prevoteTarget(ctx context.Context, ls *loopState) (fgchain.Header, error) {
	chain := v.link.Chain

	best, err := chain.BestChainContaining(ctx, ls.lastFinalized.Hash)
	if err != nil {
		return fgchain.Header{}, fmt.Errorf("failed to resolve best chain: %w", err)
	}

	limit, found, err := v.link.AuthoritySet.EffectiveBlockOnChain(ctx, chain, best.Hash)
	if err != nil {
		return fgchain.Header{}, err
	}
	if !found || limit >= best.Number {
		return best, nil
	}
	if limit < ls.lastFinalized.Number {
		// An effective block at or below finality would already have enacted.
		limit = ls.lastFinalized.Number
	}

	clamped, err := chain.HeaderAtNumberOn(ctx, best.Hash, limit)
	if err != nil {
		return fgchain.Header{}, fmt.Errorf("failed to clamp vote target to block %d: %w", limit, err)
	}
	return clamped, nil
}

func (v *Voter) castVote(ctx context.Context, ls *loopState, stage fgtypes.VoteStage, target fgchain.Header) error {
	vote := fgtypes.Vote{
		Stage: stage,

		TargetHash:   target.Hash,
		TargetNumber: target.Number,

		Round: ls.cur.round.Number(),
		SetID: ls.setID,
	}

	sv, err := fgtypes.SignVote(ctx, v.cfg.LocalKey, vote)
	if err != nil {
		return err
	}

	// Tally our own vote directly; gossip echoes are deduplicated anyway.
	if res := ls.cur.round.AddVote(sv); res != fground.VoteAccepted {
		return fmt.Errorf("local %s for round %d rejected: result %d", stage, vote.Round, res)
	}

	b, err := v.cfg.Codec.MarshalVote(sv)
	if err != nil {
		return fmt.Errorf("failed to encode local %s: %w", stage, err)
	}
	if err := v.net.SendMessage(vote.Round, vote.SetID, b); err != nil {
		// Best-effort broadcast; the vote is still in our tally.
		v.log.Warn("Failed to broadcast vote", "stage", stage, "round", vote.Round, "err", err)
	}

	v.log.Debug("Cast vote", "stage", stage, "round", vote.Round, "target_number", target.Number)
	return nil
}

// handleVotePayload decodes and tallies one gossiped vote.
// Malformed or mismatched payloads are dropped here, never propagated.
func (v *Voter) handleVotePayload(ls *loopState, raw []byte) {
	sv, err := v.cfg.Codec.UnmarshalVote(raw)
	if err != nil {
		v.log.Debug("Dropping unparsable vote payload", "err", err)
		return
	}

	rs := ls.cur
	if rs == nil || sv.Vote.Round != rs.round.Number() || sv.Vote.SetID != rs.round.SetID() {
		if ls.prev != nil && sv.Vote.Round == ls.prev.round.Number() && sv.Vote.SetID == ls.prev.round.SetID() {
			rs = ls.prev
		} else {
			return
		}
	}

	switch res := rs.round.AddVote(sv); res {
	case fground.VoteAccepted, fground.VoteDuplicate:
		// Tallying is idempotent over the received multiset.
	case fground.VoteEquivocation:
		v.log.Warn(
			"Equivocation detected",
			"stage", sv.Vote.Stage,
			"round", sv.Vote.Round,
			"authority", fmt.Sprintf("%x", sv.PubKey.Address()),
		)
	default:
		v.log.Debug("Dropping invalid vote", "result", uint8(res), "round", sv.Vote.Round)
	}
}

// evaluate advances the current round's state machine
// after any event that may have changed its inputs.
func (v *Voter) evaluate(ctx context.Context, ls *loopState) error {
	chain := v.link.Chain
	r := ls.cur.round

	if r.State() == fground.Prevoting {
		if r.AllVoted(fgtypes.StagePrevote) || ls.cur.timedOut {
			ghost, ok, err := r.Ghost(ctx, chain, fgtypes.StagePrevote)
			if err != nil {
				return err
			}
			if ok {
				r.EnterPrecommit()
				ls.cur.timedOut = false
				v.resetTimer(ls)

				if v.isAuthority(ls) {
					if err := v.castVote(ctx, ls, fgtypes.StagePrecommit, ghost); err != nil {
						return err
					}
				}
			}
			// Without a prevote ghost there is nothing safe to precommit;
			// keep collecting prevotes into the next timeout window.
		}
	}

	if r.State() == fground.Prevoting {
		return nil
	}

	fin, ok, err := r.TryComplete(ctx, chain)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	v.log.Debug("Round completed", "round", r.Number(), "set_id", r.SetID(), "finalized_number", fin.Number)

	if err := v.finalizeChain(ctx, ls, fin, r); err != nil {
		return err
	}

	// Advance to the next round unless a set change already reset us.
	if ls.cur != nil && ls.cur.round == r {
		if ls.prev != nil {
			v.net.DropMessages(ls.prev.round.Number(), ls.prev.round.SetID())
		}
		ls.prev = ls.cur
		if err := v.startRound(ctx, ls, r.Number()+1); err != nil {
			return err
		}
	}

	return nil
}

// finalizeChain marks the target final, broadcasts a commit
// when the finality came from a locally completed round,
// enacts any authority change now triggered,
// and emits one notification per newly finalized block.
func (v *Voter) finalizeChain(
	ctx context.Context,
	ls *loopState,
	target fgchain.Header,
	completed *fground.Round,
) error {
	if target.Number <= ls.lastFinalized.Number {
		return nil
	}

	chain := v.link.Chain

	newly, err := chain.Finalize(ctx, target.Hash)
	if err != nil {
		// Finalizing across forks would be a safety violation;
		// nothing sane to do but stop.
		return fmt.Errorf("failed to finalize block %s: %w", target.Hash, err)
	}
	if len(newly) == 0 {
		return nil
	}

	if completed != nil {
		v.broadcastCommit(ctx, ls, target, completed)
	}

	oldSetID := ls.setID

	enacted := false
	for _, hdr := range newly {
		en, err := v.link.AuthoritySet.ApplyChangesUpTo(ctx, chain, hdr.Hash, hdr.Number)
		if err != nil {
			return fmt.Errorf("failed to apply authority changes at block %d: %w", hdr.Number, err)
		}
		if en != nil {
			enacted = true
			ls.setID = en.SetID
			ls.authorities = en.Authorities

			v.log.Info(
				"Enacted authority change",
				"set_id", en.SetID,
				"authorities", len(en.Authorities),
				"at_number", hdr.Number,
			)
		}

		notif := fgtypes.FinalityNotification{Hash: hdr.Hash, Number: hdr.Number}
		select {
		case v.finality <- notif:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ls.lastFinalized = newly[len(newly)-1]

	if err := v.link.PersistAuthoritySet(ctx); err != nil {
		return err
	}

	if enacted {
		// Round numbering restarts under the new set id;
		// release the old topics and move to the new commit stream.
		v.dropRounds(ls)
		v.net.DropCommits(oldSetID)

		ls.commits, err = v.net.CommitMessagesFor(ls.setID)
		if err != nil {
			return fmt.Errorf("failed to subscribe to commits for set %d: %w", ls.setID, err)
		}
	}

	return nil
}

func (v *Voter) broadcastCommit(ctx context.Context, ls *loopState, target fgchain.Header, completed *fground.Round) {
	pcs, err := completed.PrecommitsFor(ctx, v.link.Chain, target.Hash)
	if err != nil {
		v.log.Warn("Failed to collect commit justification", "err", err)
		return
	}

	commit := fgtypes.Commit{
		TargetHash:   target.Hash,
		TargetNumber: target.Number,

		Round: completed.Number(),
		SetID: completed.SetID(),

		Precommits: pcs,
	}

	b, err := v.cfg.Codec.MarshalCommit(commit)
	if err != nil {
		v.log.Warn("Failed to encode commit", "err", err)
		return
	}
	if err := v.net.SendCommit(commit.SetID, b); err != nil {
		v.log.Warn("Failed to broadcast commit", "set_id", commit.SetID, "err", err)
	}
}

// handleCommitPayload finalizes directly from a valid commit
// that is ahead of local finality.
func (v *Voter) handleCommitPayload(ctx context.Context, ls *loopState, raw []byte) error {
	c, err := v.cfg.Codec.UnmarshalCommit(raw)
	if err != nil {
		v.log.Debug("Dropping unparsable commit payload", "err", err)
		return nil
	}

	if c.SetID != ls.setID || c.TargetNumber <= ls.lastFinalized.Number {
		return nil
	}

	target, err := v.link.Chain.Header(ctx, c.TargetHash)
	if err != nil {
		if errors.Is(err, fgchain.ErrUnknownBlock) {
			// Not synced far enough to act on this commit.
			return nil
		}
		return err
	}

	ok, err := v.verifyCommit(ctx, ls, c)
	if err != nil {
		return err
	}
	if !ok {
		v.log.Warn("Dropping commit without supermajority justification", "round", c.Round, "target_number", c.TargetNumber)
		return nil
	}

	return v.finalizeChain(ctx, ls, target, nil)
}

// verifyCommit checks that the commit carries valid precommit signatures
// from distinct current authorities,
// each targeting the commit's block or a descendant,
// with cumulative weight exceeding two thirds of the total.
func (v *Voter) verifyCommit(ctx context.Context, ls *loopState, c fgtypes.Commit) (bool, error) {
	var weight uint64
	seen := make(map[int]struct{}, len(c.Precommits))

	for _, sv := range c.Precommits {
		if sv.Vote.Stage != fgtypes.StagePrecommit || sv.Vote.SetID != c.SetID || sv.Vote.Round != c.Round {
			continue
		}

		idx := ls.authorities.Index(sv.PubKey)
		if idx < 0 {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}

		if !sv.Verify() {
			continue
		}

		ok, err := v.link.Chain.IsDescendantOrEqual(ctx, c.TargetHash, sv.Vote.TargetHash)
		if err != nil {
			if errors.Is(err, fgchain.ErrUnknownBlock) {
				continue
			}
			return false, err
		}
		if !ok {
			continue
		}

		seen[idx] = struct{}{}
		weight += ls.authorities[idx].Weight
	}

	return weight >= ls.authorities.Threshold(), nil
}

func (v *Voter) dropRounds(ls *loopState) {
	if ls.cur != nil {
		v.net.DropMessages(ls.cur.round.Number(), ls.cur.round.SetID())
		ls.cur = nil
	}
	if ls.prev != nil {
		v.net.DropMessages(ls.prev.round.Number(), ls.prev.round.SetID())
		ls.prev = nil
	}
}

func (v *Voter) resetTimer(ls *loopState) {
	if !ls.timer.Stop() {
		select {
		case <-ls.timer.C:
		default:
		}
	}
	ls.timer.Reset(v.cfg.GossipDuration)
}
