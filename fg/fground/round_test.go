package fground_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/gfg/fg/fgchain"
	"github.com/gordian-engine/gfg/fg/fgchain/fgchaintest"
	"github.com/gordian-engine/gfg/fg/fground"
	"github.com/gordian-engine/gfg/fg/fgtypes"
	"github.com/gordian-engine/gfg/gcrypto"
	"github.com/gordian-engine/gfg/gcrypto/gcryptotest"
)

// fixture is a round with three equal-weight authorities
// over a freshly built chain.
type fixture struct {
	chain   *fgchaintest.Chain
	headers []fgchain.Header

	signers     []gcrypto.Ed25519Signer
	authorities fgtypes.Authorities

	round *fground.Round
}

func newFixture(t *testing.T, chainID string, blocks int) *fixture {
	t.Helper()

	c := fgchaintest.NewChain(chainID)
	hs := c.PushBlocks(blocks)

	signers := gcryptotest.DeterministicEd25519Signers(3)
	as := make(fgtypes.Authorities, len(signers))
	for i, s := range signers {
		as[i] = fgtypes.Authority{PubKey: s.PubKey(), Weight: 1}
	}

	r, err := fground.New(fground.Config{
		Number: 1,
		SetID:  0,

		Authorities: as,

		Base: c.Genesis(),
	})
	require.NoError(t, err)

	return &fixture{
		chain:   c,
		headers: hs,

		signers:     signers,
		authorities: as,

		round: r,
	}
}

func (f *fixture) vote(t *testing.T, signerIdx int, stage fgtypes.VoteStage, target fgchain.Header) fgtypes.SignedVote {
	t.Helper()

	sv, err := fgtypes.SignVote(context.Background(), f.signers[signerIdx], fgtypes.Vote{
		Stage: stage,

		TargetHash:   target.Hash,
		TargetNumber: target.Number,

		Round: 1,
		SetID: 0,
	})
	require.NoError(t, err)
	return sv
}

func TestRound_rejectsRoundZero(t *testing.T) {
	t.Parallel()

	_, err := fground.New(fground.Config{Number: 0})
	require.Error(t, err)
}

func TestRound_ghostUnanimous(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, "unanimous", 5)

	for i := 0; i < 3; i++ {
		res := f.round.AddVote(f.vote(t, i, fgtypes.StagePrevote, f.headers[4]))
		require.Equal(t, fground.VoteAccepted, res)
	}
	require.True(t, f.round.AllVoted(fgtypes.StagePrevote))

	ghost, ok, err := f.round.Ghost(ctx, f.chain, fgtypes.StagePrevote)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, f.headers[4], ghost)
}

func TestRound_ghostCommonAncestor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, "ancestor", 5)

	// Two votes at block 5, one at block 2:
	// only the chain up to block 2 carries all three weights.
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 0, fgtypes.StagePrevote, f.headers[4])))
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 1, fgtypes.StagePrevote, f.headers[4])))
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 2, fgtypes.StagePrevote, f.headers[1])))

	ghost, ok, err := f.round.Ghost(ctx, f.chain, fgtypes.StagePrevote)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, f.headers[1], ghost)
}

func TestRound_ghostAcrossFork(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, "fork", 4)
	forkHeads := f.chain.ExtendFork(f.headers[1].Hash, 3, "side")

	// Two votes on the main line at 4, one on the fork at 5.
	// They agree only up to block 2.
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 0, fgtypes.StagePrevote, f.headers[3])))
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 1, fgtypes.StagePrevote, f.headers[3])))
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 2, fgtypes.StagePrevote, forkHeads[2])))

	ghost, ok, err := f.round.Ghost(ctx, f.chain, fgtypes.StagePrevote)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, f.headers[1], ghost)
}

func TestRound_ghostNeedsThreshold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, "threshold", 5)

	// Two of three weights is not a supermajority.
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 0, fgtypes.StagePrevote, f.headers[4])))
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 1, fgtypes.StagePrevote, f.headers[4])))

	_, ok, err := f.round.Ghost(ctx, f.chain, fgtypes.StagePrevote)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRound_ghostSkipsUnknownTargets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, "unknown", 5)

	// A vote for a block this node has not imported yet
	// does not fail the tally; it simply carries no weight for now.
	unseen := fgchain.Header{Hash: fgtypes.Hash{0xee}, Number: 99}
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 0, fgtypes.StagePrevote, unseen)))
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 1, fgtypes.StagePrevote, f.headers[4])))
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 2, fgtypes.StagePrevote, f.headers[4])))

	_, ok, err := f.round.Ghost(ctx, f.chain, fgtypes.StagePrevote)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRound_addVoteRejections(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "rejections", 5)

	t.Run("mismatched round", func(t *testing.T) {
		sv := f.vote(t, 0, fgtypes.StagePrevote, f.headers[0])
		sv.Vote.Round = 2
		require.Equal(t, fground.VoteMismatchedRound, f.round.AddVote(sv))
	})

	t.Run("mismatched set", func(t *testing.T) {
		sv := f.vote(t, 0, fgtypes.StagePrevote, f.headers[0])
		sv.Vote.SetID = 7
		require.Equal(t, fground.VoteMismatchedRound, f.round.AddVote(sv))
	})

	t.Run("bad stage", func(t *testing.T) {
		sv := f.vote(t, 0, fgtypes.StagePrevote, f.headers[0])
		sv.Vote.Stage = fgtypes.VoteStage(9)
		require.Equal(t, fground.VoteBadStage, f.round.AddVote(sv))
	})

	t.Run("unknown authority", func(t *testing.T) {
		outsider := gcryptotest.DeterministicEd25519Signers(4)[3]
		sv, err := fgtypes.SignVote(context.Background(), outsider, fgtypes.Vote{
			Stage:      fgtypes.StagePrevote,
			TargetHash: f.headers[0].Hash,
			Round:      1,
		})
		require.NoError(t, err)
		require.Equal(t, fground.VoteUnknownAuthority, f.round.AddVote(sv))
	})

	t.Run("bad signature", func(t *testing.T) {
		sv := f.vote(t, 0, fgtypes.StagePrevote, f.headers[0])
		sv.Signature[0] ^= 1
		require.Equal(t, fground.VoteBadSignature, f.round.AddVote(sv))
	})
}

func TestRound_equivocation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, "equivocation", 5)

	first := f.vote(t, 0, fgtypes.StagePrevote, f.headers[4])
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(first))

	// The identical vote again is merely redundant.
	require.Equal(t, fground.VoteDuplicate, f.round.AddVote(first))

	// A differing vote from the same authority is an equivocation.
	second := f.vote(t, 0, fgtypes.StagePrevote, f.headers[2])
	require.Equal(t, fground.VoteEquivocation, f.round.AddVote(second))
	// And a third differing vote stays an equivocation
	// without growing the evidence.
	third := f.vote(t, 0, fgtypes.StagePrevote, f.headers[1])
	require.Equal(t, fground.VoteEquivocation, f.round.AddVote(third))

	evs := f.round.Equivocations()
	require.Len(t, evs, 1)
	require.Equal(t, 0, evs[0].AuthorityIndex)
	require.Equal(t, first.Vote, evs[0].First.Vote)
	require.Equal(t, second.Vote, evs[0].Second.Vote)

	// Only the first vote counts: with the other two voting block 5,
	// the ghost lands on block 5, not the equivocated block 3.
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 1, fgtypes.StagePrevote, f.headers[4])))
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 2, fgtypes.StagePrevote, f.headers[4])))

	ghost, ok, err := f.round.Ghost(ctx, f.chain, fgtypes.StagePrevote)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, f.headers[4], ghost)
}

func TestRound_completion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, "completion", 5)

	require.Equal(t, fground.Prevoting, f.round.State())

	for i := 0; i < 3; i++ {
		require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, i, fgtypes.StagePrevote, f.headers[4])))
	}

	// Not completable before any precommits.
	_, ok, err := f.round.TryComplete(ctx, f.chain)
	require.NoError(t, err)
	require.False(t, ok)

	f.round.EnterPrecommit()
	require.Equal(t, fground.Precommitting, f.round.State())

	for i := 0; i < 3; i++ {
		require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, i, fgtypes.StagePrecommit, f.headers[4])))
	}

	fin, ok, err := f.round.TryComplete(ctx, f.chain)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, f.headers[4], fin)
	require.Equal(t, fground.Completed, f.round.State())

	// Completion is stable across repeated calls.
	again, ok, err := f.round.TryComplete(ctx, f.chain)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, fin, again)

	got, has := f.round.Finalized()
	require.True(t, has)
	require.Equal(t, fin, got)
}

func TestRound_completionRequiresPrevoteCover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, "cover", 5)

	// Prevote supermajority at block 2...
	for i := 0; i < 3; i++ {
		require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, i, fgtypes.StagePrevote, f.headers[1])))
	}
	f.round.EnterPrecommit()

	// ...but precommits land higher, at block 5.
	// Precommit support beyond what prevotes justified cannot complete.
	for i := 0; i < 3; i++ {
		require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, i, fgtypes.StagePrecommit, f.headers[4])))
	}

	_, ok, err := f.round.TryComplete(ctx, f.chain)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRound_precommitsFor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, "justification", 5)
	forkHeads := f.chain.ExtendFork(f.headers[1].Hash, 3, "side")

	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 0, fgtypes.StagePrecommit, f.headers[3])))
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 1, fgtypes.StagePrecommit, f.headers[4])))
	require.Equal(t, fground.VoteAccepted, f.round.AddVote(f.vote(t, 2, fgtypes.StagePrecommit, forkHeads[2])))

	// Only the two main-line precommits justify finalizing block 4.
	pcs, err := f.round.PrecommitsFor(ctx, f.chain, f.headers[3].Hash)
	require.NoError(t, err)
	require.Len(t, pcs, 2)
	for _, sv := range pcs {
		require.NotEqual(t, 2, f.authorities.Index(sv.PubKey), "fork precommit must not justify the main line")
	}
}
