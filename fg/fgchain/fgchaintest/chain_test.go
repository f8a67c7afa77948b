package fgchaintest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/gfg/fg/fgchain"
	"github.com/gordian-engine/gfg/fg/fgchain/fgchaintest"
)

func TestChain_deterministicAcrossInstances(t *testing.T) {
	t.Parallel()

	c1 := fgchaintest.NewChain("det")
	c2 := fgchaintest.NewChain("det")

	require.Equal(t, c1.Genesis(), c2.Genesis())

	h1 := c1.PushBlocks(5)
	h2 := c2.PushBlocks(5)
	require.Equal(t, h1, h2)

	// A differing chain id produces a disjoint tree.
	other := fgchaintest.NewChain("other")
	require.NotEqual(t, c1.Genesis().Hash, other.Genesis().Hash)
}

func TestChain_pushBlocks(t *testing.T) {
	t.Parallel()

	c := fgchaintest.NewChain("push")

	hs := c.PushBlocks(3)
	require.Len(t, hs, 3)

	prev := c.Genesis()
	for i, h := range hs {
		require.Equal(t, uint64(i+1), h.Number)
		require.Equal(t, prev.Hash, h.ParentHash)
		prev = h
	}

	require.Equal(t, hs[2], c.Best())
}

func TestChain_importValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := fgchaintest.NewChain("import")
	hs := c.PushBlocks(2)

	// Unknown parent.
	orphan := fgchain.Header{
		Hash:       [32]byte{0xaa},
		ParentHash: [32]byte{0xbb},
		Number:     5,
	}
	err := c.ImportBlock(ctx, orphan)
	require.ErrorIs(t, err, fgchain.ErrUnknownBlock)

	// Wrong number relative to parent.
	bad := fgchain.Header{
		Hash:       [32]byte{0xcc},
		ParentHash: hs[1].Hash,
		Number:     7,
	}
	require.Error(t, c.ImportBlock(ctx, bad))

	// Re-import of a known block is accepted silently.
	require.NoError(t, c.ImportBlock(ctx, hs[0]))
}

func TestChain_ancestry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := fgchaintest.NewChain("anc")

	main := c.PushBlocks(5)
	fork := c.ExtendFork(main[1].Hash, 3, "side")

	ok, err := c.IsDescendantOrEqual(ctx, main[1].Hash, main[4].Hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.IsDescendantOrEqual(ctx, main[1].Hash, main[1].Hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.IsDescendantOrEqual(ctx, main[2].Hash, fork[2].Hash)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.IsDescendantOrEqual(ctx, main[1].Hash, fork[2].Hash)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = c.IsDescendantOrEqual(ctx, [32]byte{0xff}, main[4].Hash)
	require.ErrorIs(t, err, fgchain.ErrUnknownBlock)
}

func TestChain_bestChainContaining(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := fgchaintest.NewChain("best")

	main := c.PushBlocks(5)
	fork := c.ExtendFork(main[1].Hash, 2, "side")

	// The overall best contains blocks on the main line.
	got, err := c.BestChainContaining(ctx, main[2].Hash)
	require.NoError(t, err)
	require.Equal(t, main[4], got)

	// The fork is not part of the best chain,
	// so the longest chain through its base is used.
	got, err = c.BestChainContaining(ctx, fork[0].Hash)
	require.NoError(t, err)
	require.Equal(t, fork[1], got)

	_, err = c.BestChainContaining(ctx, [32]byte{0xff})
	require.ErrorIs(t, err, fgchain.ErrUnknownBlock)
}

func TestChain_headerAtNumberOn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := fgchaintest.NewChain("at")

	main := c.PushBlocks(5)
	fork := c.ExtendFork(main[1].Hash, 3, "side")

	got, err := c.HeaderAtNumberOn(ctx, main[4].Hash, 2)
	require.NoError(t, err)
	require.Equal(t, main[1], got)

	// The same number resolved on the fork gives the fork block.
	got, err = c.HeaderAtNumberOn(ctx, fork[2].Hash, 3)
	require.NoError(t, err)
	require.Equal(t, fork[0], got)

	_, err = c.HeaderAtNumberOn(ctx, main[4].Hash, 9)
	require.ErrorIs(t, err, fgchain.ErrUnknownBlock)
}

func TestChain_finalize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := fgchaintest.NewChain("fin")

	main := c.PushBlocks(5)
	fork := c.ExtendFork(main[1].Hash, 3, "side")

	newly, err := c.Finalize(ctx, main[2].Hash)
	require.NoError(t, err)
	require.Equal(t, []fgchain.Header{main[0], main[1], main[2]}, newly)

	fin, err := c.FinalizedHead(ctx)
	require.NoError(t, err)
	require.Equal(t, main[2], fin)

	// Finalizing the same block again is a no-op.
	newly, err = c.Finalize(ctx, main[2].Hash)
	require.NoError(t, err)
	require.Empty(t, newly)

	// Finalizing below the finalized head on the same line is a no-op too.
	newly, err = c.Finalize(ctx, main[0].Hash)
	require.NoError(t, err)
	require.Empty(t, newly)

	// A block on a competing fork can never finalize.
	_, err = c.Finalize(ctx, fork[2].Hash)
	require.Error(t, err)

	// Advancing finality yields only the new suffix.
	newly, err = c.Finalize(ctx, main[4].Hash)
	require.NoError(t, err)
	require.Equal(t, []fgchain.Header{main[3], main[4]}, newly)
}

func TestChain_auxStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := fgchaintest.NewChain("aux")

	got, err := c.GetAux(ctx, []byte("missing"))
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, c.SetAux(ctx, []byte("k"), []byte("v1")))
	got, err = c.GetAux(ctx, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got)

	require.NoError(t, c.SetAux(ctx, []byte("k"), []byte("v2")))
	got, err = c.GetAux(ctx, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)
}
