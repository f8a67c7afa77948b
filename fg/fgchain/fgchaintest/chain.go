package fgchaintest

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/gordian-engine/gfg/fg/fgchain"
	"github.com/gordian-engine/gfg/fg/fgtypes"
)

// Chain is an in-memory implementation of [fgchain.Client] and [fgchain.AuxStore],
// holding a possibly forking block tree.
//
// Headers are hashed deterministically from (chain id, parent, number, fork tag),
// so separate Chain instances built with the same calls
// hold byte-identical trees, which is what the multi-node tests rely on.
//
// All methods are safe for concurrent use.
type Chain struct {
	mu sync.Mutex

	chainID string

	headers  map[fgtypes.Hash]fgchain.Header
	children map[fgtypes.Hash][]fgtypes.Hash

	genesis   fgchain.Header
	best      fgchain.Header
	finalized fgchain.Header

	aux map[string][]byte
}

// NewChain returns a chain containing only a genesis block
// derived from the given chain id.
func NewChain(chainID string) *Chain {
	g := fgchain.Header{
		Hash:   headerHash(chainID, fgtypes.Hash{}, 0, ""),
		Number: 0,
	}

	return &Chain{
		chainID: chainID,

		headers:  map[fgtypes.Hash]fgchain.Header{g.Hash: g},
		children: map[fgtypes.Hash][]fgtypes.Hash{},

		genesis:   g,
		best:      g,
		finalized: g,

		aux: map[string][]byte{},
	}
}

func headerHash(chainID string, parent fgtypes.Hash, number uint64, fork string) fgtypes.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	_, _ = h.Write([]byte(chainID))
	_, _ = h.Write(parent[:])

	var num [8]byte
	binary.LittleEndian.PutUint64(num[:], number)
	_, _ = h.Write(num[:])
	_, _ = h.Write([]byte(fork))

	var out fgtypes.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Genesis returns the genesis header.
func (c *Chain) Genesis() fgchain.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.genesis
}

// Best returns the current best (highest) head.
func (c *Chain) Best() fgchain.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.best
}

// PushBlocks extends the current best chain by n blocks,
// returning the new headers in ascending order.
func (c *Chain) PushBlocks(n int) []fgchain.Header {
	c.mu.Lock()
	parent := c.best
	c.mu.Unlock()

	return c.ExtendFork(parent.Hash, n, "")
}

// ExtendFork adds n sequential blocks on top of the given parent,
// tagging their hashes with fork so that competing branches
// at the same numbers get distinct hashes.
// The new headers are returned in ascending order.
func (c *Chain) ExtendFork(parent fgtypes.Hash, n int, fork string) []fgchain.Header {
	out := make([]fgchain.Header, 0, n)

	for i := 0; i < n; i++ {
		c.mu.Lock()
		p, ok := c.headers[parent]
		c.mu.Unlock()
		if !ok {
			panic(fmt.Errorf("fgchaintest: extending unknown parent %s", parent))
		}

		h := fgchain.Header{
			ParentHash: p.Hash,
			Number:     p.Number + 1,
		}
		h.Hash = headerHash(c.chainID, h.ParentHash, h.Number, fork)

		if err := c.ImportBlock(context.Background(), h); err != nil {
			panic(fmt.Errorf("fgchaintest: import failed: %w", err))
		}

		out = append(out, h)
		parent = h.Hash
	}

	return out
}

func (c *Chain) ImportBlock(_ context.Context, h fgchain.Header) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.headers[h.Hash]; ok {
		// Re-importing a known block is a no-op.
		return nil
	}

	p, ok := c.headers[h.ParentHash]
	if !ok {
		return fmt.Errorf("parent %s of block %s: %w", h.ParentHash, h.Hash, fgchain.ErrUnknownBlock)
	}
	if h.Number != p.Number+1 {
		return fmt.Errorf("block %s has number %d but parent has %d", h.Hash, h.Number, p.Number)
	}

	c.headers[h.Hash] = h
	c.children[h.ParentHash] = append(c.children[h.ParentHash], h.Hash)

	// Longest chain wins; first import wins ties.
	if h.Number > c.best.Number {
		c.best = h
	}

	return nil
}

func (c *Chain) Header(_ context.Context, hash fgtypes.Hash) (fgchain.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.headers[hash]
	if !ok {
		return fgchain.Header{}, fmt.Errorf("header %s: %w", hash, fgchain.ErrUnknownBlock)
	}
	return h, nil
}

func (c *Chain) IsDescendantOrEqual(_ context.Context, ancestor, head fgtypes.Hash) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.isDescendantOrEqualLocked(ancestor, head)
}

func (c *Chain) isDescendantOrEqualLocked(ancestor, head fgtypes.Hash) (bool, error) {
	a, ok := c.headers[ancestor]
	if !ok {
		return false, fmt.Errorf("ancestor %s: %w", ancestor, fgchain.ErrUnknownBlock)
	}

	cur, ok := c.headers[head]
	if !ok {
		return false, fmt.Errorf("head %s: %w", head, fgchain.ErrUnknownBlock)
	}

	for cur.Number > a.Number {
		cur = c.headers[cur.ParentHash]
	}
	return cur.Hash == ancestor, nil
}

func (c *Chain) BestChainContaining(_ context.Context, base fgtypes.Hash) (fgchain.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.headers[base]; !ok {
		return fgchain.Header{}, fmt.Errorf("base %s: %w", base, fgchain.ErrUnknownBlock)
	}

	ok, err := c.isDescendantOrEqualLocked(base, c.best.Hash)
	if err != nil {
		return fgchain.Header{}, err
	}
	if ok {
		return c.best, nil
	}

	// The overall best head is on another fork;
	// fall back to the longest chain through base.
	bestHead := c.headers[base]
	var walk func(h fgchain.Header)
	walk = func(h fgchain.Header) {
		if h.Number > bestHead.Number {
			bestHead = h
		}
		for _, ch := range c.children[h.Hash] {
			walk(c.headers[ch])
		}
	}
	walk(bestHead)

	return bestHead, nil
}

func (c *Chain) HeaderAtNumberOn(_ context.Context, head fgtypes.Hash, number uint64) (fgchain.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.headers[head]
	if !ok {
		return fgchain.Header{}, fmt.Errorf("head %s: %w", head, fgchain.ErrUnknownBlock)
	}
	if number > cur.Number {
		return fgchain.Header{}, fmt.Errorf("number %d beyond head %s at %d: %w", number, head, cur.Number, fgchain.ErrUnknownBlock)
	}

	for cur.Number > number {
		cur = c.headers[cur.ParentHash]
	}
	return cur, nil
}

func (c *Chain) FinalizedHead(_ context.Context) (fgchain.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalized, nil
}

func (c *Chain) Finalize(_ context.Context, hash fgtypes.Hash) ([]fgchain.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, ok := c.headers[hash]
	if !ok {
		return nil, fmt.Errorf("finalize %s: %w", hash, fgchain.ErrUnknownBlock)
	}

	if target.Number <= c.finalized.Number {
		if target.Number == c.finalized.Number && target.Hash != c.finalized.Hash {
			return nil, fmt.Errorf("cannot finalize %s: conflicts with finalized block %s", hash, c.finalized.Hash)
		}
		return nil, nil
	}

	ok, err := c.isDescendantOrEqualLocked(c.finalized.Hash, target.Hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cannot finalize %s: not a descendant of finalized block %s", hash, c.finalized.Hash)
	}

	newlyFinal := make([]fgchain.Header, target.Number-c.finalized.Number)
	cur := target
	for i := len(newlyFinal) - 1; i >= 0; i-- {
		newlyFinal[i] = cur
		cur = c.headers[cur.ParentHash]
	}

	c.finalized = target
	return newlyFinal, nil
}

func (c *Chain) GetAux(_ context.Context, key []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.aux[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (c *Chain) SetAux(_ context.Context, key, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	c.aux[string(key)] = v
	return nil
}
