package fgchain

import (
	"context"
	"errors"

	"github.com/gordian-engine/gfg/fg/fgtypes"
)

// ErrUnknownBlock is returned by Client methods
// referring to a block hash the client has never imported.
var ErrUnknownBlock = errors.New("unknown block")

// Header is the minimal view of a block header
// that the finality gadget needs:
// identity, parent linkage, and position.
type Header struct {
	Hash       fgtypes.Hash
	ParentHash fgtypes.Hash
	Number     uint64
}

// Client is the narrow contract to the underlying chain client.
//
// Block storage, the import pipeline, and best-chain selection
// live on the other side of this interface;
// the finality gadget only reads the tree shape and marks finality.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Header returns the header with the given hash,
	// or an error wrapping ErrUnknownBlock.
	Header(ctx context.Context, hash fgtypes.Hash) (Header, error)

	// IsDescendantOrEqual reports whether head is
	// the ancestor block itself or one of its descendants.
	IsDescendantOrEqual(ctx context.Context, ancestor, head fgtypes.Hash) (bool, error)

	// BestChainContaining returns the head of the best chain
	// that includes the given base block.
	BestChainContaining(ctx context.Context, base fgtypes.Hash) (Header, error)

	// HeaderAtNumberOn returns the header with the given number
	// on the chain from genesis to head.
	HeaderAtNumberOn(ctx context.Context, head fgtypes.Hash, number uint64) (Header, error)

	// FinalizedHead returns the most recently finalized header.
	FinalizedHead(ctx context.Context) (Header, error)

	// Finalize marks the given block and all its ancestors final,
	// returning the newly finalized headers in ascending number order.
	// Finalizing an already-final block returns an empty slice.
	// Finalizing a block on a fork away from the finalized chain is an error.
	Finalize(ctx context.Context, hash fgtypes.Hash) ([]Header, error)

	// ImportBlock adds a block to the tree.
	// The parent must already be known.
	ImportBlock(ctx context.Context, h Header) error
}

// AuxStore is the chain client's auxiliary key-value store,
// used to persist the authority-set record across restarts.
//
// Get returns (nil, nil) for an absent key.
type AuxStore interface {
	GetAux(ctx context.Context, key []byte) ([]byte, error)
	SetAux(ctx context.Context, key, value []byte) error
}
