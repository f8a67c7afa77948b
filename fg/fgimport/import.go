// Package fgimport wires the finality gadget into block import:
// intercepting imported blocks, collecting runtime-scheduled
// authority changes, and exposing the Link the voter runtime consumes.
package fgimport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gordian-engine/gfg/fg/fgauthority"
	"github.com/gordian-engine/gfg/fg/fgchain"
	"github.com/gordian-engine/gfg/fg/fgcodec"
	"github.com/gordian-engine/gfg/fg/fgtypes"
)

// RuntimeAccessor is the external contract to the chain runtime's
// authority bookkeeping.
type RuntimeAccessor interface {
	// GenesisAuthorities returns the authority list active at block 0.
	// Queried only when no persisted record exists.
	GenesisAuthorities(ctx context.Context) (fgtypes.Authorities, error)

	// PendingChange returns the change scheduled in the block
	// whose parent is parentHash, or nil if none.
	// Queried once per imported block.
	PendingChange(ctx context.Context, parentHash fgtypes.Hash) (*fgtypes.ScheduledChange, error)
}

// Config is the input to NewImportHook.
type Config struct {
	Chain fgchain.Client
	Aux   fgchain.AuxStore

	Accessor RuntimeAccessor

	Codec fgcodec.AuthoritySetCodec
}

// Link is the handle the import hook gives the voter runtime:
// the shared authority set, the chain client,
// and a wakeup channel signalled on each imported block.
type Link struct {
	AuthoritySet *fgauthority.Set

	Chain fgchain.Client

	aux   fgchain.AuxStore
	codec fgcodec.AuthoritySetCodec

	imported chan fgchain.Header
}

// Imported is signalled (capacity one, lossy) after each successful import,
// so the voter can re-evaluate without polling.
func (l *Link) Imported() <-chan fgchain.Header {
	return l.imported
}

// PersistAuthoritySet rewrites the persisted authority-set record
// from the current in-memory state.
func (l *Link) PersistAuthoritySet(ctx context.Context) error {
	b, err := l.codec.MarshalAuthoritySet(l.AuthoritySet.Record())
	if err != nil {
		return fmt.Errorf("failed to encode authority set record: %w", err)
	}
	if err := l.aux.SetAux(ctx, fgauthority.StoreKey, b); err != nil {
		return fmt.Errorf("failed to persist authority set record: %w", err)
	}
	return nil
}

// ImportHook wraps the chain client's import entry point.
//
// On each successfully imported block it consults the runtime
// for a scheduled change anchored at that block
// and feeds it into the authority set.
type ImportHook struct {
	log *slog.Logger

	cfg Config

	link *Link
}

// NewImportHook restores or bootstraps the persisted authority set
// and returns the hook along with the voter's Link.
//
// A persisted record that fails to decode is a fatal error:
// the process cannot vote without a trusted starting authority set.
func NewImportHook(ctx context.Context, log *slog.Logger, cfg Config) (*ImportHook, *Link, error) {
	raw, err := cfg.Aux.GetAux(ctx, fgauthority.StoreKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read authority set record: %w", err)
	}

	var set *fgauthority.Set
	if raw != nil {
		rec, err := cfg.Codec.UnmarshalAuthoritySet(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("corrupt authority set record: %w", err)
		}
		set, err = fgauthority.NewSetFromRecord(rec)
		if err != nil {
			return nil, nil, fmt.Errorf("corrupt authority set record: %w", err)
		}

		log.Info("Restored authority set", "set_id", rec.SetID, "pending_changes", len(rec.PendingChanges))
	} else {
		genesis, err := cfg.Accessor.GenesisAuthorities(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch genesis authorities: %w", err)
		}
		set, err = fgauthority.NewGenesisSet(genesis)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid genesis authorities: %w", err)
		}

		log.Info("Bootstrapped genesis authority set", "authorities", len(genesis))
	}

	link := &Link{
		AuthoritySet: set,

		Chain: cfg.Chain,

		aux:   cfg.Aux,
		codec: cfg.Codec,

		imported: make(chan fgchain.Header, 1),
	}

	h := &ImportHook{
		log: log,

		cfg: cfg,

		link: link,
	}

	// Write the initial record so a restart before the first enactment
	// does not re-query genesis state.
	if err := link.PersistAuthoritySet(ctx); err != nil {
		return nil, nil, err
	}

	return h, link, nil
}

// ImportBlock imports the block into the chain client,
// then records any authority change the runtime scheduled in it.
//
// Runtime inconsistencies (malformed or duplicate changes) propagate;
// they are not swallowed here.
func (h *ImportHook) ImportBlock(ctx context.Context, header fgchain.Header) error {
	if err := h.cfg.Chain.ImportBlock(ctx, header); err != nil {
		return fmt.Errorf("failed to import block %s: %w", header.Hash, err)
	}

	change, err := h.cfg.Accessor.PendingChange(ctx, header.ParentHash)
	if err != nil {
		return fmt.Errorf("runtime pending-change query failed for block %s: %w", header.Hash, err)
	}

	if change != nil {
		if err := h.link.AuthoritySet.AddPendingChange(header.Hash, header.Number, *change); err != nil {
			return fmt.Errorf("failed to schedule authority change at block %s: %w", header.Hash, err)
		}
		if err := h.link.PersistAuthoritySet(ctx); err != nil {
			return err
		}

		h.log.Info(
			"Scheduled authority change",
			"trigger_number", header.Number,
			"delay", change.Delay,
			"next_authorities", len(change.NextAuthorities),
		)
	}

	// Lossy wakeup for the voter.
	select {
	case h.link.imported <- header:
	default:
	}

	return nil
}
