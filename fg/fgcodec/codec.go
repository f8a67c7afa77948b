// Package fgcodec defines the wire and storage encoding contracts
// for finality votes, commits, and the persisted authority-set record.
package fgcodec

import (
	"github.com/gordian-engine/gfg/fg/fgauthority"
	"github.com/gordian-engine/gfg/fg/fgtypes"
)

// VoteCodec encodes and decodes the per-round gossip payloads.
type VoteCodec interface {
	MarshalVote(fgtypes.SignedVote) ([]byte, error)
	UnmarshalVote([]byte) (fgtypes.SignedVote, error)
}

// CommitCodec encodes and decodes the per-set commit payloads.
type CommitCodec interface {
	MarshalCommit(fgtypes.Commit) ([]byte, error)
	UnmarshalCommit([]byte) (fgtypes.Commit, error)
}

// AuthoritySetCodec encodes and decodes the persisted authority-set record.
type AuthoritySetCodec interface {
	MarshalAuthoritySet(fgauthority.Record) ([]byte, error)
	UnmarshalAuthoritySet([]byte) (fgauthority.Record, error)
}

// Codec is the aggregate of all encoding concerns in the module.
type Codec interface {
	VoteCodec
	CommitCodec
	AuthoritySetCodec
}
