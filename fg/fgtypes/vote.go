package fgtypes

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gordian-engine/gfg/gcrypto"
)

// VoteStage distinguishes the two voting stages within a round.
type VoteStage uint8

const (
	_ VoteStage = iota // Zero value reserved so unset stages are detectable.

	StagePrevote
	StagePrecommit
)

func (s VoteStage) String() string {
	switch s {
	case StagePrevote:
		return "prevote"
	case StagePrecommit:
		return "precommit"
	default:
		return fmt.Sprintf("VoteStage(%d)", uint8(s))
	}
}

// Vote is the content of a single prevote or precommit:
// the target block, and the round and set the vote belongs to.
// Votes are immutable once created.
type Vote struct {
	Stage VoteStage

	TargetHash   Hash
	TargetNumber uint64

	Round uint64
	SetID uint64
}

// SignBytes is the canonical byte representation of the vote
// that authorities sign and verify.
func (v Vote) SignBytes() []byte {
	out := make([]byte, 1+HashSize+8+8+8)
	out[0] = byte(v.Stage)
	copy(out[1:], v.TargetHash[:])
	binary.LittleEndian.PutUint64(out[1+HashSize:], v.TargetNumber)
	binary.LittleEndian.PutUint64(out[1+HashSize+8:], v.Round)
	binary.LittleEndian.PutUint64(out[1+HashSize+16:], v.SetID)
	return out
}

// SignedVote is a vote together with the voting authority's key
// and its signature over the vote's sign bytes.
type SignedVote struct {
	Vote Vote

	PubKey    gcrypto.PubKey
	Signature []byte
}

// SignVote produces a SignedVote by the given signer.
func SignVote(ctx context.Context, signer gcrypto.Signer, v Vote) (SignedVote, error) {
	sig, err := signer.Sign(ctx, v.SignBytes())
	if err != nil {
		return SignedVote{}, fmt.Errorf("failed to sign %s: %w", v.Stage, err)
	}

	return SignedVote{
		Vote:      v,
		PubKey:    signer.PubKey(),
		Signature: sig,
	}, nil
}

// Verify reports whether the signature is valid for the vote content.
func (sv SignedVote) Verify() bool {
	if sv.PubKey == nil {
		return false
	}
	return sv.PubKey.Verify(sv.Vote.SignBytes(), sv.Signature)
}
