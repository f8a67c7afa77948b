// Package fgjson contains a type satisfying the [fgcodec] interfaces
// that serializes to and deserializes from JSON.
//
// JSON is simple to work with and easy to inspect on the wire;
// denser encodings can be swapped in behind the same interfaces.
package fgjson

import (
	"encoding/json"
	"fmt"

	"github.com/gordian-engine/gfg/fg/fgauthority"
	"github.com/gordian-engine/gfg/fg/fgtypes"
	"github.com/gordian-engine/gfg/gcrypto"
)

// MarshalCodec implements [fgcodec.Codec] in terms of encoding/json.
type MarshalCodec struct {
	// CryptoRegistry is how public keys are encoded and restored.
	CryptoRegistry *gcrypto.Registry
}

type jsonAuthority struct {
	PubKey []byte
	Weight uint64
}

func (c MarshalCodec) authoritiesToJSON(as fgtypes.Authorities) []jsonAuthority {
	out := make([]jsonAuthority, len(as))
	for i, a := range as {
		out[i] = jsonAuthority{
			PubKey: c.CryptoRegistry.Marshal(a.PubKey),
			Weight: a.Weight,
		}
	}
	return out
}

func (c MarshalCodec) authoritiesFromJSON(js []jsonAuthority) (fgtypes.Authorities, error) {
	out := make(fgtypes.Authorities, len(js))
	for i, ja := range js {
		k, err := c.CryptoRegistry.Unmarshal(ja.PubKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode authority key at index %d: %w", i, err)
		}
		out[i] = fgtypes.Authority{PubKey: k, Weight: ja.Weight}
	}
	return out, nil
}

type jsonVote struct {
	Stage uint8

	TargetHash   fgtypes.Hash
	TargetNumber uint64

	Round uint64
	SetID uint64
}

type jsonSignedVote struct {
	Vote jsonVote

	PubKey    []byte
	Signature []byte
}

func voteToJSON(v fgtypes.Vote) jsonVote {
	return jsonVote{
		Stage:        uint8(v.Stage),
		TargetHash:   v.TargetHash,
		TargetNumber: v.TargetNumber,
		Round:        v.Round,
		SetID:        v.SetID,
	}
}

func voteFromJSON(jv jsonVote) fgtypes.Vote {
	return fgtypes.Vote{
		Stage:        fgtypes.VoteStage(jv.Stage),
		TargetHash:   jv.TargetHash,
		TargetNumber: jv.TargetNumber,
		Round:        jv.Round,
		SetID:        jv.SetID,
	}
}

func (c MarshalCodec) signedVoteToJSON(sv fgtypes.SignedVote) jsonSignedVote {
	return jsonSignedVote{
		Vote:      voteToJSON(sv.Vote),
		PubKey:    c.CryptoRegistry.Marshal(sv.PubKey),
		Signature: sv.Signature,
	}
}

func (c MarshalCodec) signedVoteFromJSON(jsv jsonSignedVote) (fgtypes.SignedVote, error) {
	k, err := c.CryptoRegistry.Unmarshal(jsv.PubKey)
	if err != nil {
		return fgtypes.SignedVote{}, fmt.Errorf("failed to decode voter key: %w", err)
	}

	return fgtypes.SignedVote{
		Vote:      voteFromJSON(jsv.Vote),
		PubKey:    k,
		Signature: jsv.Signature,
	}, nil
}

func (c MarshalCodec) MarshalVote(sv fgtypes.SignedVote) ([]byte, error) {
	return json.Marshal(c.signedVoteToJSON(sv))
}

func (c MarshalCodec) UnmarshalVote(b []byte) (fgtypes.SignedVote, error) {
	var jsv jsonSignedVote
	if err := json.Unmarshal(b, &jsv); err != nil {
		return fgtypes.SignedVote{}, fmt.Errorf("failed to unmarshal vote: %w", err)
	}
	return c.signedVoteFromJSON(jsv)
}

type jsonCommit struct {
	TargetHash   fgtypes.Hash
	TargetNumber uint64

	Round uint64
	SetID uint64

	Precommits []jsonSignedVote
}

func (c MarshalCodec) MarshalCommit(commit fgtypes.Commit) ([]byte, error) {
	jc := jsonCommit{
		TargetHash:   commit.TargetHash,
		TargetNumber: commit.TargetNumber,
		Round:        commit.Round,
		SetID:        commit.SetID,
		Precommits:   make([]jsonSignedVote, len(commit.Precommits)),
	}
	for i, sv := range commit.Precommits {
		jc.Precommits[i] = c.signedVoteToJSON(sv)
	}
	return json.Marshal(jc)
}

func (c MarshalCodec) UnmarshalCommit(b []byte) (fgtypes.Commit, error) {
	var jc jsonCommit
	if err := json.Unmarshal(b, &jc); err != nil {
		return fgtypes.Commit{}, fmt.Errorf("failed to unmarshal commit: %w", err)
	}

	out := fgtypes.Commit{
		TargetHash:   jc.TargetHash,
		TargetNumber: jc.TargetNumber,
		Round:        jc.Round,
		SetID:        jc.SetID,
		Precommits:   make([]fgtypes.SignedVote, len(jc.Precommits)),
	}
	for i, jsv := range jc.Precommits {
		sv, err := c.signedVoteFromJSON(jsv)
		if err != nil {
			return fgtypes.Commit{}, fmt.Errorf("failed to decode precommit at index %d: %w", i, err)
		}
		out.Precommits[i] = sv
	}
	return out, nil
}

type jsonPendingChange struct {
	TriggerHash   fgtypes.Hash
	TriggerNumber uint64

	NextAuthorities []jsonAuthority
	Delay           uint64
}

type jsonAuthoritySet struct {
	SetID          uint64
	Authorities    []jsonAuthority
	PendingChanges []jsonPendingChange
}

func (c MarshalCodec) MarshalAuthoritySet(r fgauthority.Record) ([]byte, error) {
	js := jsonAuthoritySet{
		SetID:          r.SetID,
		Authorities:    c.authoritiesToJSON(r.Authorities),
		PendingChanges: make([]jsonPendingChange, len(r.PendingChanges)),
	}
	for i, pc := range r.PendingChanges {
		js.PendingChanges[i] = jsonPendingChange{
			TriggerHash:     pc.TriggerHash,
			TriggerNumber:   pc.TriggerNumber,
			NextAuthorities: c.authoritiesToJSON(pc.Change.NextAuthorities),
			Delay:           pc.Change.Delay,
		}
	}
	return json.Marshal(js)
}

func (c MarshalCodec) UnmarshalAuthoritySet(b []byte) (fgauthority.Record, error) {
	var js jsonAuthoritySet
	if err := json.Unmarshal(b, &js); err != nil {
		return fgauthority.Record{}, fmt.Errorf("failed to unmarshal authority set record: %w", err)
	}

	authorities, err := c.authoritiesFromJSON(js.Authorities)
	if err != nil {
		return fgauthority.Record{}, err
	}

	out := fgauthority.Record{
		SetID:       js.SetID,
		Authorities: authorities,
	}
	if len(js.PendingChanges) > 0 {
		out.PendingChanges = make([]fgtypes.PendingChange, len(js.PendingChanges))
		for i, jpc := range js.PendingChanges {
			next, err := c.authoritiesFromJSON(jpc.NextAuthorities)
			if err != nil {
				return fgauthority.Record{}, fmt.Errorf("failed to decode pending change at index %d: %w", i, err)
			}
			out.PendingChanges[i] = fgtypes.PendingChange{
				TriggerHash:   jpc.TriggerHash,
				TriggerNumber: jpc.TriggerNumber,
				Change: fgtypes.ScheduledChange{
					NextAuthorities: next,
					Delay:           jpc.Delay,
				},
			}
		}
	}
	return out, nil
}
