package fgtypes_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/gfg/fg/fgtypes"
	"github.com/gordian-engine/gfg/gcrypto/gcryptotest"
)

func TestSignVote_verify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	signer := gcryptotest.DeterministicEd25519Signers(1)[0]

	v := fgtypes.Vote{
		Stage: fgtypes.StagePrevote,

		TargetHash:   fgtypes.Hash{1, 2, 3},
		TargetNumber: 7,

		Round: 1,
		SetID: 0,
	}

	sv, err := fgtypes.SignVote(ctx, signer, v)
	require.NoError(t, err)
	require.True(t, sv.Verify())

	// A differing signer's key must not verify this signature.
	other := gcryptotest.DeterministicEd25519Signers(2)[1]
	forged := sv
	forged.PubKey = other.PubKey()
	require.False(t, forged.Verify())

	// Any change to the vote content invalidates the signature.
	tampered := sv
	tampered.Vote.TargetNumber = 8
	require.False(t, tampered.Verify())

	tampered = sv
	tampered.Vote.Stage = fgtypes.StagePrecommit
	require.False(t, tampered.Verify())
}

func TestVote_signBytesDistinct(t *testing.T) {
	t.Parallel()

	base := fgtypes.Vote{
		Stage: fgtypes.StagePrevote,

		TargetHash:   fgtypes.Hash{1},
		TargetNumber: 5,

		Round: 2,
		SetID: 1,
	}

	variants := []fgtypes.Vote{base, base, base, base, base}
	variants[1].Stage = fgtypes.StagePrecommit
	variants[2].TargetNumber = 6
	variants[3].Round = 3
	variants[4].SetID = 2

	seen := make(map[string]int)
	for i, v := range variants {
		sb := string(v.SignBytes())
		if prev, ok := seen[sb]; ok {
			t.Fatalf("votes %d and %d produced identical sign bytes", prev, i)
		}
		seen[sb] = i
	}
}

func TestSignedVote_verifyNilKey(t *testing.T) {
	t.Parallel()

	var sv fgtypes.SignedVote
	require.False(t, sv.Verify())
}
