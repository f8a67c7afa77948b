package gcrypto_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/gfg/gcrypto"
	"github.com/gordian-engine/gfg/gcrypto/gcryptotest"
)

func TestRegistry_roundTrip(t *testing.T) {
	t.Parallel()

	reg := new(gcrypto.Registry)
	gcrypto.RegisterEd25519(reg)

	orig := gcryptotest.DeterministicEd25519Signers(1)[0].PubKey()

	b := reg.Marshal(orig)
	got, err := reg.Unmarshal(b)
	require.NoError(t, err)

	require.True(t, orig.Equal(got))
	require.Equal(t, orig.PubKeyBytes(), got.PubKeyBytes())
}

func TestRegistry_unknownPrefix(t *testing.T) {
	t.Parallel()

	reg := new(gcrypto.Registry)
	gcrypto.RegisterEd25519(reg)

	b := append([]byte("bogus\x00\x00\x00"), make([]byte, 32)...)
	_, err := reg.Unmarshal(b)
	require.ErrorContains(t, err, `no registered public key type for prefix "bogus"`)
}

func TestRegistry_shortInput(t *testing.T) {
	t.Parallel()

	reg := new(gcrypto.Registry)
	gcrypto.RegisterEd25519(reg)

	_, err := reg.Unmarshal([]byte("abc"))
	require.Error(t, err)
}

func TestRegistry_marshalUnregisteredPanics(t *testing.T) {
	t.Parallel()

	reg := new(gcrypto.Registry)

	k := gcryptotest.DeterministicEd25519Signers(1)[0].PubKey()
	require.Panics(t, func() {
		_ = reg.Marshal(k)
	})
}
