package gcryptotest

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/gordian-engine/gfg/gcrypto"
)

var (
	muSigners sync.Mutex

	// Cache of deterministic signers, so that tests repeatedly
	// requesting the same indices do not redo key derivation.
	signers []gcrypto.Ed25519Signer
)

// DeterministicEd25519Signers returns a deterministic slice of n ed25519 signers.
//
// Deterministic keys mean that logs involving keys or addresses
// do not change across runs of the same test,
// which simplifies debugging considerably.
func DeterministicEd25519Signers(n int) []gcrypto.Ed25519Signer {
	muSigners.Lock()
	defer muSigners.Unlock()

	for i := len(signers); i < n; i++ {
		seed := sha256.Sum256([]byte(fmt.Sprintf("gfg-deterministic-signer-%d", i)))
		priv := ed25519.NewKeyFromSeed(seed[:])
		signers = append(signers, gcrypto.NewEd25519Signer(priv))
	}

	out := make([]gcrypto.Ed25519Signer, n)
	copy(out, signers[:n])
	return out
}
