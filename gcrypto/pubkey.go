package gcrypto

import "context"

// PubKey is the interface to a public key,
// used for verifying signatures on finality votes.
type PubKey interface {
	// Address is a condensed, unique representation of the key,
	// used for logging and map keys.
	Address() []byte

	// PubKeyBytes is the raw encoding of the public key,
	// appropriate for sending over the wire.
	PubKeyBytes() []byte

	// Equal reports whether other represents the same key.
	Equal(other PubKey) bool

	// Verify reports whether sig is a valid signature by this key over msg.
	Verify(msg, sig []byte) bool
}

// Signer is the interface for producing signatures over arbitrary messages.
//
// Implementations are not required to be usable from concurrent goroutines.
type Signer interface {
	// PubKey returns the public key associated with this signer.
	PubKey() PubKey

	// Sign returns the signature over the given input.
	//
	// Signing locally should rarely block,
	// but the context is accepted for implementations
	// backed by an external signing process.
	Sign(ctx context.Context, input []byte) ([]byte, error)
}
