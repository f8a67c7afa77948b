package fgtypes

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the size in bytes of block hashes and gossip topics.
const HashSize = 32

// Hash is a fixed-size block hash.
//
// The zero Hash is treated as "no block" throughout the module.
type Hash [HashSize]byte

// HashFromBytes converts a byte slice to a Hash,
// returning an error on length mismatch.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length %d, want %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText allows a Hash to be used directly as a JSON object key.
func (h Hash) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(out, h[:])
	return out, nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	if hex.DecodedLen(len(b)) != HashSize {
		return fmt.Errorf("invalid encoded hash length %d", len(b))
	}
	_, err := hex.Decode(h[:], b)
	return err
}
