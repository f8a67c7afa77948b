package fgvoter

import (
	"errors"
	"time"

	petname "github.com/dustinkirkland/golang-petname"

	"github.com/gordian-engine/gfg/fg/fgcodec"
	"github.com/gordian-engine/gfg/gcrypto"
)

// Config holds the voter runtime's recognized options.
type Config struct {
	// GossipDuration is the per-stage gossip timeout:
	// how long a round waits for further votes
	// before proceeding with the support it has.
	GossipDuration time.Duration

	// LocalKey is the local signing identity.
	// Nil means observer mode:
	// the runtime validates, tallies, and relays finality,
	// but never casts votes.
	LocalKey gcrypto.Signer

	// Name is a diagnostic label with no protocol effect.
	// Left empty, a readable name is generated.
	Name string

	// Codec encodes votes, commits, and the persisted record.
	Codec fgcodec.Codec
}

func (c *Config) validate() error {
	if c.GossipDuration <= 0 {
		return errors.New("gossip duration must be positive")
	}
	if c.Codec == nil {
		return errors.New("codec must not be nil")
	}

	if c.Name == "" {
		c.Name = petname.Generate(2, "-")
	}

	return nil
}
