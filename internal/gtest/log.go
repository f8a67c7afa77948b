package gtest

import (
	"log/slog"
	"testing"

	"github.com/neilotoole/slogt"
)

// NewLogger returns a *slog.Logger bound to t,
// so that log output is associated with the correct test
// and hidden unless the test fails or -v is given.
func NewLogger(t *testing.T) *slog.Logger {
	return slogt.New(t)
}
