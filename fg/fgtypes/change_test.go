package fgtypes_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/gfg/fg/fgtypes"
)

func TestPendingChange_effectiveNumber(t *testing.T) {
	t.Parallel()

	pc := fgtypes.PendingChange{
		TriggerNumber: 15,
		Change:        fgtypes.ScheduledChange{Delay: 4},
	}

	eff, ok := pc.EffectiveNumber()
	require.True(t, ok)
	require.Equal(t, uint64(19), eff)

	pc.Change.Delay = 0
	eff, ok = pc.EffectiveNumber()
	require.True(t, ok)
	require.Equal(t, uint64(15), eff)

	pc.TriggerNumber = math.MaxUint64
	pc.Change.Delay = 1
	_, ok = pc.EffectiveNumber()
	require.False(t, ok)
}
