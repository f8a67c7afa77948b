package fgnetwork_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/gfg/fg/fgnetwork"
)

func TestTopics_noCollisions(t *testing.T) {
	t.Parallel()

	seen := make(map[fgnetwork.Topic]string)

	add := func(name string, topic fgnetwork.Topic) {
		if prev, ok := seen[topic]; ok {
			t.Fatalf("topic collision between %s and %s", prev, name)
		}
		seen[topic] = name
	}

	for round := uint64(0); round < 5; round++ {
		for setID := uint64(0); setID < 5; setID++ {
			add("round topic", fgnetwork.RoundTopic(round, setID))
		}
	}
	for setID := uint64(0); setID < 5; setID++ {
		add("commit topic", fgnetwork.CommitTopic(setID))
	}
}

func TestTopic_stringIsHex(t *testing.T) {
	t.Parallel()

	s := fgnetwork.RoundTopic(1, 0).String()
	require.Len(t, s, 2*fgnetwork.TopicSize)

	// Same inputs, same name; differing inputs, differing names.
	require.Equal(t, s, fgnetwork.RoundTopic(1, 0).String())
	require.NotEqual(t, s, fgnetwork.RoundTopic(2, 0).String())
}
