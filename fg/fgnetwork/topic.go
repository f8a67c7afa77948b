package fgnetwork

import (
	"encoding/binary"
	"encoding/hex"
)

// TopicSize is the size in bytes of a gossip topic identifier.
const TopicSize = 32

// Topic identifies one gossip channel.
//
// Round topics and commit topics are derived so that
// no (round, set) pair collides with any other pair or with any commit topic:
// round topics use only the first 16 bytes,
// while commit topics leave those zero and set an ASCII tag at offset 16.
type Topic [TopicSize]byte

// RoundTopic derives the topic for one round's vote messages.
func RoundTopic(round, setID uint64) Topic {
	var t Topic
	binary.LittleEndian.PutUint64(t[0:8], round)
	binary.LittleEndian.PutUint64(t[8:16], setID)
	return t
}

// CommitTopic derives the topic for a set epoch's commit messages.
func CommitTopic(setID uint64) Topic {
	var t Topic
	copy(t[16:22], "commit")
	binary.LittleEndian.PutUint64(t[24:32], setID)
	return t
}

// String returns the hex form of the topic,
// which doubles as the pubsub topic name in transport adapters.
func (t Topic) String() string {
	return hex.EncodeToString(t[:])
}
