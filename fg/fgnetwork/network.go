// Package fgnetwork defines the gossip capability the voter consumes,
// and the deterministic derivation of gossip topics
// from round numbers and authority-set ids.
package fgnetwork

// Network is the gossip capability used to exchange round votes
// and finality commits.
//
// Implementations wrap a real gossip transport or an in-process router;
// the voter makes no assumption of ordering or exactly-once delivery.
//
// A message channel closing before its consumer is done with the round
// is a fatal condition for that consumer:
// resubscription semantics belong to the gossip layer,
// and silently resubscribing could desynchronize round state.
type Network interface {
	// MessagesFor returns the stream of raw vote payloads
	// gossiped under the topic for (round, setID).
	// Each call returns an independent subscription.
	MessagesFor(round, setID uint64) (<-chan []byte, error)

	// SendMessage broadcasts a vote payload under the round's topic.
	// Delivery is best effort.
	SendMessage(round, setID uint64, msg []byte) error

	// DropMessages releases resources held for the round's topic.
	// Safe to call multiple times.
	DropMessages(round, setID uint64)

	// CommitMessagesFor returns the stream of commit payloads
	// for the whole set epoch.
	CommitMessagesFor(setID uint64) (<-chan []byte, error)

	// SendCommit broadcasts a commit payload under the set's commit topic.
	SendCommit(setID uint64, msg []byte) error

	// DropCommits releases resources held for the set's commit topic.
	// Safe to call multiple times.
	DropCommits(setID uint64)
}
