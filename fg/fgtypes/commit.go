package fgtypes

// Commit announces the finalization of a block to the whole set epoch,
// justified by a supermajority of precommits.
type Commit struct {
	TargetHash   Hash
	TargetNumber uint64

	Round uint64
	SetID uint64

	// The precommits backing the commit.
	// Receivers verify these against their own view of the authority set;
	// a commit without supermajority weight of valid signatures is dropped.
	Precommits []SignedVote
}

// FinalityNotification is the externally observable record
// that a block became irreversible.
//
// A voter emits exactly one notification per finalized block,
// in strictly increasing block-number order.
type FinalityNotification struct {
	Hash   Hash
	Number uint64
}
