package database

import (
	"context"
)

// VoterReader provides read-only access to enrolled voters
type VoterReader interface {
	// Get retrieves a voter by identity key, returns nil if not found
	Get(ctx context.Context, identityKey string) (*StoredVoter, error)
	// List returns redacted summaries of all voters ordered by registration time
	List(ctx context.Context) ([]VoterSummary, error)
	// Count returns the total number of voters
	Count(ctx context.Context) (int, error)
	// AllReferences returns every reference embedding, used to build the duplicate face index
	AllReferences(ctx context.Context) ([]IndexedReference, error)
}

// VoterWriter provides write access to voters
type VoterWriter interface {
	VoterReader

	// Insert stores a new voter. It is an atomic check-and-insert: returns false
	// without modifying anything if the identity key is already present.
	Insert(ctx context.Context, voter *StoredVoter) (bool, error)

	// Replace swaps the references of an existing voter and sets ReplacedAt.
	// Returns false if the voter does not exist.
	Replace(ctx context.Context, voter *StoredVoter) (bool, error)

	// AddReference appends a reference to an existing voter.
	// Returns false if the voter does not exist.
	AddReference(ctx context.Context, identityKey string, ref Reference) (bool, error)
}

// ChallengeStore holds at most one live challenge per identity key
type ChallengeStore interface {
	// Put stores the challenge, overwriting any previous one for the same key
	Put(ctx context.Context, ch *StoredChallenge) error
	// Get retrieves the current challenge, returns nil if none exists
	Get(ctx context.Context, identityKey string) (*StoredChallenge, error)
	// MarkVerified sets verified=true if the current challenge still has the given ID.
	// Returns false if the challenge was re-issued or removed in the meantime.
	MarkVerified(ctx context.Context, identityKey, challengeID string) (bool, error)
	// Delete removes the challenge if it still has the given ID.
	// Returns false if another caller removed it first or it was re-issued.
	Delete(ctx context.Context, identityKey, challengeID string) (bool, error)
}

// RollChecker answers whether an identifier pair is on the electoral roll
type RollChecker interface {
	OnRoll(ctx context.Context, primary, secondary string) (bool, error)
}
