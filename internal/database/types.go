package database

import (
	"time"
)

// Reference sources
const (
	SourceEnrolled  = "enrolled"
	SourceFirstSeen = "first_seen"
	SourceImported  = "imported"
	SourceCaptured  = "captured"
)

// StoredVoter represents an enrolled voter. The first reference is the canonical one.
type StoredVoter struct {
	IdentityKey         string
	MaskedIdentifier    string
	SecondaryIdentifier string
	Model               string // provider model that produced the references
	Dim                 int    // embedding dimension, 0 for comparer providers
	References          []Reference
	RegisteredAt        time.Time
	ReplacedAt          *time.Time
}

// Reference is one reference face of a voter
type Reference struct {
	Embedding []float32 // nil when the provider compares images itself
	SourceRef string    // image store pointer (file://..., azblob://...)
	Source    string    // enrolled, first_seen, imported or captured
	AddedAt   time.Time
}

// IndexedReference is a reference embedding flattened for index building
type IndexedReference struct {
	IdentityKey string
	Model       string
	Embedding   []float32
}

// VoterSummary is the redacted view of a voter. It never carries embeddings.
type VoterSummary struct {
	IdentityKey         string
	MaskedIdentifier    string
	SecondaryIdentifier string
	Model               string
	ReferenceCount      int
	RegisteredAt        time.Time
	ReplacedAt          *time.Time
}

// StoredChallenge represents an issued one-time code. Only the hash of the code is kept.
type StoredChallenge struct {
	IdentityKey string
	ID          string
	CodeHash    string
	IssuedAt    time.Time
	Verified    bool
}
