// Package memory provides in-process implementations of the database interfaces.
// They are not durable: everything is lost when the process exits. Use them for
// development and tests only.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/voter-gate/internal/database"
)

// VoterStore is an in-memory implementation of database.VoterWriter
type VoterStore struct {
	mu     sync.RWMutex
	voters map[string]*database.StoredVoter

	// Error injection
	GetError    error
	InsertError error
	ListError   error
}

// NewVoterStore creates a new empty voter store
func NewVoterStore() *VoterStore {
	return &VoterStore{
		voters: make(map[string]*database.StoredVoter),
	}
}

// Get retrieves a voter by identity key
func (s *VoterStore) Get(ctx context.Context, identityKey string) (*database.StoredVoter, error) {
	if s.GetError != nil {
		return nil, s.GetError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.voters[identityKey]
	if !ok {
		return nil, nil
	}
	return cloneVoter(v), nil
}

// List returns redacted summaries ordered by registration time
func (s *VoterStore) List(ctx context.Context) ([]database.VoterSummary, error) {
	if s.ListError != nil {
		return nil, s.ListError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]database.VoterSummary, 0, len(s.voters))
	for _, v := range s.voters {
		out = append(out, database.VoterSummary{
			IdentityKey:         v.IdentityKey,
			MaskedIdentifier:    v.MaskedIdentifier,
			SecondaryIdentifier: v.SecondaryIdentifier,
			Model:               v.Model,
			ReferenceCount:      len(v.References),
			RegisteredAt:        v.RegisteredAt,
			ReplacedAt:          v.ReplacedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].IdentityKey < out[j].IdentityKey
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}

// Count returns the number of voters
func (s *VoterStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.voters), nil
}

// AllReferences returns every stored reference embedding
func (s *VoterStore) AllReferences(ctx context.Context) ([]database.IndexedReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []database.IndexedReference
	for _, v := range s.voters {
		for _, ref := range v.References {
			if len(ref.Embedding) == 0 {
				continue
			}
			out = append(out, database.IndexedReference{
				IdentityKey: v.IdentityKey,
				Model:       v.Model,
				Embedding:   ref.Embedding,
			})
		}
	}
	return out, nil
}

// Insert stores a voter unless the key is already taken
func (s *VoterStore) Insert(ctx context.Context, voter *database.StoredVoter) (bool, error) {
	if s.InsertError != nil {
		return false, s.InsertError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.voters[voter.IdentityKey]; exists {
		return false, nil
	}
	s.voters[voter.IdentityKey] = cloneVoter(voter)
	return true, nil
}

// Replace swaps the references of an existing voter
func (s *VoterStore) Replace(ctx context.Context, voter *database.StoredVoter) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.voters[voter.IdentityKey]
	if !ok {
		return false, nil
	}
	replaced := cloneVoter(voter)
	replaced.RegisteredAt = existing.RegisteredAt
	if replaced.ReplacedAt == nil {
		now := time.Now()
		replaced.ReplacedAt = &now
	}
	s.voters[voter.IdentityKey] = replaced
	return true, nil
}

// AddReference appends a reference to an existing voter
func (s *VoterStore) AddReference(ctx context.Context, identityKey string, ref database.Reference) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.voters[identityKey]
	if !ok {
		return false, nil
	}
	v.References = append(v.References, cloneReference(ref))
	return true, nil
}

func cloneVoter(v *database.StoredVoter) *database.StoredVoter {
	c := *v
	c.References = make([]database.Reference, len(v.References))
	for i, ref := range v.References {
		c.References[i] = cloneReference(ref)
	}
	if v.ReplacedAt != nil {
		t := *v.ReplacedAt
		c.ReplacedAt = &t
	}
	return &c
}

func cloneReference(ref database.Reference) database.Reference {
	if ref.Embedding != nil {
		emb := make([]float32, len(ref.Embedding))
		copy(emb, ref.Embedding)
		ref.Embedding = emb
	}
	return ref
}
