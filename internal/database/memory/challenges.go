package memory

import (
	"context"
	"sync"

	"github.com/kozaktomas/voter-gate/internal/database"
)

// ChallengeStore is an in-memory implementation of database.ChallengeStore
type ChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]database.StoredChallenge

	// Error injection
	PutError    error
	GetError    error
	DeleteError error
}

// NewChallengeStore creates a new empty challenge store
func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{
		challenges: make(map[string]database.StoredChallenge),
	}
}

// Put stores the challenge, overwriting any previous one
func (s *ChallengeStore) Put(ctx context.Context, ch *database.StoredChallenge) error {
	if s.PutError != nil {
		return s.PutError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[ch.IdentityKey] = *ch
	return nil
}

// Get retrieves the current challenge for a key
func (s *ChallengeStore) Get(ctx context.Context, identityKey string) (*database.StoredChallenge, error) {
	if s.GetError != nil {
		return nil, s.GetError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[identityKey]
	if !ok {
		return nil, nil
	}
	return &ch, nil
}

// MarkVerified flags the challenge as verified if it was not re-issued
func (s *ChallengeStore) MarkVerified(ctx context.Context, identityKey, challengeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[identityKey]
	if !ok || ch.ID != challengeID {
		return false, nil
	}
	ch.Verified = true
	s.challenges[identityKey] = ch
	return true, nil
}

// Delete removes the challenge if it was not re-issued
func (s *ChallengeStore) Delete(ctx context.Context, identityKey, challengeID string) (bool, error) {
	if s.DeleteError != nil {
		return false, s.DeleteError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[identityKey]
	if !ok || ch.ID != challengeID {
		return false, nil
	}
	delete(s.challenges, identityKey)
	return true, nil
}
