package database

import (
	"context"
	"fmt"
)

var (
	postgresVoterWriter    func() VoterWriter
	postgresChallengeStore func() ChallengeStore
	postgresInitialized    bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(
	voters func() VoterWriter,
	challenges func() ChallengeStore,
) {
	postgresVoterWriter = voters
	postgresChallengeStore = challenges
	postgresInitialized = true
}

// GetVoterWriter returns a VoterWriter from the PostgreSQL backend
func GetVoterWriter(ctx context.Context) (VoterWriter, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresVoterWriter == nil {
		return nil, fmt.Errorf("PostgreSQL voter writer not registered")
	}
	return postgresVoterWriter(), nil
}

// GetChallengeStore returns a ChallengeStore from the PostgreSQL backend
func GetChallengeStore(ctx context.Context) (ChallengeStore, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresChallengeStore == nil {
		return nil, fmt.Errorf("PostgreSQL challenge store not registered")
	}
	return postgresChallengeStore(), nil
}
