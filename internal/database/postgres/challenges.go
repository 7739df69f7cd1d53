package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/voter-gate/internal/database"
)

// ChallengeRepository provides PostgreSQL-backed OTP challenge storage
type ChallengeRepository struct {
	pool *Pool
}

// NewChallengeRepository creates a new PostgreSQL challenge repository
func NewChallengeRepository(pool *Pool) *ChallengeRepository {
	return &ChallengeRepository{pool: pool}
}

// Put stores a challenge, replacing any previous one for the identity
func (r *ChallengeRepository) Put(ctx context.Context, ch *database.StoredChallenge) error {
	query := `
		INSERT INTO otp_challenges (identity_key, id, code_hash, issued_at, verified)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identity_key) DO UPDATE SET
			id = EXCLUDED.id,
			code_hash = EXCLUDED.code_hash,
			issued_at = EXCLUDED.issued_at,
			verified = EXCLUDED.verified
	`

	_, err := r.pool.Exec(ctx, query, ch.IdentityKey, ch.ID, ch.CodeHash, ch.IssuedAt, ch.Verified)
	if err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

// Get retrieves the current challenge, returns nil if not found
func (r *ChallengeRepository) Get(ctx context.Context, identityKey string) (*database.StoredChallenge, error) {
	query := `
		SELECT identity_key, id, code_hash, issued_at, verified
		FROM otp_challenges
		WHERE identity_key = $1
	`

	var ch database.StoredChallenge
	err := r.pool.QueryRow(ctx, query, identityKey).Scan(
		&ch.IdentityKey,
		&ch.ID,
		&ch.CodeHash,
		&ch.IssuedAt,
		&ch.Verified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return &ch, nil
}

// MarkVerified flags the challenge as verified if it still has the given ID
func (r *ChallengeRepository) MarkVerified(ctx context.Context, identityKey, challengeID string) (bool, error) {
	result, err := r.pool.Exec(ctx,
		"UPDATE otp_challenges SET verified = TRUE WHERE identity_key = $1 AND id = $2",
		identityKey, challengeID,
	)
	if err != nil {
		return false, fmt.Errorf("mark challenge verified: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark challenge verified rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete removes the challenge if it still has the given ID
func (r *ChallengeRepository) Delete(ctx context.Context, identityKey, challengeID string) (bool, error) {
	result, err := r.pool.Exec(ctx,
		"DELETE FROM otp_challenges WHERE identity_key = $1 AND id = $2",
		identityKey, challengeID,
	)
	if err != nil {
		return false, fmt.Errorf("delete challenge: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete challenge rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteIssuedBefore removes challenges issued before cutoff and returns the count deleted
func (r *ChallengeRepository) DeleteIssuedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, "DELETE FROM otp_challenges WHERE issued_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale challenges: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete stale challenges rows affected: %w", err)
	}
	return n, nil
}
