package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/voter-gate/internal/database"
)

// VoterRepository provides PostgreSQL-backed voter storage.
// Uniqueness per identity key is enforced by the primary key.
type VoterRepository struct {
	pool *Pool
}

// NewVoterRepository creates a new PostgreSQL voter repository.
func NewVoterRepository(pool *Pool) *VoterRepository {
	return &VoterRepository{pool: pool}
}

// Get retrieves a voter with all references, returns nil if not found.
func (r *VoterRepository) Get(ctx context.Context, identityKey string) (*database.StoredVoter, error) {
	var v database.StoredVoter
	var replacedAt sql.NullTime
	err := r.pool.QueryRow(ctx, `
		SELECT identity_key, masked_identifier, secondary_identifier, model, dim, registered_at, replaced_at
		FROM voters
		WHERE identity_key = $1
	`, identityKey).Scan(
		&v.IdentityKey,
		&v.MaskedIdentifier,
		&v.SecondaryIdentifier,
		&v.Model,
		&v.Dim,
		&v.RegisteredAt,
		&replacedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get voter: %w", err)
	}
	if replacedAt.Valid {
		v.ReplacedAt = &replacedAt.Time
	}

	refs, err := r.references(ctx, identityKey)
	if err != nil {
		return nil, err
	}
	v.References = refs
	return &v, nil
}

func (r *VoterRepository) references(ctx context.Context, identityKey string) ([]database.Reference, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT embedding, source_ref, source, added_at
		FROM voter_references
		WHERE identity_key = $1
		ORDER BY id
	`, identityKey)
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}
	defer rows.Close()

	var refs []database.Reference
	for rows.Next() {
		var ref database.Reference
		var vec *pgvector.Vector
		if err := rows.Scan(&vec, &ref.SourceRef, &ref.Source, &ref.AddedAt); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		if vec != nil {
			ref.Embedding = vec.Slice()
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}
	return refs, nil
}

// List returns redacted summaries ordered by registration time.
func (r *VoterRepository) List(ctx context.Context) ([]database.VoterSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT v.identity_key, v.masked_identifier, v.secondary_identifier, v.model,
		       v.registered_at, v.replaced_at, COUNT(ref.id)
		FROM voters v
		LEFT JOIN voter_references ref ON ref.identity_key = v.identity_key
		GROUP BY v.identity_key
		ORDER BY v.registered_at, v.identity_key
	`)
	if err != nil {
		return nil, fmt.Errorf("list voters: %w", err)
	}
	defer rows.Close()

	var out []database.VoterSummary
	for rows.Next() {
		var s database.VoterSummary
		var replacedAt sql.NullTime
		if err := rows.Scan(
			&s.IdentityKey,
			&s.MaskedIdentifier,
			&s.SecondaryIdentifier,
			&s.Model,
			&s.RegisteredAt,
			&replacedAt,
			&s.ReferenceCount,
		); err != nil {
			return nil, fmt.Errorf("scan voter summary: %w", err)
		}
		if replacedAt.Valid {
			s.ReplacedAt = &replacedAt.Time
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voters: %w", err)
	}
	return out, nil
}

// Count returns the total number of voters.
func (r *VoterRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM voters").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count voters: %w", err)
	}
	return count, nil
}

// AllReferences returns every reference that has an embedding.
func (r *VoterRepository) AllReferences(ctx context.Context) ([]database.IndexedReference, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ref.identity_key, v.model, ref.embedding
		FROM voter_references ref
		JOIN voters v ON v.identity_key = ref.identity_key
		WHERE ref.embedding IS NOT NULL
		ORDER BY ref.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query reference embeddings: %w", err)
	}
	defer rows.Close()

	var out []database.IndexedReference
	for rows.Next() {
		var ref database.IndexedReference
		var vec pgvector.Vector
		if err := rows.Scan(&ref.IdentityKey, &ref.Model, &vec); err != nil {
			return nil, fmt.Errorf("scan reference embedding: %w", err)
		}
		ref.Embedding = vec.Slice()
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reference embeddings: %w", err)
	}
	return out, nil
}

// Insert stores a new voter. ON CONFLICT DO NOTHING makes it a single atomic
// check-and-insert: concurrent inserts for one key block on the primary key and
// all but one report zero affected rows.
func (r *VoterRepository) Insert(ctx context.Context, voter *database.StoredVoter) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck

	registeredAt := voter.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = time.Now()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO voters (identity_key, masked_identifier, secondary_identifier, model, dim, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identity_key) DO NOTHING
	`,
		voter.IdentityKey,
		voter.MaskedIdentifier,
		voter.SecondaryIdentifier,
		voter.Model,
		voter.Dim,
		registeredAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert voter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert voter rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := insertReferences(ctx, tx, voter.IdentityKey, voter.References); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit voter insert: %w", err)
	}
	return true, nil
}

// Replace swaps all references of an existing voter.
func (r *VoterRepository) Replace(ctx context.Context, voter *database.StoredVoter) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE voters
		SET masked_identifier = $2, secondary_identifier = $3, model = $4, dim = $5, replaced_at = NOW()
		WHERE identity_key = $1
	`,
		voter.IdentityKey,
		voter.MaskedIdentifier,
		voter.SecondaryIdentifier,
		voter.Model,
		voter.Dim,
	)
	if err != nil {
		return false, fmt.Errorf("update voter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update voter rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM voter_references WHERE identity_key = $1", voter.IdentityKey); err != nil {
		return false, fmt.Errorf("delete references: %w", err)
	}
	if err := insertReferences(ctx, tx, voter.IdentityKey, voter.References); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit voter replace: %w", err)
	}
	return true, nil
}

// AddReference appends a reference to an existing voter.
func (r *VoterRepository) AddReference(ctx context.Context, identityKey string, ref database.Reference) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck

	var locked string
	err = tx.QueryRowContext(ctx,
		"SELECT identity_key FROM voters WHERE identity_key = $1 FOR UPDATE", identityKey,
	).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock voter: %w", err)
	}

	if err := insertReferences(ctx, tx, identityKey, []database.Reference{ref}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit reference: %w", err)
	}
	return true, nil
}

func insertReferences(ctx context.Context, tx *sql.Tx, identityKey string, refs []database.Reference) error {
	for i, ref := range refs {
		var vec any
		if len(ref.Embedding) > 0 {
			vec = pgvector.NewVector(ref.Embedding)
		}
		addedAt := ref.AddedAt
		if addedAt.IsZero() {
			addedAt = time.Now()
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO voter_references (identity_key, embedding, source_ref, source, added_at)
			VALUES ($1, $2::vector, $3, $4, $5)
		`, identityKey, vec, ref.SourceRef, ref.Source, addedAt)
		if err != nil {
			return fmt.Errorf("insert reference %d: %w", i, err)
		}
	}
	return nil
}
