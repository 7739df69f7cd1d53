// Package registry owns enrolled voter records. A record is created exactly
// once per identity key; replacing it is a separate, explicit operation.
package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
	"github.com/kozaktomas/voter-gate/internal/database"
	"github.com/kozaktomas/voter-gate/internal/identity"
	"github.com/kozaktomas/voter-gate/internal/logger"
)

// Enrollment is everything needed to create or replace a voter record.
type Enrollment struct {
	Claim     identity.Claim
	Model     string
	Dim       int
	Reference database.Reference
}

type Registry struct {
	store          database.VoterWriter
	index          *database.FaceIndex
	dedupThreshold float64
	now            func() time.Time
	log            *zap.Logger
}

type Option func(*Registry)

// WithDuplicateCheck enables the duplicate face guard: enrolling a face whose
// similarity to another identity's reference is at least threshold fails.
func WithDuplicateCheck(index *database.FaceIndex, threshold float64) Option {
	return func(r *Registry) {
		r.index = index
		r.dedupThreshold = threshold
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

func New(store database.VoterWriter, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		now:   time.Now,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the voter for key or a NotFound error.
func (r *Registry) Lookup(ctx context.Context, key identity.Key) (*database.StoredVoter, error) {
	v, err := r.store.Get(ctx, string(key))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "could not load voter")
	}
	if v == nil {
		return nil, apperrors.New(apperrors.KindNotFound, "identity is not enrolled")
	}
	return v, nil
}

// Exists reports whether key is enrolled.
func (r *Registry) Exists(ctx context.Context, key identity.Key) (bool, error) {
	v, err := r.store.Get(ctx, string(key))
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindInternal, err, "could not load voter")
	}
	return v != nil, nil
}

// Register creates the record for a new identity. The store insert is the
// atomic check-and-insert; a second registration for the same key fails
// with AlreadyRegistered and never overwrites the first.
func (r *Registry) Register(ctx context.Context, e Enrollment) (*database.StoredVoter, error) {
	if err := r.checkDuplicate(e); err != nil {
		return nil, err
	}

	now := r.now()
	ref := e.Reference
	if ref.AddedAt.IsZero() {
		ref.AddedAt = now
	}
	voter := &database.StoredVoter{
		IdentityKey:         string(e.Claim.Key),
		MaskedIdentifier:    e.Claim.Masked,
		SecondaryIdentifier: e.Claim.Secondary,
		Model:               e.Model,
		Dim:                 e.Dim,
		References:          []database.Reference{ref},
		RegisteredAt:        now,
	}

	inserted, err := r.store.Insert(ctx, voter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "could not store voter")
	}
	if !inserted {
		return nil, apperrors.New(apperrors.KindAlreadyRegistered, "identity is already enrolled")
	}

	if r.index != nil {
		r.index.Add(voter.IdentityKey, voter.Model, ref.Embedding)
	}
	r.log.Info("voter registered",
		logger.Identity(e.Claim.Key.Short()),
		zap.String("model", e.Model),
		zap.String("source", ref.Source),
	)
	return voter, nil
}

// Reenroll replaces all references of an existing voter.
func (r *Registry) Reenroll(ctx context.Context, e Enrollment) (*database.StoredVoter, error) {
	if err := r.checkDuplicate(e); err != nil {
		return nil, err
	}

	now := r.now()
	ref := e.Reference
	if ref.AddedAt.IsZero() {
		ref.AddedAt = now
	}
	voter := &database.StoredVoter{
		IdentityKey:         string(e.Claim.Key),
		MaskedIdentifier:    e.Claim.Masked,
		SecondaryIdentifier: e.Claim.Secondary,
		Model:               e.Model,
		Dim:                 e.Dim,
		References:          []database.Reference{ref},
		ReplacedAt:          &now,
	}

	replaced, err := r.store.Replace(ctx, voter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "could not replace voter")
	}
	if !replaced {
		return nil, apperrors.New(apperrors.KindNotFound, "identity is not enrolled")
	}

	if r.index != nil {
		r.index.Remove(voter.IdentityKey)
		r.index.Add(voter.IdentityKey, voter.Model, ref.Embedding)
	}
	r.log.Warn("voter re-enrolled", logger.Identity(e.Claim.Key.Short()), zap.String("model", e.Model))
	return r.Lookup(ctx, e.Claim.Key)
}

// AddReference appends a reference face to an existing voter. The reference
// must come from the same model as the record.
func (r *Registry) AddReference(ctx context.Context, key identity.Key, model string, ref database.Reference) error {
	v, err := r.Lookup(ctx, key)
	if err != nil {
		return err
	}
	if v.Model != model {
		return apperrors.Newf(apperrors.KindIncompatibleEmbedding,
			"voter was enrolled with model %q, reference comes from %q", v.Model, model)
	}
	if err := r.checkDuplicate(Enrollment{Claim: identity.Claim{Key: key}, Model: model, Reference: ref}); err != nil {
		return err
	}
	if ref.AddedAt.IsZero() {
		ref.AddedAt = r.now()
	}

	added, err := r.store.AddReference(ctx, string(key), ref)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "could not store reference")
	}
	if !added {
		return apperrors.New(apperrors.KindNotFound, "identity is not enrolled")
	}
	if r.index != nil {
		r.index.Add(string(key), model, ref.Embedding)
	}
	return nil
}

// List returns redacted summaries. Secondary identifiers are masked and
// embeddings are never part of the result.
func (r *Registry) List(ctx context.Context) ([]database.VoterSummary, error) {
	list, err := r.store.List(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "could not list voters")
	}
	for i := range list {
		list[i] = Redact(list[i])
	}
	return list, nil
}

// Summary returns the redacted view of a single voter.
func (r *Registry) Summary(ctx context.Context, key identity.Key) (*database.VoterSummary, error) {
	v, err := r.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	s := Redact(database.VoterSummary{
		IdentityKey:         v.IdentityKey,
		MaskedIdentifier:    v.MaskedIdentifier,
		SecondaryIdentifier: v.SecondaryIdentifier,
		Model:               v.Model,
		ReferenceCount:      len(v.References),
		RegisteredAt:        v.RegisteredAt,
		ReplacedAt:          v.ReplacedAt,
	})
	return &s, nil
}

// RebuildIndex loads every stored embedding into the duplicate face index.
func (r *Registry) RebuildIndex(ctx context.Context) (int, error) {
	if r.index == nil {
		return 0, nil
	}
	refs, err := r.store.AllReferences(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindInternal, err, "could not load references")
	}
	r.index.Build(refs)
	return r.index.Count(), nil
}

func (r *Registry) checkDuplicate(e Enrollment) error {
	if r.index == nil || r.dedupThreshold <= 0 || len(e.Reference.Embedding) == 0 {
		return nil
	}
	other, similarity, ok := r.index.Nearest(e.Model, e.Reference.Embedding, string(e.Claim.Key))
	if !ok || similarity < r.dedupThreshold {
		return nil
	}
	r.log.Warn("duplicate face rejected",
		logger.Identity(e.Claim.Key.Short()),
		zap.String("other", identity.Key(other).Short()),
		zap.Float64("similarity", similarity),
	)
	return apperrors.New(apperrors.KindDuplicateBiometric, "face is already enrolled under another identity")
}

// Redact masks the secondary identifier and shortens the identity key.
func Redact(s database.VoterSummary) database.VoterSummary {
	s.IdentityKey = identity.Key(s.IdentityKey).Short()
	s.SecondaryIdentifier = identity.Mask(s.SecondaryIdentifier)
	return s
}
