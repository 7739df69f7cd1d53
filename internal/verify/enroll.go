package verify

import (
	"context"

	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
	"github.com/kozaktomas/voter-gate/internal/database"
	"github.com/kozaktomas/voter-gate/internal/identity"
	"github.com/kozaktomas/voter-gate/internal/imaging"
	"github.com/kozaktomas/voter-gate/internal/logger"
	"github.com/kozaktomas/voter-gate/internal/provider"
	"github.com/kozaktomas/voter-gate/internal/registry"
)

// Enroll registers a subject from an explicitly authorized capture, for
// example an administrator import. It fails with AlreadyRegistered for
// enrolled identities.
func (o *Orchestrator) Enroll(ctx context.Context, s Subject, image []byte, source string) (*database.StoredVoter, error) {
	e, err := o.enrollment(ctx, s, image, source)
	if err != nil {
		return nil, err
	}
	v, err := o.registry.Register(ctx, *e)
	if err != nil {
		return nil, err
	}
	o.log.Info("voter enrolled", logger.Identity(e.Claim.Key.Short()), zap.String("source", source))
	return v, nil
}

// Reenroll replaces the references of an enrolled subject.
func (o *Orchestrator) Reenroll(ctx context.Context, s Subject, image []byte, source string) (*database.StoredVoter, error) {
	e, err := o.enrollment(ctx, s, image, source)
	if err != nil {
		return nil, err
	}
	return o.registry.Reenroll(ctx, *e)
}

// AddReference appends another reference face to an enrolled subject.
func (o *Orchestrator) AddReference(ctx context.Context, s Subject, image []byte, source string) error {
	e, err := o.enrollment(ctx, s, image, source)
	if err != nil {
		return err
	}
	return o.registry.AddReference(ctx, e.Claim.Key, e.Model, e.Reference)
}

// enrollment derives the claim, extracts the face and stores the image.
func (o *Orchestrator) enrollment(ctx context.Context, s Subject, image []byte, source string) (*registry.Enrollment, error) {
	if len(image) == 0 {
		return nil, apperrors.Validation("image is required")
	}
	if source == "" {
		source = database.SourceEnrolled
	}
	claim, err := o.deriver.Claim(s.PrimaryID, s.SecondaryID)
	if err != nil {
		return nil, err
	}
	prepared, err := imaging.Prepare(image, o.maxImage)
	if err != nil {
		return nil, err
	}

	e := &registry.Enrollment{Claim: claim, Reference: database.Reference{Source: source}}
	switch p := o.provider.(type) {
	case provider.Embedder:
		res, err := p.Embed(ctx, prepared.Data)
		if err != nil {
			return nil, provider.Classify(err)
		}
		vec, err := o.profileVector(res)
		if err != nil {
			return nil, err
		}
		e.Model, e.Dim = res.Model, len(vec)
		e.Reference.Embedding = vec
	case provider.Comparer:
		if o.images == nil {
			return nil, apperrors.New(apperrors.KindInternal, "comparison providers need an image store")
		}
		if err := p.DetectFace(ctx, prepared.Data); err != nil {
			return nil, provider.Classify(err)
		}
		e.Model = p.Model()
	default:
		return nil, apperrors.Newf(apperrors.KindInternal, "provider %q cannot enroll faces", o.provider.Name())
	}

	ref, err := o.storeImage(ctx, claim.Key, prepared.Data)
	if err != nil {
		return nil, err
	}
	e.Reference.SourceRef = ref
	return e, nil
}

// ClaimFor derives the claim of a subject, for callers that need the key.
func (o *Orchestrator) ClaimFor(s Subject) (identity.Claim, error) {
	return o.deriver.Claim(s.PrimaryID, s.SecondaryID)
}
