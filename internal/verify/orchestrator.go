// Package verify runs the two factor voter verification: a one-time code
// first, then a face check against the enrolled reference.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
	"github.com/kozaktomas/voter-gate/internal/database"
	"github.com/kozaktomas/voter-gate/internal/delivery"
	"github.com/kozaktomas/voter-gate/internal/embedding"
	"github.com/kozaktomas/voter-gate/internal/gate"
	"github.com/kozaktomas/voter-gate/internal/identity"
	"github.com/kozaktomas/voter-gate/internal/imagestore"
	"github.com/kozaktomas/voter-gate/internal/imaging"
	"github.com/kozaktomas/voter-gate/internal/logger"
	"github.com/kozaktomas/voter-gate/internal/provider"
	"github.com/kozaktomas/voter-gate/internal/registry"
	"github.com/kozaktomas/voter-gate/internal/token"
)

// EnrollmentPolicy decides what happens to identities that are not enrolled.
type EnrollmentPolicy string

const (
	// PolicyReject fails verification of unknown identities with NotFound.
	PolicyReject EnrollmentPolicy = "reject"
	// PolicyFirstSeen enrolls the first face presented for an unknown identity.
	PolicyFirstSeen EnrollmentPolicy = "first_seen"
)

const (
	MessageFound       = "OTP sent successfully"
	MessageNewVoter    = "New voter registration initiated"
	defaultThreshold   = 0.6
	imageNamePrefixLen = 16
)

// Profile is how embeddings of one provider are conformed before scoring.
type Profile struct {
	Dim          int
	LengthPolicy embedding.LengthPolicy
}

type Orchestrator struct {
	deriver   *identity.Deriver
	gate      *gate.Gate
	registry  *registry.Registry
	provider  provider.Provider
	images    imagestore.Store
	sender    delivery.Sender
	roll      database.RollChecker
	tokens    *token.Issuer
	policy    EnrollmentPolicy
	threshold float64
	profiles  map[string]Profile
	maxImage  int
	expose    bool
	now       func() time.Time
	newID     func() string
	log       *zap.Logger
}

type Option func(*Orchestrator)

func WithImageStore(s imagestore.Store) Option {
	return func(o *Orchestrator) { o.images = s }
}

func WithSender(s delivery.Sender) Option {
	return func(o *Orchestrator) { o.sender = s }
}

// WithRollChecker makes BeginCredentials refuse identities that are not on the electoral roll.
func WithRollChecker(r database.RollChecker) Option {
	return func(o *Orchestrator) { o.roll = r }
}

// WithTokenIssuer attaches a ballot access token to matching verdicts.
func WithTokenIssuer(t *token.Issuer) Option {
	return func(o *Orchestrator) { o.tokens = t }
}

func WithPolicy(p EnrollmentPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

func WithThreshold(t float64) Option {
	return func(o *Orchestrator) { o.threshold = t }
}

// WithProfile registers the conform profile for embeddings produced by the named provider.
func WithProfile(providerName string, p Profile) Option {
	return func(o *Orchestrator) { o.profiles[providerName] = p }
}

func WithMaxImageSize(px int) Option {
	return func(o *Orchestrator) { o.maxImage = px }
}

// WithExposeCode returns issued codes in CredentialsResult. Development only.
func WithExposeCode(expose bool) Option {
	return func(o *Orchestrator) { o.expose = expose }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

func New(deriver *identity.Deriver, g *gate.Gate, reg *registry.Registry, p provider.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deriver:   deriver,
		gate:      g,
		registry:  reg,
		provider:  p,
		policy:    PolicyReject,
		threshold: defaultThreshold,
		profiles:  make(map[string]Profile),
		maxImage:  imaging.DefaultMaxDimension,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sender == nil {
		o.sender = delivery.NewLogSender(o.log, false)
	}
	return o
}

// Policy returns the configured enrollment policy.
func (o *Orchestrator) Policy() EnrollmentPolicy {
	return o.policy
}

// BeginCredentials issues a one-time code for the subject and hands it to
// the delivery channel.
func (o *Orchestrator) BeginCredentials(ctx context.Context, s Subject, contact string) (*CredentialsResult, error) {
	claim, err := o.deriver.Claim(s.PrimaryID, s.SecondaryID)
	if err != nil {
		return nil, err
	}

	if o.roll != nil {
		onRoll, err := o.roll.OnRoll(ctx, s.PrimaryID, s.SecondaryID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, err, "could not check the electoral roll")
		}
		if !onRoll {
			o.log.Info("identity not on electoral roll", logger.Identity(claim.Key.Short()))
			return nil, apperrors.New(apperrors.KindNotFound, "identity is not on the electoral roll")
		}
	}

	found, err := o.registry.Exists(ctx, claim.Key)
	if err != nil {
		return nil, err
	}

	issued, err := o.gate.Issue(ctx, claim.Key)
	if err != nil {
		return nil, err
	}

	err = o.sender.Send(ctx, delivery.Message{
		To:        contact,
		Code:      issued.Code,
		ExpiresAt: issued.ExpiresAt,
		Identity:  claim.Key.Short(),
	})
	if err != nil {
		return nil, err
	}

	res := &CredentialsResult{
		Found:     found,
		Identity:  claim.Key.Short(),
		ExpiresAt: issued.ExpiresAt,
		Message:   MessageFound,
	}
	if !found {
		res.Message = MessageNewVoter
	}
	if o.expose {
		res.Code = issued.Code
	}
	return res, nil
}

// ConfirmOTP checks the possession factor.
func (o *Orchestrator) ConfirmOTP(ctx context.Context, s Subject, code string) error {
	claim, err := o.deriver.Claim(s.PrimaryID, s.SecondaryID)
	if err != nil {
		return err
	}
	return o.gate.Check(ctx, claim.Key, code)
}

// Verify runs the face check for a subject whose code has been confirmed.
func (o *Orchestrator) Verify(ctx context.Context, s Subject, image []byte) (*Verdict, error) {
	if len(image) == 0 {
		return nil, apperrors.Validation("image is required")
	}
	claim, err := o.deriver.Claim(s.PrimaryID, s.SecondaryID)
	if err != nil {
		return nil, err
	}

	// The possession factor is checked before the image is even decoded.
	ch, err := o.gate.RequireVerified(ctx, claim.Key)
	if err != nil {
		return nil, err
	}

	vid := o.newID()
	log := o.log.With(logger.Identity(claim.Key.Short()), logger.VerificationID(vid))

	prepared, err := imaging.Prepare(image, o.maxImage)
	if err != nil {
		return nil, err
	}

	voter, err := o.lookup(ctx, claim.Key)
	if err != nil {
		return nil, err
	}

	var out *outcome
	switch p := o.provider.(type) {
	case provider.Embedder:
		out, err = o.verifyEmbedding(ctx, p, claim, voter, prepared.Data)
	case provider.Comparer:
		out, err = o.verifyComparison(ctx, p, claim, voter, prepared.Data)
	default:
		err = apperrors.Newf(apperrors.KindInternal, "provider %q cannot verify faces", o.provider.Name())
	}
	if err != nil {
		o.logFailure(log, err)
		return nil, err
	}

	// Only the request that claims the challenge gets a verdict, so one
	// confirmed code cannot be spent by concurrent requests.
	if !out.keepChallenge {
		if err := o.gate.Consume(ctx, claim.Key, ch.ID); err != nil {
			o.logFailure(log, err)
			return nil, err
		}
	}

	verdict := o.verdict(vid, claim.Key, out)
	if verdict.Match && o.tokens != nil {
		tok, exp, err := o.tokens.Issue(string(claim.Key), vid)
		if err != nil {
			log.Error("failed to issue ballot access token", zap.Error(err))
			return nil, apperrors.Wrap(apperrors.KindInternal, err, "could not issue ballot access token")
		}
		verdict.AccessToken = tok
		verdict.AccessTokenExpiresAt = &exp
	}

	log.Info("verification completed",
		zap.Bool("match", verdict.Match),
		zap.Float64("score", verdict.Score),
		zap.Float64("threshold", verdict.Threshold),
		zap.Bool("newly_registered", verdict.NewlyRegistered),
		zap.String("provider", verdict.Provider),
		zap.String("reason", verdict.Reason),
	)
	return verdict, nil
}

// outcome is the provider independent result of a face check.
type outcome struct {
	score           float64
	decided         bool // score is meaningful
	newlyRegistered bool
	keepChallenge   bool // the voter may retry with a new capture
	reason          string
	provider        string
	model           string
}

func (o *Orchestrator) verdict(vid string, key identity.Key, out *outcome) *Verdict {
	v := &Verdict{
		VerificationID:  vid,
		Score:           out.score,
		Threshold:       o.threshold,
		NewlyRegistered: out.newlyRegistered,
		Provider:        out.provider,
		Model:           out.model,
		Reason:          out.reason,
		Identity:        key.Short(),
		Timestamp:       o.now(),
		Decision:        embedding.NoMatch,
	}
	switch {
	case out.newlyRegistered:
		v.Match = true
		v.Decision = embedding.Match
		v.Scored = true
	case out.decided:
		v.Scored = true
		v.Decision = embedding.Decide(out.score, o.threshold)
		v.Match = v.Decision == embedding.Match
		if !v.Match && v.Reason == "" {
			v.Reason = ReasonBelowThreshold
		}
	}
	return v
}

func (o *Orchestrator) verifyEmbedding(ctx context.Context, p provider.Embedder, claim identity.Claim, voter *database.StoredVoter, img []byte) (*outcome, error) {
	res, err := p.Embed(ctx, img)
	if err != nil {
		if errors.Is(err, apperrors.ErrNoFace) {
			return nil, noFace()
		}
		return nil, provider.Classify(err)
	}

	if voter == nil {
		if o.policy != PolicyFirstSeen {
			return nil, apperrors.New(apperrors.KindNotFound, "identity is not enrolled")
		}
		vec, err := o.profileVector(res)
		if err != nil {
			return nil, err
		}
		winner, err := o.registerFirstSeen(ctx, claim, res.Model, len(vec), vec, img)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return &outcome{score: 1, newlyRegistered: true, reason: ReasonFirstSeen, provider: res.Provider, model: res.Model}, nil
		}
		voter = winner
	}

	score, err := o.scoreEmbedding(voter, res)
	if err != nil {
		return nil, err
	}
	return &outcome{score: score, decided: true, provider: res.Provider, model: res.Model}, nil
}

// scoreEmbedding returns the best similarity of res against the voter's references.
func (o *Orchestrator) scoreEmbedding(voter *database.StoredVoter, res *provider.Result) (float64, error) {
	if voter.Model != res.Model {
		return 0, apperrors.Newf(apperrors.KindIncompatibleEmbedding,
			"voter was enrolled with model %q, candidate comes from %q", voter.Model, res.Model)
	}
	profile := o.profiles[res.Provider]

	best, scored := -1.0, false
	for _, ref := range voter.References {
		if len(ref.Embedding) == 0 {
			continue
		}
		s, err := embedding.Score(res.Vector, embedding.Vector(ref.Embedding), profile.Dim, profile.LengthPolicy)
		if err != nil {
			return 0, err
		}
		if s > best {
			best = s
		}
		scored = true
	}
	if !scored {
		return 0, apperrors.New(apperrors.KindIncompatibleEmbedding, "voter has no embedding reference")
	}
	return best, nil
}

// profileVector conforms a fresh embedding so that it is only stored when it can be scored later.
func (o *Orchestrator) profileVector(res *provider.Result) (embedding.Vector, error) {
	profile := o.profiles[res.Provider]
	v, err := embedding.Conform(res.Vector, profile.Dim, profile.LengthPolicy)
	if err != nil {
		return nil, err
	}
	if _, err := embedding.Cosine(v, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (o *Orchestrator) verifyComparison(ctx context.Context, p provider.Comparer, claim identity.Claim, voter *database.StoredVoter, img []byte) (*outcome, error) {
	if o.images == nil {
		return nil, apperrors.New(apperrors.KindInternal, "comparison providers need an image store")
	}

	if voter == nil {
		if o.policy != PolicyFirstSeen {
			return nil, apperrors.New(apperrors.KindNotFound, "identity is not enrolled")
		}
		if err := p.DetectFace(ctx, img); err != nil {
			if errors.Is(err, apperrors.ErrNoFace) {
				return nil, noFace()
			}
			return nil, provider.Classify(err)
		}
		winner, err := o.registerFirstSeen(ctx, claim, p.Model(), 0, nil, img)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return &outcome{score: 1, newlyRegistered: true, reason: ReasonFirstSeen, provider: p.Name(), model: p.Model()}, nil
		}
		voter = winner
	}

	best, scored := -1.0, false
	out := &outcome{provider: p.Name(), model: p.Model()}
	for _, ref := range voter.References {
		if ref.SourceRef == "" {
			continue
		}
		refImg, err := o.images.Get(ctx, ref.SourceRef)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, err, "could not load reference image")
		}
		c, err := p.Compare(ctx, refImg, img)
		if err != nil {
			if errors.Is(err, apperrors.ErrNoFace) {
				// A capture without a face is an answer, not a failure.
				return &outcome{reason: ReasonNoFace, keepChallenge: true, provider: p.Name(), model: p.Model()}, nil
			}
			return nil, provider.Classify(err)
		}
		if c.Score > best {
			best = c.Score
			out.provider, out.model = c.Provider, c.Model
		}
		scored = true
	}
	if !scored {
		return nil, apperrors.New(apperrors.KindIncompatibleEmbedding, "voter has no reference image")
	}
	out.score, out.decided = best, true
	return out, nil
}

// noFace is returned when no face could be extracted before any comparison.
// The caller keeps its challenge and may retry with a new capture.
func noFace() error {
	return apperrors.New(apperrors.KindNoFace, "no face detected in image")
}

// registerFirstSeen enrolls the candidate. It returns nil when this request
// created the record, or the winning record when a concurrent request was first.
func (o *Orchestrator) registerFirstSeen(ctx context.Context, claim identity.Claim, model string, dim int, vec embedding.Vector, img []byte) (*database.StoredVoter, error) {
	ref, err := o.storeImage(ctx, claim.Key, img)
	if err != nil {
		return nil, err
	}

	_, err = o.registry.Register(ctx, registry.Enrollment{
		Claim: claim,
		Model: model,
		Dim:   dim,
		Reference: database.Reference{
			Embedding: vec,
			SourceRef: ref,
			Source:    database.SourceFirstSeen,
		},
	})
	if err == nil {
		o.log.Warn("identity enrolled on first sight", logger.Identity(claim.Key.Short()))
		return nil, nil
	}
	if !errors.Is(err, apperrors.ErrAlreadyRegistered) {
		return nil, err
	}

	o.log.Info("lost first-seen registration race, comparing against winner", logger.Identity(claim.Key.Short()))
	return o.registry.Lookup(ctx, claim.Key)
}

func (o *Orchestrator) storeImage(ctx context.Context, key identity.Key, img []byte) (string, error) {
	if o.images == nil {
		return "", nil
	}
	name := fmt.Sprintf("%s-%s.jpg", string(key)[:min(imageNamePrefixLen, len(key))], o.newID())
	ref, err := o.images.Put(ctx, name, img)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindInternal, err, "could not store reference image")
	}
	return ref, nil
}

func (o *Orchestrator) lookup(ctx context.Context, key identity.Key) (*database.StoredVoter, error) {
	voter, err := o.registry.Lookup(ctx, key)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return voter, err
}

func (o *Orchestrator) logFailure(log *zap.Logger, err error) {
	switch apperrors.KindOf(err) {
	case apperrors.KindProvider, apperrors.KindProviderTimeout, apperrors.KindInternal:
		log.Error("verification failed", zap.String("kind", string(apperrors.KindOf(err))), zap.Error(err))
	default:
		log.Info("verification rejected", zap.String("kind", string(apperrors.KindOf(err))), zap.String("reason", apperrors.Message(err)))
	}
}
