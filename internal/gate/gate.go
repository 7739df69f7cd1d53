// Package gate issues and checks one-time codes bound to an identity key.
//
// A challenge moves from created to verified when the correct code is supplied
// within the window. It expires once now-issuedAt exceeds the window; the
// boundary itself is still valid. Verifying does not reset the clock. A wrong
// code leaves the challenge unchanged and there is no attempt limit.
package gate

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
	"github.com/kozaktomas/voter-gate/internal/database"
	"github.com/kozaktomas/voter-gate/internal/identity"
	"github.com/kozaktomas/voter-gate/internal/logger"
)

const (
	DefaultCodeLength = 6
	DefaultWindow     = 10 * time.Minute
)

// Issued is a freshly issued challenge. Code is the plaintext and must only
// leave the process through an out-of-band delivery channel.
type Issued struct {
	ChallengeID string
	Code        string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type Gate struct {
	store    database.ChallengeStore
	hasher   CodeHasher
	window   time.Duration
	length   int
	now      func() time.Time
	generate func(n int) (string, error)
	log      *zap.Logger
}

type Option func(*Gate)

func WithWindow(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.window = d
		}
	}
}

func WithCodeLength(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.length = n
		}
	}
}

func WithHasher(h CodeHasher) Option {
	return func(g *Gate) { g.hasher = h }
}

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithCodeGenerator replaces the random code source, used by tests.
func WithCodeGenerator(fn func(n int) (string, error)) Option {
	return func(g *Gate) { g.generate = fn }
}

func WithLogger(log *zap.Logger) Option {
	return func(g *Gate) { g.log = log }
}

func New(store database.ChallengeStore, opts ...Option) *Gate {
	g := &Gate{
		store:    store,
		window:   DefaultWindow,
		length:   DefaultCodeLength,
		now:      time.Now,
		generate: GenerateCode,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.hasher == nil {
		g.hasher = NewArgon2Hasher(0, 0)
	}
	return g
}

// Window returns the validity window of a challenge.
func (g *Gate) Window() time.Duration {
	return g.window
}

// Issue creates a new challenge for key, replacing any previous one.
func (g *Gate) Issue(ctx context.Context, key identity.Key) (*Issued, error) {
	code, err := g.generate(g.length)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "could not generate code")
	}
	hash, err := g.hasher.Hash(code)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "could not hash code")
	}

	now := g.now()
	ch := &database.StoredChallenge{
		IdentityKey: string(key),
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		CodeHash:    hash,
		IssuedAt:    now,
	}
	if err := g.store.Put(ctx, ch); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "could not store challenge")
	}

	g.log.Info("otp issued", logger.Identity(key.Short()), zap.String("challenge_id", ch.ID))
	return &Issued{
		ChallengeID: ch.ID,
		Code:        code,
		IssuedAt:    now,
		ExpiresAt:   now.Add(g.window),
	}, nil
}

// Check verifies code against the live challenge for key. It fails with
// NotFound, Mismatch or Expired in that order. A repeated check with the
// correct code succeeds again while the challenge is valid.
func (g *Gate) Check(ctx context.Context, key identity.Key, code string) error {
	if code == "" {
		return apperrors.Validation("OTP is required")
	}

	ch, err := g.store.Get(ctx, string(key))
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "could not load challenge")
	}
	if ch == nil {
		return apperrors.New(apperrors.KindNotFound, "No OTP request found for this voter")
	}

	ok, err := g.hasher.Verify(ch.CodeHash, code)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "could not verify code")
	}
	if !ok {
		g.log.Info("otp mismatch", logger.Identity(key.Short()))
		return apperrors.New(apperrors.KindMismatch, "Invalid OTP")
	}

	if g.expired(ch) {
		return apperrors.New(apperrors.KindExpired, "OTP has expired")
	}
	if ch.Verified {
		return nil
	}

	marked, err := g.store.MarkVerified(ctx, string(key), ch.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "could not update challenge")
	}
	if !marked {
		// Re-issued between read and update, the newer challenge wins.
		return apperrors.New(apperrors.KindMismatch, "OTP was superseded by a newer request")
	}

	g.log.Info("otp verified", logger.Identity(key.Short()), zap.String("challenge_id", ch.ID))
	return nil
}

// RequireVerified returns the live verified challenge for key, or a
// StepOrderViolation if the possession factor has not been satisfied.
func (g *Gate) RequireVerified(ctx context.Context, key identity.Key) (*database.StoredChallenge, error) {
	ch, err := g.store.Get(ctx, string(key))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "could not load challenge")
	}
	if ch == nil || !ch.Verified {
		return nil, apperrors.New(apperrors.KindStepOrder, "OTP verification required before face verification")
	}
	if g.expired(ch) {
		return nil, apperrors.New(apperrors.KindStepOrder, "OTP verification has expired, request a new code")
	}
	return ch, nil
}

// Consume claims the challenge for one biometric check. Exactly one caller
// wins per challenge; the rest get a StepOrderViolation, as does a caller
// whose challenge was re-issued in the meantime.
func (g *Gate) Consume(ctx context.Context, key identity.Key, challengeID string) error {
	removed, err := g.store.Delete(ctx, string(key), challengeID)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, fmt.Errorf("consuming challenge: %w", err), "could not consume challenge")
	}
	if !removed {
		g.log.Info("challenge already consumed", logger.Identity(key.Short()), zap.String("challenge_id", challengeID))
		return apperrors.New(apperrors.KindStepOrder, "OTP verification was already used, request a new code")
	}
	return nil
}

func (g *Gate) expired(ch *database.StoredChallenge) bool {
	return g.now().Sub(ch.IssuedAt) > g.window
}

// GenerateCode returns n decimal digits, each drawn uniformly from crypto/rand.
func GenerateCode(n int) (string, error) {
	ten := big.NewInt(10)
	buf := make([]byte, n)
	for i := range buf {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), nil
}
