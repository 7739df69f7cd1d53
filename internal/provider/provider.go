// Package provider wraps the external face capabilities. A provider either
// returns embeddings that are compared locally (Embedder) or compares two
// images itself (Comparer).
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
	"github.com/kozaktomas/voter-gate/internal/config"
	"github.com/kozaktomas/voter-gate/internal/embedding"
)

// Provider names as used in VERIFY_PROVIDER.
const (
	NameHTTP   = "http"
	NameOpenAI = "openai"
	NameGemini = "gemini"
	NameDev    = "dev"
)

type Provider interface {
	Name() string
	Model() string
}

// Result is an embedding together with the provider that produced it.
type Result struct {
	Vector   embedding.Vector
	Provider string
	Model    string
}

// Comparison is a similarity computed by a Comparer.
type Comparison struct {
	Score    float64
	Provider string
	Model    string
}

// Embedder extracts a face embedding. It returns a KindNoFace error when the
// image contains no face.
type Embedder interface {
	Provider
	Embed(ctx context.Context, image []byte) (*Result, error)
}

// Comparer scores two face images. DetectFace is used when there is no
// reference to compare against.
type Comparer interface {
	Provider
	DetectFace(ctx context.Context, image []byte) error
	Compare(ctx context.Context, reference, candidate []byte) (*Comparison, error)
}

// New creates the named provider from configuration.
func New(ctx context.Context, name string, cfg *config.Config) (Provider, error) {
	profile := cfg.Profile(name)
	switch name {
	case NameHTTP:
		return NewHTTPEmbedder(cfg.Embedding.URL, profile.Model), nil
	case NameOpenAI:
		if cfg.OpenAI.Token == "" {
			return nil, errors.New("OPENAI_TOKEN is required for the openai provider")
		}
		return NewOpenAIComparer(cfg.OpenAI.Token, profile.Model), nil
	case NameGemini:
		if cfg.Gemini.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY is required for the gemini provider")
		}
		return NewGeminiComparer(ctx, cfg.Gemini.APIKey, profile.Model)
	case NameDev:
		if cfg.IsProduction() {
			return nil, errors.New("the dev provider is only available with APP_ENV=development")
		}
		return NewDevEmbedder(profile.Model, profile.Dim), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// Classify maps a raw provider failure to an apperrors kind. Errors that
// already carry a kind are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.KindProviderTimeout, err, "face provider timed out")
	}
	return apperrors.Wrap(apperrors.KindProvider, err, "face provider failed")
}

// retryable reports whether a failure should be retried on another provider.
// A missing face is an answer, not a failure.
func retryable(err error) bool {
	switch apperrors.KindOf(err) {
	case apperrors.KindProvider, apperrors.KindProviderTimeout:
		return true
	}
	return false
}

// WithTimeout bounds every call of p by d and classifies its errors.
func WithTimeout(p Provider, d time.Duration) Provider {
	switch v := p.(type) {
	case Embedder:
		return &timeoutEmbedder{Embedder: v, timeout: d}
	case Comparer:
		return &timeoutComparer{Comparer: v, timeout: d}
	}
	return p
}

func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		v, err := fn(ctx)
		return v, Classify(err)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	v, err := fn(tctx)
	if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, apperrors.Wrap(apperrors.KindProviderTimeout, err, "face provider timed out")
	}
	return v, Classify(err)
}

type timeoutEmbedder struct {
	Embedder
	timeout time.Duration
}

func (t *timeoutEmbedder) Embed(ctx context.Context, image []byte) (*Result, error) {
	return callWithTimeout(ctx, t.timeout, func(ctx context.Context) (*Result, error) {
		return t.Embedder.Embed(ctx, image)
	})
}

type timeoutComparer struct {
	Comparer
	timeout time.Duration
}

func (t *timeoutComparer) DetectFace(ctx context.Context, image []byte) error {
	_, err := callWithTimeout(ctx, t.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.Comparer.DetectFace(ctx, image)
	})
	return err
}

func (t *timeoutComparer) Compare(ctx context.Context, reference, candidate []byte) (*Comparison, error) {
	return callWithTimeout(ctx, t.timeout, func(ctx context.Context) (*Comparison, error) {
		return t.Comparer.Compare(ctx, reference, candidate)
	})
}

// Fallback tries secondary once when primary fails with a provider error or
// timeout. Both providers must be of the same kind.
func Fallback(primary, secondary Provider) (Provider, error) {
	switch p := primary.(type) {
	case Embedder:
		s, ok := secondary.(Embedder)
		if !ok {
			return nil, fmt.Errorf("fallback provider %q does not produce embeddings", secondary.Name())
		}
		return &fallbackEmbedder{primary: p, secondary: s}, nil
	case Comparer:
		s, ok := secondary.(Comparer)
		if !ok {
			return nil, fmt.Errorf("fallback provider %q cannot compare images", secondary.Name())
		}
		return &fallbackComparer{primary: p, secondary: s}, nil
	}
	return nil, fmt.Errorf("unsupported provider %q", primary.Name())
}

type fallbackEmbedder struct {
	primary, secondary Embedder
}

func (f *fallbackEmbedder) Name() string  { return f.primary.Name() }
func (f *fallbackEmbedder) Model() string { return f.primary.Model() }

func (f *fallbackEmbedder) Embed(ctx context.Context, image []byte) (*Result, error) {
	res, err := f.primary.Embed(ctx, image)
	if err == nil || !retryable(err) || ctx.Err() != nil {
		return res, err
	}
	return f.secondary.Embed(ctx, image)
}

type fallbackComparer struct {
	primary, secondary Comparer
}

func (f *fallbackComparer) Name() string  { return f.primary.Name() }
func (f *fallbackComparer) Model() string { return f.primary.Model() }

func (f *fallbackComparer) DetectFace(ctx context.Context, image []byte) error {
	err := f.primary.DetectFace(ctx, image)
	if err == nil || !retryable(err) || ctx.Err() != nil {
		return err
	}
	return f.secondary.DetectFace(ctx, image)
}

func (f *fallbackComparer) Compare(ctx context.Context, reference, candidate []byte) (*Comparison, error) {
	res, err := f.primary.Compare(ctx, reference, candidate)
	if err == nil || !retryable(err) || ctx.Err() != nil {
		return res, err
	}
	return f.secondary.Compare(ctx, reference, candidate)
}

func noFace() error {
	return apperrors.New(apperrors.KindNoFace, "no face detected in image")
}
