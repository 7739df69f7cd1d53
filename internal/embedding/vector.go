package embedding

import (
	"fmt"
	"math"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
)

// Vector is a face embedding as returned by a provider. It is not assumed to be unit norm.
type Vector []float32

// LengthPolicy decides what happens when a provider returns a vector whose
// length differs from the profile dimension.
type LengthPolicy string

const (
	PolicyStrict      LengthPolicy = "strict"
	PolicyTruncate    LengthPolicy = "truncate"
	PolicyPad         LengthPolicy = "pad"
	PolicyPadTruncate LengthPolicy = "pad_truncate"
)

// ParseLengthPolicy maps a profile value to a policy. Unknown values are strict.
func ParseLengthPolicy(s string) LengthPolicy {
	switch LengthPolicy(s) {
	case PolicyTruncate, PolicyPad, PolicyPadTruncate:
		return LengthPolicy(s)
	default:
		return PolicyStrict
	}
}

type Decision string

const (
	Match   Decision = "match"
	NoMatch Decision = "no_match"
)

// Cosine computes the cosine similarity of a and b in [-1, 1].
// Zero norm, empty or non-finite input is an error, never a silent 0.
func Cosine(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, apperrors.Newf(apperrors.KindIncompatibleEmbedding,
			"embedding length mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, apperrors.New(apperrors.KindDegenerateVector, "empty embedding")
	}

	var dotProduct, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dotProduct += x * y
		normA += x * x
		normB += y * y
	}

	if math.IsNaN(dotProduct) || math.IsInf(dotProduct, 0) ||
		math.IsNaN(normA) || math.IsInf(normA, 0) ||
		math.IsNaN(normB) || math.IsInf(normB, 0) {
		return 0, apperrors.New(apperrors.KindDegenerateVector, "embedding has non-finite components")
	}
	if normA == 0 || normB == 0 {
		return 0, apperrors.New(apperrors.KindDegenerateVector, "embedding has zero norm")
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return similarity, nil
}

// Conform brings v to length dim according to policy. The input is never modified.
func Conform(v Vector, dim int, policy LengthPolicy) (Vector, error) {
	if dim <= 0 || len(v) == dim {
		return v, nil
	}

	switch {
	case len(v) > dim && (policy == PolicyTruncate || policy == PolicyPadTruncate):
		out := make(Vector, dim)
		copy(out, v[:dim])
		return out, nil
	case len(v) < dim && (policy == PolicyPad || policy == PolicyPadTruncate):
		out := make(Vector, dim)
		copy(out, v)
		return out, nil
	}

	return nil, apperrors.Newf(apperrors.KindIncompatibleEmbedding,
		"embedding has %d dimensions, expected %d", len(v), dim)
}

// Score conforms both vectors to dim and returns their cosine similarity.
func Score(a, b Vector, dim int, policy LengthPolicy) (float64, error) {
	ca, err := Conform(a, dim, policy)
	if err != nil {
		return 0, fmt.Errorf("conforming candidate: %w", err)
	}
	cb, err := Conform(b, dim, policy)
	if err != nil {
		return 0, fmt.Errorf("conforming reference: %w", err)
	}
	return Cosine(ca, cb)
}

// Decide applies the threshold. The boundary is inclusive.
func Decide(score, threshold float64) Decision {
	if score >= threshold {
		return Match
	}
	return NoMatch
}
