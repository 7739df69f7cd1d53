package verify

import (
	"time"

	"github.com/kozaktomas/voter-gate/internal/embedding"
)

// Reasons attached to verdicts.
const (
	ReasonBelowThreshold = "below_threshold"
	ReasonNoFace         = "no_face_detected"
	ReasonFirstSeen      = "first_seen_registration"
)

// Verdict is the outcome of a face verification. Errors are never turned
// into verdicts. A capture in which the comparer finds no face is a
// negative verdict with ReasonNoFace and Scored=false.
type Verdict struct {
	VerificationID       string             `json:"verificationId"`
	Match                bool               `json:"match"`
	Decision             embedding.Decision `json:"decision"`
	Score                float64            `json:"score"`
	Scored               bool               `json:"scored"` // false when Score carries no similarity
	Threshold            float64            `json:"threshold"`
	NewlyRegistered      bool               `json:"newlyRegistered"`
	Provider             string             `json:"provider"`
	Model                string             `json:"model"`
	Reason               string             `json:"reason,omitempty"`
	Identity             string             `json:"identity"`
	Timestamp            time.Time          `json:"timestamp"`
	AccessToken          string             `json:"accessToken,omitempty"`
	AccessTokenExpiresAt *time.Time         `json:"accessTokenExpiresAt,omitempty"`
}

// CredentialsResult is returned after a code was issued.
type CredentialsResult struct {
	Found     bool      `json:"foundInRegistry"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expiresAt"`
	Message   string    `json:"message"`
	// Code is only set when code exposure is enabled for development.
	Code string `json:"otp,omitempty"`
}

// Subject is a claimed identity as supplied by the caller.
type Subject struct {
	PrimaryID   string
	SecondaryID string
}
