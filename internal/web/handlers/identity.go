package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/database"
	"github.com/kozaktomas/voter-gate/internal/imaging"
	"github.com/kozaktomas/voter-gate/internal/verify"
)

// FaceVerifier runs the biometric step.
type FaceVerifier interface {
	Verify(ctx context.Context, s verify.Subject, image []byte) (*verify.Verdict, error)
}

// Enroller registers reference faces.
type Enroller interface {
	Enroll(ctx context.Context, s verify.Subject, image []byte, source string) (*database.StoredVoter, error)
	Reenroll(ctx context.Context, s verify.Subject, image []byte, source string) (*database.StoredVoter, error)
}

// IdentityHandler handles face verification and enrollment
type IdentityHandler struct {
	verifier FaceVerifier
	enroller Enroller
	log      *zap.Logger
}

// NewIdentityHandler creates a new identity handler
func NewIdentityHandler(verifier FaceVerifier, enroller Enroller, log *zap.Logger) *IdentityHandler {
	return &IdentityHandler{verifier: verifier, enroller: enroller, log: log}
}

type faceRequest struct {
	subjectRequest
	Image string `json:"image" validate:"required"`
}

type enrollRequest struct {
	subjectRequest
	Image   string `json:"image" validate:"required"`
	Replace bool   `json:"replace"`
}

type enrollResponse struct {
	Identity         string     `json:"identity"`
	MaskedIdentifier string     `json:"maskedIdentifier"`
	Model            string     `json:"model"`
	References       int        `json:"references"`
	RegisteredAt     time.Time  `json:"registeredAt"`
	ReplacedAt       *time.Time `json:"replacedAt,omitempty"`
}

// Verify compares the submitted face against the registry. A negative
// verdict is a 200 response with match set to false.
func (h *IdentityHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req faceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, h.log, err)
		return
	}

	img, err := imaging.DecodePayload(req.Image)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	verdict, err := h.verifier.Verify(r.Context(), req.subject(), img)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, verdict)
}

// Enroll registers a reference face. With replace set an existing voter's
// references are swapped instead.
func (h *IdentityHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, h.log, err)
		return
	}

	img, err := imaging.DecodePayload(req.Image)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	var voter *database.StoredVoter
	status := http.StatusCreated
	if req.Replace {
		voter, err = h.enroller.Reenroll(r.Context(), req.subject(), img, database.SourceEnrolled)
		status = http.StatusOK
	} else {
		voter, err = h.enroller.Enroll(r.Context(), req.subject(), img, database.SourceEnrolled)
	}
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	respondJSON(w, status, enrollResponse{
		Identity:         voter.IdentityKey,
		MaskedIdentifier: voter.MaskedIdentifier,
		Model:            voter.Model,
		References:       len(voter.References),
		RegisteredAt:     voter.RegisteredAt,
		ReplacedAt:       voter.ReplacedAt,
	})
}
