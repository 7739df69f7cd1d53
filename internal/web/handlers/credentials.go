package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/verify"
)

// CredentialChecker issues and confirms one-time codes.
type CredentialChecker interface {
	BeginCredentials(ctx context.Context, s verify.Subject, contact string) (*verify.CredentialsResult, error)
	ConfirmOTP(ctx context.Context, s verify.Subject, code string) error
}

// CredentialsHandler handles the possession factor endpoints
type CredentialsHandler struct {
	checker CredentialChecker
	log     *zap.Logger
}

// NewCredentialsHandler creates a new credentials handler
func NewCredentialsHandler(checker CredentialChecker, log *zap.Logger) *CredentialsHandler {
	return &CredentialsHandler{checker: checker, log: log}
}

type credentialsRequest struct {
	subjectRequest
	Contact string `json:"contact" validate:"omitempty,max=254"`
}

type credentialsResponse struct {
	Success bool `json:"success"`
	*verify.CredentialsResult
}

type otpRequest struct {
	subjectRequest
	Code string `json:"code" validate:"required,numeric,max=10"`
}

// Verify issues a code for the claimed identity and sends it to the contact.
func (h *CredentialsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, h.log, err)
		return
	}

	res, err := h.checker.BeginCredentials(r.Context(), req.subject(), req.Contact)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, credentialsResponse{Success: true, CredentialsResult: res})
}

// ConfirmOTP checks a code.
func (h *CredentialsHandler) ConfirmOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondAppError(w, h.log, err)
		return
	}

	if err := h.checker.ConfirmOTP(r.Context(), req.subject(), req.Code); err != nil {
		respondAppError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"verified": true})
}
