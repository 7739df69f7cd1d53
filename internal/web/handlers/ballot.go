package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/voter-gate/internal/identity"
	"github.com/kozaktomas/voter-gate/internal/web/middleware"
)

type ballotResponse struct {
	Identity       string    `json:"identity"`
	VerificationID string    `json:"verificationId"`
	Scope          string    `json:"scope"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// BallotAccess echoes the claims of a valid ballot access token. Ballot
// issuance itself happens downstream.
func BallotAccess(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetBallotClaimsFromContext(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	resp := ballotResponse{
		Identity:       identity.Key(claims.Subject).Short(),
		VerificationID: claims.VerificationID,
		Scope:          claims.Scope,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	respondJSON(w, http.StatusOK, resp)
}
