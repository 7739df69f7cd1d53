package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/database"
	"github.com/kozaktomas/voter-gate/internal/identity"
	"github.com/kozaktomas/voter-gate/internal/web/middleware"
)

// VoterDirectory lists redacted voter records.
type VoterDirectory interface {
	List(ctx context.Context) ([]database.VoterSummary, error)
	Summary(ctx context.Context, key identity.Key) (*database.VoterSummary, error)
}

// VotersHandler handles the administrative voter endpoints
type VotersHandler struct {
	directory VoterDirectory
	log       *zap.Logger
}

// NewVotersHandler creates a new voters handler
func NewVotersHandler(directory VoterDirectory, log *zap.Logger) *VotersHandler {
	return &VotersHandler{directory: directory, log: log}
}

type voterResponse struct {
	Identity            string     `json:"identity"`
	MaskedIdentifier    string     `json:"maskedIdentifier"`
	SecondaryIdentifier string     `json:"secondaryIdentifier"`
	Model               string     `json:"model"`
	References          int        `json:"references"`
	RegisteredAt        time.Time  `json:"registeredAt"`
	ReplacedAt          *time.Time `json:"replacedAt,omitempty"`
}

func toVoterResponse(s database.VoterSummary) voterResponse {
	return voterResponse{
		Identity:            s.IdentityKey,
		MaskedIdentifier:    s.MaskedIdentifier,
		SecondaryIdentifier: s.SecondaryIdentifier,
		Model:               s.Model,
		References:          s.ReferenceCount,
		RegisteredAt:        s.RegisteredAt,
		ReplacedAt:          s.ReplacedAt,
	}
}

// List returns every voter in registration order
func (h *VotersHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.directory.List(r.Context())
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	out := make([]voterResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toVoterResponse(s))
	}

	h.log.Info("voters listed", zap.Int("count", len(out)), zap.String("caller", middleware.GetCallerFromContext(r.Context())))
	respondJSON(w, http.StatusOK, out)
}

// Get returns a single voter by full identity key
func (h *VotersHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "identity")
	if !validKey(key) {
		respondError(w, http.StatusBadRequest, "identity must be a hex encoded identity key")
		return
	}

	s, err := h.directory.Summary(r.Context(), identity.Key(key))
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, toVoterResponse(*s))
}

func validKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
