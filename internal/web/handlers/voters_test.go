package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
	"github.com/kozaktomas/voter-gate/internal/database"
	"github.com/kozaktomas/voter-gate/internal/identity"
	"github.com/kozaktomas/voter-gate/internal/token"
	"github.com/kozaktomas/voter-gate/internal/web/middleware"
)

type fakeDirectory struct {
	list    []database.VoterSummary
	listErr error
	gotKey  identity.Key
}

func (f *fakeDirectory) List(ctx context.Context) ([]database.VoterSummary, error) {
	return f.list, f.listErr
}

func (f *fakeDirectory) Summary(ctx context.Context, key identity.Key) (*database.VoterSummary, error) {
	f.gotKey = key
	for _, s := range f.list {
		if s.IdentityKey == key.Short() {
			return &s, nil
		}
	}
	return nil, apperrors.New(apperrors.KindNotFound, "voter not found")
}

var fullKey = strings.Repeat("ab", 32)

func newDirectory() *fakeDirectory {
	return &fakeDirectory{list: []database.VoterSummary{
		{
			IdentityKey:         identity.Key(fullKey).Short(),
			MaskedIdentifier:    "********3456",
			SecondaryIdentifier: "*******8901",
			Model:               "buffalo_l",
			ReferenceCount:      2,
			RegisteredAt:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		},
	}}
}

func TestVotersHandler_List(t *testing.T) {
	h := NewVotersHandler(newDirectory(), zap.NewNop())

	recorder := httptest.NewRecorder()
	h.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/voters", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp []map[string]any
	parseJSONResponse(t, recorder, &resp)
	if len(resp) != 1 {
		t.Fatalf("expected 1 voter, got %d", len(resp))
	}
	if resp[0]["identity"] != "abababab..." || resp[0]["references"] != float64(2) {
		t.Errorf("unexpected voter: %v", resp[0])
	}
	for _, forbidden := range []string{"embedding", "sourceRef"} {
		if _, ok := resp[0][forbidden]; ok {
			t.Errorf("response must not contain %q", forbidden)
		}
	}
}

func TestVotersHandler_List_Empty(t *testing.T) {
	h := NewVotersHandler(&fakeDirectory{}, zap.NewNop())

	recorder := httptest.NewRecorder()
	h.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/voters", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	if got := strings.TrimSpace(recorder.Body.String()); got != "[]" {
		t.Errorf("expected empty array, got %s", got)
	}
}

func TestVotersHandler_List_Error(t *testing.T) {
	h := NewVotersHandler(&fakeDirectory{listErr: errors.New("db down")}, zap.NewNop())

	recorder := httptest.NewRecorder()
	h.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/voters", nil))

	assertStatusCode(t, recorder, http.StatusInternalServerError)
	assertJSONError(t, recorder, "internal error")
}

func TestVotersHandler_Get(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{"found", fullKey, http.StatusOK},
		{"unknown", strings.Repeat("cd", 32), http.StatusNotFound},
		{"short key", "abababab", http.StatusBadRequest},
		{"upper case", strings.ToUpper(fullKey), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newDirectory()
			h := NewVotersHandler(dir, zap.NewNop())

			req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/voters/"+tt.key, nil),
				map[string]string{"identity": tt.key})
			recorder := httptest.NewRecorder()
			h.Get(recorder, req)

			assertStatusCode(t, recorder, tt.wantStatus)
			if tt.wantStatus == http.StatusOK && string(dir.gotKey) != fullKey {
				t.Errorf("directory got key %q", dir.gotKey)
			}
		})
	}
}

func TestBallotAccess(t *testing.T) {
	exp := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
	claims := &token.Claims{VerificationID: "vid-1", Scope: "ballot:access"}
	claims.Subject = fullKey
	claims.ExpiresAt = jwt.NewNumericDate(exp)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ballot/access", nil)
	req = req.WithContext(middleware.SetBallotClaimsInContext(req.Context(), claims))
	recorder := httptest.NewRecorder()
	BallotAccess(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var resp ballotResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Identity != "abababab..." || resp.VerificationID != "vid-1" || !resp.ExpiresAt.Equal(exp) {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestBallotAccess_NoClaims(t *testing.T) {
	recorder := httptest.NewRecorder()
	BallotAccess(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/ballot/access", nil))

	assertStatusCode(t, recorder, http.StatusUnauthorized)
	assertJSONError(t, recorder, "unauthorized")
}
