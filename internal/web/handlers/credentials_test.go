package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
	"github.com/kozaktomas/voter-gate/internal/verify"
)

type fakeChecker struct {
	begin   func(s verify.Subject, contact string) (*verify.CredentialsResult, error)
	confirm func(s verify.Subject, code string) error
}

func (f *fakeChecker) BeginCredentials(ctx context.Context, s verify.Subject, contact string) (*verify.CredentialsResult, error) {
	return f.begin(s, contact)
}

func (f *fakeChecker) ConfirmOTP(ctx context.Context, s verify.Subject, code string) error {
	return f.confirm(s, code)
}

func TestCredentialsHandler_Verify(t *testing.T) {
	expires := time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC)
	var gotSubject verify.Subject
	var gotContact string
	checker := &fakeChecker{
		begin: func(s verify.Subject, contact string) (*verify.CredentialsResult, error) {
			gotSubject, gotContact = s, contact
			return &verify.CredentialsResult{
				Found:     true,
				Identity:  "3f2a9c1b...",
				ExpiresAt: expires,
				Message:   verify.MessageFound,
			}, nil
		},
	}
	h := NewCredentialsHandler(checker, zap.NewNop())

	req := jsonRequest(t, http.MethodPost, "/api/v1/credentials/verify", map[string]string{
		"primaryId":   "VOTER-123456",
		"secondaryId": "12345678901",
		"contact":     "+2348000000000",
	})
	recorder := httptest.NewRecorder()
	h.Verify(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	if gotSubject.PrimaryID != "VOTER-123456" || gotSubject.SecondaryID != "12345678901" {
		t.Errorf("unexpected subject: %+v", gotSubject)
	}
	if gotContact != "+2348000000000" {
		t.Errorf("unexpected contact %q", gotContact)
	}

	var resp map[string]any
	parseJSONResponse(t, recorder, &resp)
	if resp["success"] != true || resp["foundInRegistry"] != true {
		t.Errorf("unexpected response: %v", resp)
	}
	if _, ok := resp["otp"]; ok {
		t.Error("otp must not be present unless exposure is enabled")
	}
}

func TestCredentialsHandler_Verify_ExposedCode(t *testing.T) {
	checker := &fakeChecker{
		begin: func(s verify.Subject, contact string) (*verify.CredentialsResult, error) {
			return &verify.CredentialsResult{Message: verify.MessageNewVoter, Code: "123456"}, nil
		},
	}
	h := NewCredentialsHandler(checker, zap.NewNop())

	req := jsonRequest(t, http.MethodPost, "/api/v1/credentials/verify", map[string]string{
		"primaryId":   "VOTER-1",
		"secondaryId": "1",
	})
	recorder := httptest.NewRecorder()
	h.Verify(recorder, req)

	var resp map[string]any
	parseJSONResponse(t, recorder, &resp)
	if resp["otp"] != "123456" {
		t.Errorf("expected exposed code, got %v", resp["otp"])
	}
	if resp["foundInRegistry"] != false {
		t.Errorf("expected foundInRegistry false, got %v", resp["foundInRegistry"])
	}
}

func TestCredentialsHandler_Verify_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		err        error
		wantStatus int
		wantKind   string
	}{
		{
			name:       "missing secondary id",
			body:       map[string]string{"primaryId": "VOTER-1"},
			wantStatus: http.StatusBadRequest,
			wantKind:   "validation_error",
		},
		{
			name:       "not on roll",
			body:       map[string]string{"primaryId": "VOTER-1", "secondaryId": "1"},
			err:        apperrors.New(apperrors.KindNotFound, "identity is not on the electoral roll"),
			wantStatus: http.StatusNotFound,
			wantKind:   "not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &fakeChecker{
				begin: func(s verify.Subject, contact string) (*verify.CredentialsResult, error) {
					return nil, tt.err
				},
			}
			h := NewCredentialsHandler(checker, zap.NewNop())
			recorder := httptest.NewRecorder()
			h.Verify(recorder, jsonRequest(t, http.MethodPost, "/api/v1/credentials/verify", tt.body))

			assertStatusCode(t, recorder, tt.wantStatus)
			assertErrorKind(t, recorder, tt.wantKind)
		})
	}
}

func TestCredentialsHandler_ConfirmOTP(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		err        error
		wantStatus int
	}{
		{"correct code", "123456", nil, http.StatusOK},
		{"wrong code", "000000", apperrors.New(apperrors.KindMismatch, "Invalid OTP"), http.StatusUnauthorized},
		{"expired", "123456", apperrors.New(apperrors.KindExpired, "OTP has expired"), http.StatusGone},
		{"no challenge", "123456", apperrors.New(apperrors.KindNotFound, "No OTP request found for this voter"), http.StatusNotFound},
		{"empty code", "", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotCode string
			checker := &fakeChecker{
				confirm: func(s verify.Subject, code string) error {
					gotCode = code
					return tt.err
				},
			}
			h := NewCredentialsHandler(checker, zap.NewNop())

			req := jsonRequest(t, http.MethodPost, "/api/v1/credentials/otp", map[string]string{
				"primaryId":   "VOTER-123456",
				"secondaryId": "12345678901",
				"code":        tt.code,
			})
			recorder := httptest.NewRecorder()
			h.ConfirmOTP(recorder, req)

			assertStatusCode(t, recorder, tt.wantStatus)
			if tt.wantStatus == http.StatusOK {
				var resp map[string]bool
				parseJSONResponse(t, recorder, &resp)
				if !resp["verified"] {
					t.Errorf("expected verified true, got %v", resp)
				}
				if gotCode != tt.code {
					t.Errorf("code = %q, want %q", gotCode, tt.code)
				}
			}
		})
	}
}
