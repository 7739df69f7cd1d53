package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
)

func TestRespondAppError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantKind    string
		wantMessage string
	}{
		{"mismatch", apperrors.New(apperrors.KindMismatch, "Invalid OTP"), http.StatusUnauthorized, "mismatch", "Invalid OTP"},
		{"expired", apperrors.New(apperrors.KindExpired, "OTP has expired"), http.StatusGone, "expired", "OTP has expired"},
		{"step order", apperrors.New(apperrors.KindStepOrder, "verify first"), http.StatusForbidden, "step_order_violation", "verify first"},
		{"already registered", apperrors.New(apperrors.KindAlreadyRegistered, "taken"), http.StatusConflict, "already_registered", "taken"},
		{"provider timeout", apperrors.New(apperrors.KindProviderTimeout, "slow"), http.StatusGatewayTimeout, "provider_timeout", "slow"},
		{"unclassified", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal_error", "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondAppError(recorder, zap.NewNop(), tt.err)

			assertStatusCode(t, recorder, tt.wantStatus)
			assertContentType(t, recorder, "application/json")
			assertJSONError(t, recorder, tt.wantMessage)
			assertErrorKind(t, recorder, tt.wantKind)
		})
	}
}

func TestRespondAppError_LogsServerErrors(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)

	respondAppError(httptest.NewRecorder(), log, apperrors.Validation("bad"))
	if logs.Len() != 0 {
		t.Errorf("client errors should not be logged, got %d entries", logs.Len())
	}

	respondAppError(httptest.NewRecorder(), log, errors.New("boom"))
	if logs.FilterMessage("request failed").Len() != 1 {
		t.Error("expected internal error to be logged")
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"primaryId":"VOTER-1","secondaryId":"12345","code":"123456"}`, ""},
		{"malformed", `{"primaryId":`, errInvalidRequestBody},
		{"unknown field", `{"primaryId":"A","secondaryId":"B","code":"1","extra":true}`, errInvalidRequestBody},
		{"missing primary", `{"secondaryId":"12345","code":"123456"}`, "primaryId is required"},
		{"missing code", `{"primaryId":"VOTER-1","secondaryId":"12345"}`, "code is required"},
		{"non numeric code", `{"primaryId":"VOTER-1","secondaryId":"12345","code":"12a456"}`, "code must contain only digits"},
		{"too long", `{"primaryId":"` + strings.Repeat("A", 129) + `","secondaryId":"1","code":"1"}`, "primaryId must be at most 128 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst otpRequest
			err := decodeJSON(httptest.NewRecorder(), req, &dst)

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if dst.PrimaryID != "VOTER-1" || dst.Code != "123456" {
					t.Errorf("unexpected decoded value: %+v", dst)
				}
				return
			}
			if apperrors.KindOf(err) != apperrors.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := apperrors.Message(err); got != tt.wantErr {
				t.Errorf("message = %q, want %q", got, tt.wantErr)
			}
		})
	}
}
