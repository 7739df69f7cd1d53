package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIs_MatchesByKind(t *testing.T) {
	err := fmt.Errorf("checking challenge: %w", New(KindExpired, "OTP has expired"))

	if !errors.Is(err, ErrExpired) {
		t.Error("expected wrapped error to match ErrExpired")
	}
	if errors.Is(err, ErrMismatch) {
		t.Error("expired must not match mismatch")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"typed", New(KindMismatch, "Invalid OTP"), KindMismatch},
		{"wrapped", fmt.Errorf("outer: %w", Wrap(KindProvider, errors.New("boom"), "provider failed")), KindProvider},
		{"plain", errors.New("plain"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessage_HidesUnclassified(t *testing.T) {
	if got := Message(errors.New("pq: password authentication failed")); got != "internal error" {
		t.Errorf("expected generic message, got %q", got)
	}
	if got := Message(Validation("image is required")); got != "image is required" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestError_String(t *testing.T) {
	err := Wrap(KindProvider, errors.New("connection refused"), "embedding failed")
	if err.Error() != "embedding failed: connection refused" {
		t.Errorf("unexpected error string %q", err.Error())
	}
	if !errors.Is(err, ErrProvider) {
		t.Error("expected provider kind")
	}
	if New(KindNotFound, "").Error() != "not_found" {
		t.Error("expected kind as fallback message")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		KindValidation:            http.StatusBadRequest,
		KindStepOrder:             http.StatusForbidden,
		KindNotFound:              http.StatusNotFound,
		KindExpired:               http.StatusGone,
		KindMismatch:              http.StatusUnauthorized,
		KindProvider:              http.StatusBadGateway,
		KindProviderTimeout:       http.StatusGatewayTimeout,
		KindIncompatibleEmbedding: http.StatusUnprocessableEntity,
		KindAlreadyRegistered:     http.StatusConflict,
		KindInternal:              http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%q) = %d, want %d", kind, got, want)
		}
	}
}
