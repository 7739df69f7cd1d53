// Package apperrors defines the error kinds returned by the verification engine.
// Every kind is stable and machine readable; the HTTP layer maps it to a status.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation            Kind = "validation_error"
	KindStepOrder             Kind = "step_order_violation"
	KindNotFound              Kind = "not_found"
	KindExpired               Kind = "expired"
	KindMismatch              Kind = "mismatch"
	KindProvider              Kind = "provider_error"
	KindProviderTimeout       Kind = "provider_timeout"
	KindNoFace                Kind = "no_face_detected"
	KindDegenerateVector      Kind = "degenerate_vector"
	KindIncompatibleEmbedding Kind = "incompatible_embedding"
	KindAlreadyRegistered     Kind = "already_registered"
	KindDuplicateBiometric    Kind = "duplicate_biometric"
	KindInternal              Kind = "internal_error"
)

// Sentinels for errors.Is. Matching is by kind only.
var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrStepOrder             = &Error{Kind: KindStepOrder}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrExpired               = &Error{Kind: KindExpired}
	ErrMismatch              = &Error{Kind: KindMismatch}
	ErrProvider              = &Error{Kind: KindProvider}
	ErrProviderTimeout       = &Error{Kind: KindProviderTimeout}
	ErrNoFace                = &Error{Kind: KindNoFace}
	ErrDegenerateVector      = &Error{Kind: KindDegenerateVector}
	ErrIncompatibleEmbedding = &Error{Kind: KindIncompatibleEmbedding}
	ErrAlreadyRegistered     = &Error{Kind: KindAlreadyRegistered}
	ErrDuplicateBiometric    = &Error{Kind: KindDuplicateBiometric}
	ErrInternal              = &Error{Kind: KindInternal}
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind, keeping err in the chain.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error {
	return New(KindValidation, message)
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the client safe message for err. Unclassified errors
// never leak their text.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind to the response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindStepOrder:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindExpired:
		return http.StatusGone
	case KindMismatch:
		return http.StatusUnauthorized
	case KindProvider:
		return http.StatusBadGateway
	case KindProviderTimeout:
		return http.StatusGatewayTimeout
	case KindNoFace, KindDegenerateVector, KindIncompatibleEmbedding:
		return http.StatusUnprocessableEntity
	case KindAlreadyRegistered, KindDuplicateBiometric:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
