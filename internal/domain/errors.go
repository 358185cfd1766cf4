package domain

import (
	"context"
	"errors"
	"fmt"
)

// Errors a signaling or media collaborator may wrap so the core can classify
// them.
var (
	ErrPermissionDenied  = errors.New("media permission denied")
	ErrDeviceUnavailable = errors.New("media device unavailable")
	ErrOfferTimeout      = errors.New("media upgrade offer timed out")
)

// ErrorKind is the error taxonomy every collaborator error is mapped into
// before a UI-facing action is emitted.
type ErrorKind string

const (
	ErrorKindInvariant   ErrorKind = "invariant"
	ErrorKindMedia       ErrorKind = "media"
	ErrorKindNegotiation ErrorKind = "negotiation"
	ErrorKindSession     ErrorKind = "session"
)

// ErrorCode identifies the specific failure within a kind.
type ErrorCode string

const (
	ErrorCodeStartup           ErrorCode = "startup"
	ErrorCodeConfiguration     ErrorCode = "configuration"
	ErrorCodeInvalidTransition ErrorCode = "invalid_transition"
	ErrorCodePermissionDenied  ErrorCode = "permission_denied"
	ErrorCodeDeviceUnavailable ErrorCode = "device_unavailable"
	ErrorCodeMediaGeneric      ErrorCode = "media_generic"
	ErrorCodeOfferTimeout      ErrorCode = "offer_timeout"
	ErrorCodeOfferAnswer       ErrorCode = "offer_answer"
	ErrorCodeDisconnected      ErrorCode = "disconnected"
	ErrorCodeSessionGeneric    ErrorCode = "session_generic"
	ErrorCodeSurface           ErrorCode = "surface"
)

// EngagementError is a classified error.
type EngagementError struct {
	Kind ErrorKind
	Code ErrorCode
	Err  error
}

func (e *EngagementError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
}

func (e *EngagementError) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(kind ErrorKind, code ErrorCode, err error) *EngagementError {
	return &EngagementError{Kind: kind, Code: code, Err: err}
}

// TransitionError reports a lifecycle transition outside the allowed table.
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid engagement transition %s -> %s", e.From, e.To)
}

// Classify maps an arbitrary collaborator error into the taxonomy. The
// fallback kind is used for errors that carry no recognizable cause.
func Classify(err error, fallback ErrorKind) *EngagementError {
	if err == nil {
		return nil
	}

	var classified *EngagementError
	if errors.As(err, &classified) {
		return classified
	}

	var transition *TransitionError
	switch {
	case errors.As(err, &transition):
		return NewError(ErrorKindInvariant, ErrorCodeInvalidTransition, err)
	case errors.Is(err, ErrPermissionDenied):
		return NewError(ErrorKindMedia, ErrorCodePermissionDenied, err)
	case errors.Is(err, ErrDeviceUnavailable):
		return NewError(ErrorKindMedia, ErrorCodeDeviceUnavailable, err)
	case errors.Is(err, ErrOfferTimeout):
		return NewError(ErrorKindNegotiation, ErrorCodeOfferTimeout, err)
	case errors.Is(err, context.DeadlineExceeded):
		if fallback == ErrorKindNegotiation {
			return NewError(ErrorKindNegotiation, ErrorCodeOfferTimeout, err)
		}
		return NewError(ErrorKindSession, ErrorCodeDisconnected, err)
	}

	switch fallback {
	case ErrorKindMedia:
		return NewError(ErrorKindMedia, ErrorCodeMediaGeneric, err)
	case ErrorKindNegotiation:
		return NewError(ErrorKindNegotiation, ErrorCodeOfferAnswer, err)
	default:
		return NewError(ErrorKindSession, ErrorCodeSessionGeneric, err)
	}
}

// IsPermissionError reports whether the user can fix err in system settings.
func IsPermissionError(err error) bool {
	var classified *EngagementError
	if !errors.As(err, &classified) {
		return errors.Is(err, ErrPermissionDenied)
	}
	return classified.Code == ErrorCodePermissionDenied
}
