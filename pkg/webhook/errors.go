package webhook

import (
	"errors"
	"fmt"
)

// Reason classifies a signature verification failure.
type Reason string

const (
	ReasonMissingSignature  Reason = "missing_signature"
	ReasonInvalidFormat     Reason = "invalid_format"
	ReasonInvalidSignature  Reason = "invalid_signature"
	ReasonToleranceExceeded Reason = "tolerance_exceeded"
)

// Sentinels for errors.Is matching against a *SignatureError.
var (
	ErrMissingSignature  = &SignatureError{Reason: ReasonMissingSignature}
	ErrInvalidFormat     = &SignatureError{Reason: ReasonInvalidFormat}
	ErrInvalidSignature  = &SignatureError{Reason: ReasonInvalidSignature}
	ErrToleranceExceeded = &SignatureError{Reason: ReasonToleranceExceeded}
)

var (
	// ErrNoSecrets means verification was requested without a usable secret.
	ErrNoSecrets = errors.New("webhook secret is required")

	// ErrRawBodyUnavailable means the host discarded the raw request bytes.
	ErrRawBodyUnavailable = errors.New("webhook raw body unavailable: the request body must reach the middleware unparsed")

	// ErrBodyTooLarge is returned when a request body exceeds the configured limit.
	ErrBodyTooLarge = errors.New("webhook body exceeds maximum size")
)

// SignatureError is returned for every authenticity failure.
type SignatureError struct {
	Reason    Reason
	Header    string
	Signature string
	// Timestamp is the resolved delivery time in ms since epoch, if any.
	Timestamp *int64
	Detail    string
}

func (e *SignatureError) Error() string {
	msg := fmt.Sprintf("webhook signature verification failed: %s", e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches any *SignatureError with the same reason.
func (e *SignatureError) Is(target error) bool {
	t, ok := target.(*SignatureError)
	if !ok {
		return false
	}
	return t.Reason == e.Reason
}

// ValidationKind classifies a ValidationError.
type ValidationKind string

const (
	KindInvalidJSON  ValidationKind = "invalid_json"
	KindInvalidShape ValidationKind = "invalid_shape"
	KindUnknownEvent ValidationKind = "unknown_event"
	KindSchema       ValidationKind = "schema_mismatch"
)

// ValidationError is returned when a verified body is not an acceptable event.
type ValidationError struct {
	Kind    ValidationKind
	Message string
	Event   string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil && e.Kind != KindUnknownEvent {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsSignatureError reports whether err is or wraps a *SignatureError.
func IsSignatureError(err error) bool {
	var se *SignatureError
	return errors.As(err, &se)
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
