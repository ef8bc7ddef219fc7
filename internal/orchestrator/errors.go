package orchestrator

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrValidation marks a malformed or out-of-range request.
	ErrValidation = errors.New("validation error")
	// ErrNoBackendReady means no tier could serve the request.
	ErrNoBackendReady = errors.New("no backend ready")
	// ErrBackendExhausted means the backend ran out of accelerator resources.
	// Retrying with shorter text may succeed.
	ErrBackendExhausted = errors.New("backend resources exhausted")
	// ErrBackendFailure covers every other synthesis fault.
	ErrBackendFailure = errors.New("backend failure")
)

const (
	msgNoBackendReady   = "no TTS backend is ready; models may still be loading"
	msgBackendExhausted = "GPU memory exhausted; try shorter text"
)

// Error is the classified failure returned by the orchestration layer. No
// backend error type escapes it unwrapped.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Cause}
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...), Cause: nil}
}

func noBackendReady() *Error {
	return &Error{Kind: ErrNoBackendReady, Message: msgNoBackendReady, Cause: nil}
}

func backendExhausted(cause error) *Error {
	return &Error{Kind: ErrBackendExhausted, Message: msgBackendExhausted, Cause: cause}
}

// backendFailure passes the backend's message through for diagnosis.
func backendFailure(cause error) *Error {
	return &Error{Kind: ErrBackendFailure, Message: cause.Error(), Cause: cause}
}
