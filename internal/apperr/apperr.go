// Package apperr maps the runtime's error kinds onto HTTP status codes at
// the one boundary that needs it: the gateway. Everywhere else a plain
// wrapped error (fmt.Errorf("...: %w", err)) is enough.
package apperr

import "net/http"

// Kind is one of the error kinds named in the error handling design:
// configuration, transient network/provider, permission denied, sandbox
// violation, webhook auth failure, and persistence failure. Deduplication
// hits and bus lag are not errors and have no Kind.
type Kind int

const (
	KindConfiguration Kind = iota
	KindTransient
	KindPermissionDenied
	KindSandboxViolation
	KindWebhookAuth
	KindPersistence
)

// Error is a Kind-tagged wrapped error, used at the gateway boundary to
// pick an HTTP status without the handler needing to inspect message text.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// HTTPStatus maps a Kind to the status code the gateway should respond
// with when a handler surfaces an *Error of that kind.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindConfiguration:
		return http.StatusInternalServerError
	case KindTransient:
		return http.StatusBadGateway
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindSandboxViolation:
		return http.StatusBadRequest
	case KindWebhookAuth:
		return http.StatusUnauthorized
	case KindPersistence:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// StatusFor inspects err for a wrapped *Error and returns its HTTP status,
// defaulting to 500 for plain errors.
func StatusFor(err error) int {
	var appErr *Error
	if As(err, &appErr) {
		return HTTPStatus(appErr.Kind)
	}
	return http.StatusInternalServerError
}

// As is errors.As specialized to *Error, kept local so callers of this
// small package don't need a second import for one call site.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
