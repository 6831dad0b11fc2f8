/*Package apierror carries kinded errors through the request-processing
engine and translates them to HTTP at the boundary.

Every fallible operation in the core returns (value, error); the error, if
any, is an *apierror.Error tagged with a Kind. Handlers never inspect error
strings, they map the kind to a status code and emit the canonical error
body {status, message, code?, details?}.
*/
package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// Kind classifies an error for HTTP translation.
type Kind string

// all error kinds of the engine
const (
	KindConfigInvalid  Kind = "config-invalid"
	KindIO             Kind = "io"
	KindNotFound       Kind = "not-found"
	KindConflict       Kind = "conflict"
	KindValidation     Kind = "validation"
	KindUnauthorized   Kind = "auth-unauthorized"
	KindForbidden      Kind = "auth-forbidden"
	KindExpansionDepth Kind = "expansion-depth"
	KindBadRequest     Kind = "bad-request"
	KindInternal       Kind = "server-internal"
)

// Error is a kinded error with an optional machine-readable code and
// structured details (e.g. the validation violation list).
type Error struct {
	Kind    Kind
	Message string
	Code    string
	Details interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a kinded error.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a kinded error around a cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithCode attaches a machine-readable code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetails attaches structured details.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// KindOf returns the kind of an error. Errors that are not kinded count
// as server-internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Status maps an error to its HTTP status code.
func Status(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindValidation, KindBadRequest, KindExpansionDepth, KindConfigInvalid:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// body is the canonical wire shape for errors.
type body struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// Write emits the error as its canonical JSON body.
func Write(w http.ResponseWriter, err error) {
	status := Status(err)
	b := body{Status: status, Message: err.Error()}
	var e *Error
	if errors.As(err, &e) {
		b.Code = e.Code
		b.Details = e.Details
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	data, _ := json.MarshalWithOption(b, json.DisableHTMLEscape())
	w.Write(data)
}
