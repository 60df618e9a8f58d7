// Package errs defines the abstract error taxonomy used across the
// dispatcher, transports, and upstream clients (spec §7).
package errs

import "fmt"

// Kind is one of the six abstract error categories the server recognizes.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindInvalidParams  Kind = "invalid_params"
	KindNotFound       Kind = "not_found"
	KindUpstream       Kind = "upstream"
	KindTimeout        Kind = "timeout"
	KindInternal       Kind = "internal"
)

// JSONRPCCode maps a Kind to its JSON-RPC 2.0 error code.
func (k Kind) JSONRPCCode() int {
	switch k {
	case KindInvalidRequest:
		return -32600
	case KindNotFound:
		return -32601
	case KindInvalidParams:
		return -32602
	default:
		return -32603
	}
}

// HTTPStatus maps a Kind to the HTTP status code the transport should use.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest, KindInvalidParams:
		return 400
	case KindNotFound:
		return 404
	case KindTimeout:
		return 504
	case KindUpstream:
		return 502
	default:
		return 500
	}
}

// FieldError describes one schema validation failure.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error is the typed error every handler and client returns. It carries
// enough structure to render either a JSON-RPC error object or an HTTP
// error body without ever including upstream secrets.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError // populated for KindInvalidParams
	Status  int          // populated for KindUpstream (upstream HTTP status)
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func InvalidParams(fields ...FieldError) *Error {
	return &Error{Kind: KindInvalidParams, Message: "invalid parameters", Fields: fields}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Upstream(status int, message string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Status: status, cause: cause}
}

func Timeout(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message}
}

func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, cause: cause}
}

// As extracts an *Error from err, wrapping unknown errors as Internal so
// callers always get a typed error back.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return Internal("unexpected error", err)
}

// Retryable reports whether the upstream error kind should be retried
// locally (transient network errors, 5xx, 408, 429) versus surfaced
// immediately (other 4xx).
func Retryable(status int, networkErr bool) bool {
	if networkErr {
		return true
	}
	if status == 429 || status == 408 {
		return true
	}
	return status >= 500
}
