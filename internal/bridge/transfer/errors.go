package transfer

import (
	"fmt"
	"net/http"
)

// Kind classifies a transfer failure.
type Kind int

const (
	KindUnauthorized Kind = iota
	KindMalformedRequest
	KindMissingTarget
	KindIdentifierNotFound
	KindSessionNotFound
	KindUnknownTarget
	KindRateLimited
	KindDispatchFailure
	KindInternal
)

var kindInfo = map[Kind]struct {
	code   string
	status int
}{
	KindUnauthorized:       {"unauthorized", http.StatusUnauthorized},
	KindMalformedRequest:   {"malformed_request", http.StatusBadRequest},
	KindMissingTarget:      {"missing_target", http.StatusBadRequest},
	KindIdentifierNotFound: {"identifier_not_found", http.StatusBadRequest},
	KindSessionNotFound:    {"session_not_found", http.StatusNotFound},
	KindUnknownTarget:      {"unknown_target", http.StatusBadRequest},
	KindRateLimited:        {"rate_limited", http.StatusTooManyRequests},
	KindDispatchFailure:    {"command_dispatch_failure", http.StatusOK},
	KindInternal:           {"internal", http.StatusInternalServerError},
}

// Code is the machine-readable name sent in error bodies.
func (k Kind) Code() string {
	if info, ok := kindInfo[k]; ok {
		return info.code
	}
	return fmt.Sprintf("unknown_%d", int(k))
}

// HTTPStatus is the response status for k.
func (k Kind) HTTPStatus() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

func (k Kind) String() string { return k.Code() }

// Error is a classified transfer failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}
