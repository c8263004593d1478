package kiro

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies gateway failures for client status mapping and for
// account-pool transitions.
type ErrorKind string

const (
	// ErrUnsupportedModel means the model label could not be resolved to an
	// upstream model identifier.
	ErrUnsupportedModel ErrorKind = "unsupported_model"

	// ErrEmptyMessages means the request carried no messages.
	ErrEmptyMessages ErrorKind = "empty_messages"

	// ErrNoAccountAvailable means the pool has no active account.
	ErrNoAccountAvailable ErrorKind = "no_account_available"

	// ErrTokenError means a valid bearer token could not be produced for the
	// selected account.
	ErrTokenError ErrorKind = "token_error"

	// ErrUpstreamError means the upstream answered with a non-2xx status.
	ErrUpstreamError ErrorKind = "upstream_error"

	// ErrTransportError means the upstream call failed before a status was
	// received (network, proxy, cancellation).
	ErrTransportError ErrorKind = "transport_error"
)

// GatewayError is the structured error for every failure the gateway can
// surface. Kind drives the client-facing status and the pool side effects;
// the remaining fields preserve upstream detail for logs.
type GatewayError struct {
	Kind      ErrorKind
	Status    int    // upstream HTTP status, when one was received
	Message   string
	AccountID string
	Body      string // upstream error body, bounded by the dispatcher
	Summary   any    // request-debug summary, contains no payload bytes

	// Persistent marks a token failure that will not heal by retrying, in
	// which case the account is marked invalid.
	Persistent bool

	Cause error
}

// NewError creates a GatewayError of the given kind.
func NewError(kind ErrorKind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

// Errorf creates a GatewayError with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *GatewayError {
	return &GatewayError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("kiro gateway [%s]: %s", e.Kind, e.Message)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status=%d)", e.Status)
	}
	if e.AccountID != "" {
		msg += fmt.Sprintf(" (account=%s)", e.AccountID)
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// WithStatus attaches the upstream HTTP status.
func (e *GatewayError) WithStatus(status int) *GatewayError {
	e.Status = status
	return e
}

// WithAccount attaches the account the failure occurred on.
func (e *GatewayError) WithAccount(id string) *GatewayError {
	e.AccountID = id
	return e
}

// WithBody attaches the upstream error body.
func (e *GatewayError) WithBody(body string) *GatewayError {
	e.Body = body
	return e
}

// WithSummary attaches the request-debug summary.
func (e *GatewayError) WithSummary(summary any) *GatewayError {
	e.Summary = summary
	return e
}

// WithCause attaches the underlying error.
func (e *GatewayError) WithCause(cause error) *GatewayError {
	e.Cause = cause
	return e
}

// AsPersistent marks a token failure as non-recoverable.
func (e *GatewayError) AsPersistent() *GatewayError {
	e.Persistent = true
	return e
}

// HTTPStatus maps the failure onto the status returned to the client.
// Upstream errors propagate the upstream status.
func (e *GatewayError) HTTPStatus() int {
	switch e.Kind {
	case ErrUnsupportedModel, ErrEmptyMessages:
		return http.StatusBadRequest
	case ErrNoAccountAvailable:
		return http.StatusServiceUnavailable
	case ErrTokenError, ErrTransportError:
		return http.StatusBadGateway
	case ErrUpstreamError:
		if e.Status >= 400 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AsGatewayError unwraps err to a GatewayError if one is in the chain.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// KindOf returns the error kind in err's chain, or the empty kind.
func KindOf(err error) ErrorKind {
	if ge, ok := AsGatewayError(err); ok {
		return ge.Kind
	}
	return ""
}

// IsThrottleStatus reports whether an upstream status indicates throttling,
// which sends the account into cooldown.
func IsThrottleStatus(status int) bool {
	return status == http.StatusTooManyRequests
}
