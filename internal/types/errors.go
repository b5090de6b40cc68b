package types

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into the client's error taxonomy.
type Kind int

const (
	KindUnknown      Kind = iota
	KindUnauthorized      // Missing or rejected bearer token
	KindNetwork           // Backend unreachable
	KindServer            // Backend answered with a non-success status
	KindConnection        // Live connection closed, errored or not open
	KindValidation        // Input rejected before anything was sent
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "Unauthorized"
	case KindNetwork:
		return "NetworkError"
	case KindServer:
		return "ServerError"
	case KindConnection:
		return "ConnectionError"
	case KindValidation:
		return "ValidationError"
	default:
		return "UnknownError"
	}
}

// Sentinels for errors.Is checks. *Error values match the sentinel of their kind.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNetwork      = errors.New("network error")
	ErrServer       = errors.New("server error")
	ErrConnection   = errors.New("connection error")
	ErrValidation   = errors.New("validation error")
)

var sentinels = map[Kind]error{
	KindUnauthorized: ErrUnauthorized,
	KindNetwork:      ErrNetwork,
	KindServer:       ErrServer,
	KindConnection:   ErrConnection,
	KindValidation:   ErrValidation,
}

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Op     string // "list sessions", "send", ...
	Status int    // HTTP status for KindServer/KindUnauthorized, 0 otherwise
	Detail string // Server-provided detail, if any
	Err    error
}

// NewError builds a classified error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrServer) and friends match on kind.
func (e *Error) Is(target error) bool {
	if s, ok := sentinels[e.Kind]; ok && s == target {
		return true
	}
	return false
}

// KindOf returns the taxonomy kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindUnknown
}
