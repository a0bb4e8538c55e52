package chainvault

import (
	"errors"
	"fmt"
	"time"
)

// LoadError is returned by Dio.Load and Dio.Children. It is a flat tagged
// variant per the load-error taxonomy; use errors.As to discriminate.
type LoadError struct {
	Kind  LoadErrorKind
	Key   PrimaryKey
	Cause error
}

// LoadErrorKind enumerates the ways a load can fail.
type LoadErrorKind int

const (
	LoadErrNotFound LoadErrorKind = iota
	LoadErrAlreadyDeleted
	LoadErrObjectStillLocked
	LoadErrMissingReadKey
	LoadErrSerialization
	LoadErrNoPrimaryKey
)

func (e *LoadError) Error() string {
	base := map[LoadErrorKind]string{
		LoadErrNotFound:          "not found",
		LoadErrAlreadyDeleted:    "already deleted",
		LoadErrObjectStillLocked: "object still locked",
		LoadErrMissingReadKey:    "missing read key",
		LoadErrSerialization:     "serialization error",
		LoadErrNoPrimaryKey:      "no primary key",
	}[e.Kind]
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %v", base, e.Key, e.Cause)
	}
	return fmt.Sprintf("%s (%s)", base, e.Key)
}

func (e *LoadError) Unwrap() error { return e.Cause }

func newLoadErr(kind LoadErrorKind, key PrimaryKey) *LoadError {
	return &LoadError{Kind: kind, Key: key}
}

// CommitError is returned by Dio.Commit.
type CommitError struct {
	Kind  CommitErrorKind
	Cause error
}

type CommitErrorKind int

const (
	CommitErrSerialization CommitErrorKind = iota
	CommitErrLint
	CommitErrValidation
	CommitErrSink
	CommitErrTransmit
	CommitErrTime
)

func (e *CommitError) Error() string {
	base := map[CommitErrorKind]string{
		CommitErrSerialization: "serialization error",
		CommitErrLint:          "lint error",
		CommitErrValidation:    "validation error",
		CommitErrSink:          "sink error",
		CommitErrTransmit:      "transmit error",
		CommitErrTime:          "time error",
	}[e.Kind]
	if e.Cause != nil {
		return fmt.Sprintf("commit failed: %s: %v", base, e.Cause)
	}
	return fmt.Sprintf("commit failed: %s", base)
}

func (e *CommitError) Unwrap() error { return e.Cause }

// ValidationError is raised by Validator plugins.
type ValidationError struct {
	Kind  ValidationErrorKind
	When  time.Time
	Cause error
}

type ValidationErrorKind int

const (
	ValidationErrTimeOutOfBounds ValidationErrorKind = iota
	ValidationErrNoTimestamp
	ValidationErrMissingSignature
	ValidationErrUnknownKey
)

func (e *ValidationError) Error() string {
	switch e.Kind {
	case ValidationErrTimeOutOfBounds:
		return fmt.Sprintf("timestamp out of bounds: %s", e.When)
	case ValidationErrNoTimestamp:
		return "event carries no timestamp"
	case ValidationErrMissingSignature:
		return "event requires a signature but carries none"
	case ValidationErrUnknownKey:
		return "signature public key is not known to this chain"
	default:
		return "validation error"
	}
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// CommsError models mesh transport failures (spec §7). The core never
// constructs the richer wire-level variants itself; they are here so a Pipe
// implementation can surface them uniformly.
type CommsError struct {
	Kind  CommsErrorKind
	Cause error
}

type CommsErrorKind int

const (
	CommsErrIO CommsErrorKind = iota
	CommsErrRefused
	CommsErrInvalidDomainName
	CommsErrUnsupported
	CommsErrWebSocket
)

func (e *CommsError) Error() string {
	base := map[CommsErrorKind]string{
		CommsErrIO:                "io error",
		CommsErrRefused:           "connection refused",
		CommsErrInvalidDomainName: "invalid domain name",
		CommsErrUnsupported:       "unsupported",
		CommsErrWebSocket:         "websocket error",
	}[e.Kind]
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *CommsError) Unwrap() error { return e.Cause }

// LoginFailed is returned by the auth-service contract (login.go).
type LoginFailed struct {
	Kind    LoginFailedKind
	Locked  time.Duration
	Email   string
	Cause   error
}

type LoginFailedKind int

const (
	LoginErrNoMasterKey LoginFailedKind = iota
	LoginErrUserNotFound
	LoginErrAccountLocked
	LoginErrUnverified
	LoginErrWrongPasswordOrCode
)

func (e *LoginFailed) Error() string {
	switch e.Kind {
	case LoginErrNoMasterKey:
		return "no master key configured"
	case LoginErrUserNotFound:
		return "user not found"
	case LoginErrAccountLocked:
		return fmt.Sprintf("account locked for %s", e.Locked)
	case LoginErrUnverified:
		return fmt.Sprintf("account unverified: %s", e.Email)
	case LoginErrWrongPasswordOrCode:
		return "wrong password or code"
	default:
		return "login failed"
	}
}

func (e *LoginFailed) Unwrap() error { return e.Cause }

// ErrDenied is returned by a Validator that rejects an event outright.
var ErrDenied = errors.New("validation denied")
