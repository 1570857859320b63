package status

import (
	"errors"
	"fmt"

	"github.com/fluxcd/pkg/apis/meta"
)

// Reasons used in status conditions and as error classification.
const (
	ReasonCredentialNotYetAvailable = "CredentialNotYetAvailable"
	ReasonAuthRejected              = "AuthRejected"
	ReasonNetworkTransient          = "NetworkTransient"
	ReasonRepositoryNotFound        = "RepositoryNotFound"
	ReasonNoMatchingTag             = "NoMatchingTag"
	ReasonPushConflict              = "PushConflict"
	ReasonMalformedMarker           = "MalformedMarker"
	ReasonInvalidPolicy             = "InvalidPolicy"
	ReasonSuspended                 = "Suspended"
	ReasonNoChange                  = "NoChange"
)

var (
	ErrCredentialNotYetAvailable = errors.New("credential not yet available")
	ErrAuthRejected              = errors.New("authentication rejected")
	ErrNetworkTransient          = errors.New("transient network failure")
	ErrRepositoryNotFound        = errors.New("repository not found")
	ErrPushConflict              = errors.New("push rejected: remote branch moved")
	ErrMalformedMarker           = errors.New("malformed marker")
	ErrRunInProgress             = errors.New("update run already in progress")
)

var sentinels = map[string]error{
	ReasonCredentialNotYetAvailable: ErrCredentialNotYetAvailable,
	ReasonAuthRejected:              ErrAuthRejected,
	ReasonNetworkTransient:          ErrNetworkTransient,
	ReasonRepositoryNotFound:        ErrRepositoryNotFound,
	ReasonPushConflict:              ErrPushConflict,
	ReasonMalformedMarker:           ErrMalformedMarker,
}

// Error is a classified failure. It matches the sentinel of its reason with errors.Is
// and unwraps to the underlying cause.
type Error struct {
	Reason string
	Err    error
}

// NewError classifies err under reason.
func NewError(reason string, err error) error {
	return &Error{Reason: reason, Err: err}
}

// Errorf classifies a formatted error under reason.
func Errorf(reason, format string, args ...any) error {
	return &Error{Reason: reason, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Reason]
	return ok && s == target
}

// ReasonOf returns the classification of err, or meta.FailedReason for unclassified errors.
func ReasonOf(err error) string {
	if err == nil {
		return meta.SucceededReason
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	for reason, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return reason
		}
	}
	return meta.FailedReason
}

// Escalates reports whether repeated failures of this kind indicate a configuration
// problem that needs human attention.
func Escalates(reason string) bool {
	switch reason {
	case ReasonAuthRejected, ReasonRepositoryNotFound:
		return true
	default:
		return false
	}
}
