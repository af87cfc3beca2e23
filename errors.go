package obsrpc

import (
	"errors"
	"fmt"
)

// Error kinds. Every remote kind refines ErrRemote, so
// errors.Is(err, ErrRemote) matches invocation, authorization
// and timeout failures as well as plain transport errors.
var (
	ErrRemote        = errors.New("remote error")
	ErrInvocation    = errors.New("invocation error")
	ErrAuthorization = errors.New("authorization error")
	ErrTimeout       = errors.New("timeout")

	// local, never produced by a remote peer.
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("operation conflict")

	ErrShutdown = errors.New("shutting down")
	ErrSevere   = errors.New("severe error")
)

// Kind names one of the remote error kinds.
type Kind int

const (
	KindRemote Kind = iota
	KindInvocation
	KindAuthorization
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInvocation:
		return "invocation"
	case KindAuthorization:
		return "authorization"
	case KindTimeout:
		return "timeout"
	}
	return "remote"
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvocation:
		return ErrInvocation
	case KindAuthorization:
		return ErrAuthorization
	case KindTimeout:
		return ErrTimeout
	}
	return ErrRemote
}

// RemoteError describes a failed remote call.
type RemoteError struct {
	Kind   Kind
	Module string
	Method string
	Msg    string

	// Code is the fault code for invocation errors (500 for
	// a handler that failed), or 0.
	Code int
}

func (e *RemoteError) Error() string {
	where := e.Module
	if e.Method != "" {
		where += "." + e.Method
	}
	if where == "" {
		return fmt.Sprintf("%v: %v", e.Kind.sentinel(), e.Msg)
	}
	return fmt.Sprintf("%v from %v: %v", e.Kind.sentinel(), where, e.Msg)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote || target == e.Kind.sentinel()
}

func NewRemoteError(kind Kind, module, method, msg string) *RemoteError {
	return &RemoteError{Kind: kind, Module: module, Method: method, Msg: msg}
}

// NewInvocationError reports a handler that ran and failed.
func NewInvocationError(module, method string, code int, msg string) *RemoteError {
	return &RemoteError{Kind: KindInvocation, Module: module, Method: method, Msg: msg, Code: code}
}

// SevereError wraps an error that must stop the process rather
// than be retried by the supervisor.
type SevereError struct {
	Err    error
	Module string
}

func (e *SevereError) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("severe error in %v: %v", e.Module, e.Err)
	}
	return fmt.Sprintf("severe error: %v", e.Err)
}

func (e *SevereError) Unwrap() error { return e.Err }

func (e *SevereError) Is(target error) bool { return target == ErrSevere }
