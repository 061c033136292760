package errors

import (
	"context"
	"errors"
	"fmt"
	"syscall"
)

type FlurryError struct {
	Code      string
	Message   string
	Cause     error
	Slot      int
	Transient bool
}

func (e *FlurryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FlurryError) Unwrap() error { return e.Cause }

const (
	ErrCodeResolve       = "RESOLVE"
	ErrCodeSocket        = "SOCKET"
	ErrCodeBind          = "BIND"
	ErrCodeConnect       = "CONNECT"
	ErrCodeRegistry      = "REGISTRY"
	ErrCodeTCPInfo       = "TCP_INFO"
	ErrCodeInvalidConfig = "INVALID_CONFIG"
	ErrCodeExhausted     = "EXHAUSTED"
)

// ErrExhausted is returned by the runner when every slot has drained and
// the attempt budget is spent before the target was reached.
var ErrExhausted = &FlurryError{
	Code:    ErrCodeExhausted,
	Message: "attempt budget spent before target reached",
}

func ErrResolve(target string, cause error) *FlurryError {
	return &FlurryError{
		Code:    ErrCodeResolve,
		Message: "resolve " + target,
		Cause:   cause,
		Slot:    -1,
	}
}

func ErrSocket(slot int, cause error) *FlurryError {
	return &FlurryError{
		Code:    ErrCodeSocket,
		Message: "create socket",
		Cause:   cause,
		Slot:    slot,
	}
}

func ErrBind(slot int, addr string, cause error) *FlurryError {
	return &FlurryError{
		Code:      ErrCodeBind,
		Message:   "bind " + addr,
		Cause:     cause,
		Slot:      slot,
		Transient: TransientErrno(cause),
	}
}

func ErrConnect(slot int, cause error) *FlurryError {
	return &FlurryError{
		Code:      ErrCodeConnect,
		Message:   "connect",
		Cause:     cause,
		Slot:      slot,
		Transient: TransientErrno(cause),
	}
}

func ErrRegistry(op string, cause error) *FlurryError {
	return &FlurryError{
		Code:    ErrCodeRegistry,
		Message: op,
		Cause:   cause,
		Slot:    -1,
	}
}

// ErrTCPInfo is always transient: the pool answers it by failing the slot.
func ErrTCPInfo(slot int, cause error) *FlurryError {
	return &FlurryError{
		Code:      ErrCodeTCPInfo,
		Message:   "query tcp state",
		Cause:     cause,
		Slot:      slot,
		Transient: true,
	}
}

func ErrInvalidConfig(msg string, cause error) *FlurryError {
	return &FlurryError{
		Code:    ErrCodeInvalidConfig,
		Message: msg,
		Cause:   cause,
		Slot:    -1,
	}
}

// TransientErrno reports whether err carries an errno that a later attempt
// could plausibly avoid: peer refusal, routing trouble, or source port
// exhaustion.
func TransientErrno(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.ETIMEDOUT,
		syscall.ENETUNREACH,
		syscall.EHOSTUNREACH,
		syscall.ENETDOWN,
		syscall.EHOSTDOWN,
		syscall.EADDRINUSE,
		syscall.EADDRNOTAVAIL,
		syscall.EAGAIN,
		syscall.EINTR:
		return true
	}
	return false
}

func IsTransient(err error) bool {
	var fe *FlurryError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	return false
}

// IsFatal reports whether err should end the run.
func IsFatal(err error) bool {
	return err != nil && !IsTransient(err)
}

func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
