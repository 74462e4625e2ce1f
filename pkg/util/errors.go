// Package util provides the shared logger and the error taxonomy used by
// every stage of a trace.
package util

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors. Typed errors below unwrap to one of these so callers can
// branch with errors.Is.
var (
	ErrTimeout          = errors.New("timed out")
	ErrAmbiguousMatch   = errors.New("ambiguous MAC table match")
	ErrNotFound         = errors.New("MAC address not found")
	ErrLoginFailed      = errors.New("login failed")
	ErrConnectionFailed = errors.New("connection failed")
	ErrParse            = errors.New("unrecognized command output")
	ErrCycleDetected    = errors.New("topology cycle detected")
	ErrHopLimitExceeded = errors.New("hop limit exceeded")
	ErrCoreRequired     = errors.New("core device address required")
	ErrInvalidMAC       = errors.New("invalid MAC address")
	ErrSessionClosed    = errors.New("session closed")
)

// TimeoutError reports that none of the awaited patterns appeared in time.
type TimeoutError struct {
	Waiting string // what was being awaited, e.g. "password prompt"
	After   time.Duration
	Tail    string // last visible output, for diagnostics
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for %s", e.After, e.Waiting)
	if e.Tail != "" {
		msg += fmt.Sprintf(" (last output: %q)", e.Tail)
	}
	return msg
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(waiting string, after time.Duration, tail string) *TimeoutError {
	return &TimeoutError{Waiting: waiting, After: after, Tail: tail}
}

// LoginError reports a failed login or privilege escalation.
type LoginError struct {
	Device string
	Stage  string // automaton state at the time of failure
	Reason string
	Err    error // ErrLoginFailed or a *TimeoutError
}

func (e *LoginError) Error() string {
	target := e.Device
	if target == "" {
		target = "device"
	}
	return fmt.Sprintf("login to %s failed at %s: %s", target, e.Stage, e.Reason)
}

func (e *LoginError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrLoginFailed
}

// IsAuthRejected reports whether the device explicitly rejected the
// credentials, as opposed to the login timing out.
func (e *LoginError) IsAuthRejected() bool {
	return errors.Is(e.Unwrap(), ErrLoginFailed)
}

// ConnectionError reports a hop that could not be established.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connecting to %s failed", e.Target)
	}
	return fmt.Sprintf("connecting to %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnectionFailed, e.Err}
}

// ParseError reports command output that matched no known shape.
type ParseError struct {
	Command string
	Detail  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing output of %q: %s", e.Command, e.Detail)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// AmbiguousMatchError lists the ports that all claimed the same MAC.
type AmbiguousMatchError struct {
	Device string
	MAC    string
	Ports  []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("%s: %d MAC table entries for %s (%s)",
		e.Device, len(e.Ports), e.MAC, strings.Join(e.Ports, ", "))
}

func (e *AmbiguousMatchError) Unwrap() error {
	return ErrAmbiguousMatch
}
