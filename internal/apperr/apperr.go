// Package apperr classifies errors into the kind taxonomy the system's
// failure semantics are defined against: Transport, Protocol, Provider,
// Contract, Configuration. The kind drives propagation policy, not the
// concrete type — callers branch with errors.As against *Error and switch
// on Kind.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the five failure categories the design distinguishes.
type Kind string

const (
	// Transport errors (bus unreachable, SSE write failure) are recovered
	// locally and never propagated to the caller as a hard failure.
	Transport Kind = "transport"
	// Protocol errors (malformed JSON, unknown event, bad base64) cause the
	// offending unit to be dropped and counted; processing continues.
	Protocol Kind = "protocol"
	// Provider errors (STT/LLM failure or timeout) are retried where
	// bounded, else the caller degrades gracefully.
	Provider Kind = "provider"
	// Contract errors (sample-rate change mid-stream, LLM schema
	// violation) terminate only the affected interaction.
	Contract Kind = "contract"
	// Configuration errors (missing credentials at boot) are fatal to
	// process startup.
	Configuration Kind = "configuration"
)

// Error pairs a Kind with the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a Kind and an operation label.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
