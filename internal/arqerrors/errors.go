// Package arqerrors defines the error categories used across the dashboard
// core: transport failures that abort an operation, and per-record failures
// that are skipped by batch scans.
package arqerrors

import (
	"errors"
	"fmt"
)

var (
	// ErrUndecodable is returned when every decode tier rejects a payload.
	ErrUndecodable = errors.New("payload undecodable")
	// ErrNotFound is returned when a job is absent from all observed key spaces.
	ErrNotFound = errors.New("job not found")
)

// TransportError wraps a failure to reach or read the store. Repository
// operations propagate it when the failed call is one they cannot proceed
// without.
type TransportError struct {
	Op  string
	Key string
	Err error
}

func (e *TransportError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("redis %s on %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("redis %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RecordError wraps a failure scoped to a single record inside a batch.
// Callers skip the record and continue.
type RecordError struct {
	Key string
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.Key, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
