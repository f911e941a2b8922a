// Package faults defines the error classes shared by the checkpoint pipeline.
//
// Every error returned across a package boundary wraps exactly one of the
// sentinels below, so callers can branch with errors.Is without knowing
// which backend produced it. The underlying cause stays reachable too.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrInput marks invalid arguments. Never retried.
	ErrInput = errors.New("invalid input")

	// ErrTransientIO marks an object store or ledger that is unreachable,
	// timing out or rate limiting. Eligible for a bounded retry.
	ErrTransientIO = errors.New("transient i/o failure")

	// ErrLedgerRejected marks a submission refused by the ledger's execution
	// rules. Fatal for the current run.
	ErrLedgerRejected = errors.New("ledger rejected submission")

	// ErrInconsistent marks a verification mismatch.
	ErrInconsistent = errors.New("checkpoint inconsistency")

	// ErrNotConnected is the precondition failure checked before any I/O.
	ErrNotConnected = errors.New("not connected")
)

// Inputf returns an ErrInput with a formatted message.
func Inputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInput, fmt.Sprintf(format, args...))
}

// Transient wraps err as ErrTransientIO. A nil err stays nil.
func Transient(err error) error {
	return wrap(ErrTransientIO, err)
}

// Rejected wraps err as ErrLedgerRejected. A nil err stays nil.
func Rejected(err error) error {
	return wrap(ErrLedgerRejected, err)
}

// NotConnected wraps err as ErrNotConnected. A nil err stays nil.
func NotConnected(err error) error {
	return wrap(ErrNotConnected, err)
}

// IsRetryable reports whether err is worth another attempt of the same call.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientIO)
}

func wrap(class, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, class) {
		return err
	}
	return fmt.Errorf("%w: %w", class, err)
}
