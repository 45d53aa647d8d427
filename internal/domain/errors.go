package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrCycleInFlight = errors.New("ingestion cycle already in flight")

	// ErrResolutionAmbiguous means two or more canonical events are equally
	// plausible for a raw record. The record is held for manual curation.
	ErrResolutionAmbiguous = errors.New("resolution ambiguous")

	// ErrIncompleteOdds means an outcome leg is missing or non-positive.
	ErrIncompleteOdds = errors.New("incomplete odds")

	// ErrPollUnknown means the market-status adapter could not be reached.
	ErrPollUnknown = errors.New("market status unknown")
)

// AdapterErrorKind distinguishes retryable adapter failures from permanent
// payload problems.
type AdapterErrorKind string

const (
	AdapterTransient AdapterErrorKind = "transient"
	AdapterSchema    AdapterErrorKind = "schema"
)

// AdapterError is returned by bookmaker adapters.
type AdapterError struct {
	Kind      AdapterErrorKind
	Bookmaker string
	Err       error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %s: %v", e.Bookmaker, e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// NewTransientError wraps err as a retryable adapter failure.
func NewTransientError(bookmaker string, err error) error {
	return &AdapterError{Kind: AdapterTransient, Bookmaker: bookmaker, Err: err}
}

// NewSchemaError wraps err as a malformed-payload adapter failure.
func NewSchemaError(bookmaker string, err error) error {
	return &AdapterError{Kind: AdapterSchema, Bookmaker: bookmaker, Err: err}
}

// IsTransient reports whether err is a retryable adapter failure. Errors that
// are not AdapterErrors are treated as transient so unknown failures get the
// backoff treatment instead of silently skipping a cycle.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind == AdapterTransient
	}
	return true
}

// IsSchema reports whether err is a malformed-payload adapter failure.
func IsSchema(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Kind == AdapterSchema
}
