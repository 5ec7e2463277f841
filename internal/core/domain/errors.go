package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a posting no longer exists at the source.
	ErrNotFound = errors.New("posting not found at source")

	// ErrPreFilterRejected is returned when a posting violates the local
	// pre-filter rules; the record is deleted, never retried.
	ErrPreFilterRejected = errors.New("rejected by pre-filter")

	// ErrRateLimited is returned when an external call was throttled.
	ErrRateLimited = errors.New("rate limited")

	// ErrCircuitOpen is returned when the breaker rejects a call without
	// reaching the classifier.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrOptimisticConflict is returned when a version-checked save lost to
	// a concurrent writer.
	ErrOptimisticConflict = errors.New("optimistic version conflict")
)

// ParseError reports a classifier response that no parse attempt could turn
// into a structured result.
type ParseError struct {
	Msg string
	Raw string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse classifier response: %s", e.Msg)
}

// NewParseError builds a ParseError keeping a bounded snippet of the raw
// payload for the logs.
func NewParseError(msg, raw string) *ParseError {
	const maxRaw = 200
	if len(raw) > maxRaw {
		raw = raw[:maxRaw] + "..."
	}
	return &ParseError{Msg: msg, Raw: raw}
}
