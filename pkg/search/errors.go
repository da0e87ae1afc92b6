package search

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidQuery wraps every query validation failure
	ErrInvalidQuery = errors.New("invalid search query")

	// ErrDimensionMismatch is returned when two matrices do not share a
	// column layout. It means query and candidates were built from
	// different feature sets and aborts the search.
	ErrDimensionMismatch = errors.New("matrix column count mismatch")

	// ErrEmptySource is returned when a source has no samples to resample
	ErrEmptySource = errors.New("source has no samples")
)

// InvalidRangeError reports a search interval whose start is not before its end
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("start time %s is not before end time %s",
		e.Start.Format(time.RFC3339Nano), e.End.Format(time.RFC3339Nano))
}

// Unwrap lets errors.Is match ErrInvalidQuery
func (e *InvalidRangeError) Unwrap() error {
	return ErrInvalidQuery
}

// MalformedDataError reports samples that cannot be resampled: a missing
// feature or a value that is NaN or infinite
type MalformedDataError struct {
	Source    string
	Feature   string
	Timestamp time.Time
	Reason    string
}

func (e *MalformedDataError) Error() string {
	if e.Feature == "" {
		return fmt.Sprintf("malformed sample in %q at %s: sample %s",
			e.Source, e.Timestamp.Format(time.RFC3339Nano), e.Reason)
	}
	return fmt.Sprintf("malformed sample in %q at %s: feature %q %s",
		e.Source, e.Timestamp.Format(time.RFC3339Nano), e.Feature, e.Reason)
}

func invalidQuery(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
