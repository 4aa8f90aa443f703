// Package domain provides shared domain-level sentinel errors and helpers.
package domain

import (
	"errors"
	"time"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists indicates an entity with the same identity is already recorded.
var ErrAlreadyExists = errors.New("already exists")

// ErrInvalidRequest indicates the caller supplied an invalid payload or parameter.
var ErrInvalidRequest = errors.New("invalid request")

// ErrSequenceConflict indicates an event sequence number is already recorded for the run.
var ErrSequenceConflict = errors.New("sequence already recorded")

// ErrStaleSequence indicates an event sequence number is behind the run's last sequence.
var ErrStaleSequence = errors.New("stale sequence")

// ErrInvalidSequence indicates an event carried a missing or non-positive sequence number.
var ErrInvalidSequence = errors.New("invalid sequence")

// ErrUnsupported indicates the backing store does not implement the requested capability.
var ErrUnsupported = errors.New("unsupported by backend")

// timeLayout is RFC3339 UTC with millisecond precision, the wire format for
// every persisted timestamp.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Now returns the current UTC time truncated to millisecond precision, so
// the default JSON encoding of time.Time lands on the persisted wire format.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// FormatTime serializes t as RFC3339 UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a timestamp produced by FormatTime. It accepts any valid
// RFC3339 string so logs written by older builds still load.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
