// Package id provides unique ID generation for request tracing and index builds.
//
// IDs are ULIDs: 26 characters, Crockford base32, lexicographically sortable
// by creation time.
//
//	rid := id.NewULID() // e.g., "01ARZ3NDEKTSV4RRFFQ69G5FAV"
package id

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrInvalidULID is returned when a ULID string is invalid.
var ErrInvalidULID = errors.New("invalid ULID format")

// NewULID generates a new ULID string.
// ulid.Make uses a process-wide monotonic entropy source and is safe for
// concurrent use.
func NewULID() string {
	return ulid.Make().String()
}

// ParseTime returns the creation time embedded in a ULID string.
func ParseTime(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, errors.Join(ErrInvalidULID, err)
	}
	return ulid.Time(u.Time()), nil
}
