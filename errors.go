package odb

import "github.com/pkg/errors"

// ErrNotFound is returned (or used as the sentinel wrapped by callers) when
// a lookup finds no matching handle. Queries never fail this way — they
// simply invoke the sink zero times — but point lookups built atop them
// return it for caller convenience.
var ErrNotFound = errors.New("odb: not found")

// AllocationFailure reports that a DataStore could not allocate storage for
// a new record. The operation that produced it leaves the datastore
// unchanged.
type AllocationFailure struct {
	cause error
}

func (e *AllocationFailure) Error() string {
	return "odb: allocation failure: " + e.cause.Error()
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *AllocationFailure) Unwrap() error { return e.cause }

func newAllocationFailure(cause error) error {
	return &AllocationFailure{cause: errors.WithStack(cause)}
}

// ArchiveIOFailure wraps an I/O error encountered while appending to an
// archive sink's .dat/.ind files.
type ArchiveIOFailure struct {
	cause error
}

func (e *ArchiveIOFailure) Error() string {
	return "odb: archive io failure: " + e.cause.Error()
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *ArchiveIOFailure) Unwrap() error { return e.cause }

func newArchiveIOFailure(cause error) error {
	return &ArchiveIOFailure{cause: errors.WithStack(cause)}
}
