package buffer

import "errors"

var (
	// ErrTooLarge reports an allocation exceeding the largest size class.
	ErrTooLarge = errors.New("allocation exceeds largest size class")

	// ErrOutOfBudget reports that eviction could not free enough pages. The
	// allocator retries with backoff before surfacing it.
	ErrOutOfBudget = errors.New("buffer pool out of budget")

	// ErrIO reports a failed page transfer to or from the storage region.
	ErrIO = errors.New("page i/o failed")

	// ErrInvalidPageID reports an operation on an invalid or out-of-range
	// page id.
	ErrInvalidPageID = errors.New("invalid page id")
)
