package model

import "errors"

var (
	// ErrValidation is returned for malformed or out-of-range input.
	// Nothing was written.
	ErrValidation = errors.New("ledger: validation failed")

	// ErrNotFound is returned when the referenced position does not exist,
	// usually because it was fully closed.
	ErrNotFound = errors.New("ledger: position not found")

	// ErrStoreBusy is returned when the store could not take the write lock
	// within its bounded wait. The whole operation may be retried.
	ErrStoreBusy = errors.New("ledger: store busy")

	// ErrConsistency signals a broken ledger invariant. The transaction was
	// rolled back.
	ErrConsistency = errors.New("ledger: consistency violation")
)
