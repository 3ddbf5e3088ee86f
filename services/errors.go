package services

import "errors"

// Standard ledger errors. Operations wrap these with context via
// fmt.Errorf("...: %w", ...) and callers match them with errors.Is.
var (
	// ErrValidation indicates malformed input, e.g. a non-positive size or
	// incomplete option attributes on a contract trade.
	ErrValidation = errors.New("invalid ledger input")

	// ErrNotFound indicates an unknown trade or strategy identifier.
	ErrNotFound = errors.New("trade not found")

	// ErrInvalidState indicates an operation that is illegal for the
	// trade's current status, e.g. trimming more than is held or mutating
	// a closed trade.
	ErrInvalidState = errors.New("operation not allowed in current trade state")

	// ErrLedger indicates a persistence failure; the unit of work was
	// rolled back and no partial state was written.
	ErrLedger = errors.New("ledger persistence failure")
)
