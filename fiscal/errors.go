/*
errors.go - Centralized error types for the fiscal engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The aggregation functions never return errors; everything here comes from
  the stateful edges: stores, shift lifecycle, sealing and the startup audit.

ERROR CATEGORIES:
  1. Shift errors - Lifecycle violations (no open shift, double close)
  2. Store errors - Missing or duplicate records
  3. Seal errors  - Per-sale failures during a shift close
  4. Audit errors - Golden-master mismatches (fiscal lock)

USAGE:
    if errors.Is(err, fiscal.ErrCloseInProgress) {
        // another close for this register is running
    }

SEE ALSO:
  - closer.go: Produces seal and shift errors
  - audit.go:  Produces SelfTestError
  - api/handlers.go: Maps errors to HTTP status
*/
package fiscal

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrShiftNotOpen is returned when closing or reading a register with no open shift.
	ErrShiftNotOpen = errors.New("no open shift")

	// ErrShiftAlreadyOpen is returned when opening a register that already has an open shift.
	ErrShiftAlreadyOpen = errors.New("shift already open")

	// ErrCloseInProgress is returned when a close for the same register is already running.
	ErrCloseInProgress = errors.New("shift close already in progress")

	// ErrCorteExists is returned when saving a corte whose ID is taken. Cortes are immutable.
	ErrCorteExists = errors.New("corte already exists")

	// ErrCorteNotFound is returned when a referenced corte doesn't exist.
	ErrCorteNotFound = errors.New("corte not found")

	// ErrSaleNotFound is returned when a referenced sale doesn't exist.
	ErrSaleNotFound = errors.New("sale not found")

	// ErrDuplicateSale is returned when appending a sale whose ID is already in the log.
	ErrDuplicateSale = errors.New("duplicate sale id")

	// ErrInvalidSale is returned when a sale record cannot be decoded at all.
	ErrInvalidSale = errors.New("invalid sale record")

	// ErrInvalidRange is returned when a report range ends before it starts.
	ErrInvalidRange = errors.New("invalid range: end before start")

	// ErrBulkSealUnsupported is returned by stores that cannot seal atomically.
	ErrBulkSealUnsupported = errors.New("bulk seal not supported")

	// ErrFiscalLock is returned while the startup self-test has failed.
	ErrFiscalLock = errors.New("fiscal lock: self-test failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// SealError reports a sale that could not be tagged during a close.
// The corte is already persisted when this is produced.
type SealError struct {
	SaleID    SaleID
	ClosureID ClosureID
	Err       error
}

func (e *SealError) Error() string {
	return fmt.Sprintf("seal sale %s with %s: %v", e.SaleID, e.ClosureID, e.Err)
}

func (e *SealError) Unwrap() error {
	return e.Err
}

// SelfTestError lists every failing golden case.
type SelfTestError struct {
	Failures []string
}

func (e *SelfTestError) Error() string {
	return fmt.Sprintf("fiscal self-test failed (%d): %s", len(e.Failures), strings.Join(e.Failures, "; "))
}

func (e *SelfTestError) Unwrap() error {
	return ErrFiscalLock
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCloseInProgress)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrDuplicateSale) ||
		errors.Is(err, ErrInvalidSale) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrShiftAlreadyOpen)
}

// IsConflict returns true if the request clashes with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrCloseInProgress) ||
		errors.Is(err, ErrCorteExists)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrShiftNotOpen) ||
		errors.Is(err, ErrCorteNotFound) ||
		errors.Is(err, ErrSaleNotFound)
}
