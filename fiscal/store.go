/*
store.go - Persistence interfaces for sales, shifts and cortes

PURPOSE:
  Defines the boundary between the pure engine and storage. The engine only
  ever reads snapshots through these interfaces; the single write it makes
  to a sale is the seal.

KEY INTERFACES:
  SaleStore:  Append-only sale log with range reads and a revision counter
  Sealer:     Monotonic "set sealedBy if absent" per sale
  BulkSealer: Optional atomic seal of many sales at once
  ShiftStore: Open/current/close with compare-and-set close
  CorteStore: Immutable Z-reports with a correlative sequence

APPEND-ONLY CONTRACT:
  Sales are never updated or deleted. The only mutation is Seal, which sets
  SealedBy once and is a no-op when it is already set. Cortes are written
  once; SaveCorte on an existing ID fails with ErrCorteExists.

REVISION:
  Revision increments on every append or seal. Cached reports are keyed by
  it (see memo.go), so a new sale invalidates every cached aggregation.

IMPLEMENTATIONS:
  - fiscal/store/memory.go: In-memory for testing and dev
  - store/sqlite/sqlite.go: Production SQLite
*/
package fiscal

import (
	"context"
	"time"
)

// =============================================================================
// SALE LOG
// =============================================================================

type SaleStore interface {
	// AppendSale persists a sale. Returns ErrDuplicateSale if the ID exists.
	AppendSale(ctx context.Context, s Sale) error

	GetSale(ctx context.Context, id SaleID) (Sale, error)

	// LoadUnsealed returns every unsealed sale of a register ordered by At,
	// voided ones included.
	LoadUnsealed(ctx context.Context, registerID string) ([]Sale, error)

	// LoadByIDs returns the sales with the given IDs, skipping unknown ones.
	LoadByIDs(ctx context.Context, ids []SaleID) ([]Sale, error)

	// LoadSealedBy returns the sales sealed under a closure, ordered by At.
	LoadSealedBy(ctx context.Context, closure ClosureID) ([]Sale, error)

	// LoadRange returns sales with At in [from, to], ordered by At.
	LoadRange(ctx context.Context, from, to time.Time) ([]Sale, error)

	// EachInRange streams the same sales as LoadRange without materializing them.
	// Iteration stops at the first error returned by fn.
	EachInRange(ctx context.Context, from, to time.Time, fn func(Sale) error) error

	CountRange(ctx context.Context, from, to time.Time) (int, error)

	// Revision changes whenever the log changes.
	Revision(ctx context.Context) (int64, error)
}

// Sealer tags one sale with its closure. sealedNow is false when the sale was
// already sealed (by this or another closure); that is not an error.
type Sealer interface {
	Seal(ctx context.Context, id SaleID, closure ClosureID) (sealedNow bool, err error)
}

// BulkSealer seals many sales in one atomic write. Already sealed sales are
// skipped. Returns the number of sales sealed now, or ErrBulkSealUnsupported.
type BulkSealer interface {
	SealBatch(ctx context.Context, ids []SaleID, closure ClosureID) (int, error)
}

// =============================================================================
// SHIFTS
// =============================================================================

type ShiftStore interface {
	// OpenShift snapshots the opening balances. ErrShiftAlreadyOpen if the
	// register already has an open shift.
	OpenShift(ctx context.Context, sh Shift) error

	// CurrentShift returns the open shift of a register, or ErrShiftNotOpen.
	CurrentShift(ctx context.Context, registerID string) (Shift, error)

	// CloseShift marks an open shift closed by closure. Compare-and-set:
	// ErrShiftNotOpen if it is already closed.
	CloseShift(ctx context.Context, id ShiftID, closure ClosureID, at time.Time) error
}

// =============================================================================
// CORTES
// =============================================================================

type CorteStore interface {
	// SaveCorte writes a corte once. ErrCorteExists if the ID is taken.
	SaveCorte(ctx context.Context, c Corte) error

	// GetCorte returns the corte verbatim, or ErrCorteNotFound.
	GetCorte(ctx context.Context, id ClosureID) (Corte, error)

	// FindCorteByShift returns the corte produced for a shift, or ErrCorteNotFound.
	FindCorteByShift(ctx context.Context, shiftID ShiftID) (Corte, error)

	// ListCortes returns the most recent cortes first.
	ListCortes(ctx context.Context, limit int) ([]Corte, error)

	// NextSequence returns the next correlative number (1-based).
	NextSequence(ctx context.Context) (int64, error)
}

// Store is everything the closer and the reporter need.
type Store interface {
	SaleStore
	Sealer
	ShiftStore
	CorteStore
}
