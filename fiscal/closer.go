/*
closer.go - Shift close (Z-report + seal)

PURPOSE:
  The one mutating operation of the engine. Closing a shift:
    1. takes the per-register single-flight lock
    2. loads the open shift and its unsealed sales
    3. builds the corte (BuildClosure) and saves it
    4. seals every sale the corte covers
    5. marks the shift closed (compare-and-set)

SEALING:
  One bulk write when the store supports it atomically. Otherwise, or if the
  bulk write fails, sequential "set if absent" writes. Sales that still fail
  are reported in the result; they do not undo the corte, which is the
  source of truth from step 3 on.

RETRIES:
  A close that died between steps 3 and 5 leaves a corte for a still-open
  shift. The next close finds it (FindCorteByShift) and resumes sealing the
  same sale IDs instead of building a second corte. Already-sealed sales are
  counted, not rewritten.

RESEAL:
  A close that finished with seal failures has already closed its shift, but
  its leftovers are still unsealed. Before building, Close looks up every
  unsealed sale in the saved cortes: a covered sale is sealed under its
  original corte and never enters the new one, whether or not that seal
  succeeds. Reseal does the same in the background for the most recent
  cortes. Both run under the per-register lock.

CONCURRENCY:
  In-process: a register can have at most one close in flight
  (ErrCloseInProgress). Across processes: the store rejects a second corte
  for the same shift and CloseShift is compare-and-set.
*/
package fiscal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxSequenceAttempts = 3

// CloseResult is what a close did. Corte is always set when err is nil.
type CloseResult struct {
	Corte         Corte
	Sealed        int
	AlreadySealed int
	Failed        []*SealError
	Resumed       bool
	BulkSeal      bool
}

type Closer struct {
	store    Store
	cfg      Config
	log      *zap.Logger
	observer Observer
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewCloser(store Store, cfg Config, log *zap.Logger) *Closer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Closer{
		store:    store,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// WithObserver installs the legacy classification hook used while building.
func (c *Closer) WithObserver(o Observer) *Closer {
	c.observer = o
	return c
}

// WithClock replaces time.Now (tests).
func (c *Closer) WithClock(now func() time.Time) *Closer {
	c.now = now
	return c
}

func (c *Closer) acquire(registerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[registerID]; busy {
		return false
	}
	c.inflight[registerID] = struct{}{}
	return true
}

func (c *Closer) release(registerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, registerID)
}

// OpenShift starts a shift on a register with a snapshot of the opening balances.
func (c *Closer) OpenShift(ctx context.Context, registerID string, op Operator, opening OpeningBalances) (Shift, error) {
	sh := Shift{
		ID:         ShiftID(uuid.NewString()),
		RegisterID: registerID,
		Operator:   op.OrSystem(),
		OpenedAt:   c.now().UTC(),
		Opening:    opening,
	}
	if err := c.store.OpenShift(ctx, sh); err != nil {
		return Shift{}, err
	}
	c.log.Info("shift opened",
		zap.String("shift_id", string(sh.ID)),
		zap.String("register_id", registerID),
		zap.String("operator", sh.Operator.ID))
	return sh, nil
}

// Close closes the open shift of a register.
func (c *Closer) Close(ctx context.Context, registerID string, op Operator) (*CloseResult, error) {
	if !c.acquire(registerID) {
		return nil, ErrCloseInProgress
	}
	defer c.release(registerID)

	shift, err := c.store.CurrentShift(ctx, registerID)
	if err != nil {
		return nil, err
	}

	corte, resumed, err := c.corteFor(ctx, shift, op)
	if err != nil {
		return nil, err
	}

	res := c.seal(ctx, corte)
	res.Corte = corte
	res.Resumed = resumed

	if err := c.store.CloseShift(ctx, shift.ID, corte.ID, corte.ClosedAt); err != nil {
		if errors.Is(err, ErrShiftNotOpen) {
			return nil, fmt.Errorf("shift %s closed concurrently: %w", shift.ID, ErrCloseInProgress)
		}
		return nil, fmt.Errorf("close shift %s: %w", shift.ID, err)
	}

	c.log.Info("shift closed",
		zap.String("corte_id", string(corte.ID)),
		zap.String("shift_id", string(shift.ID)),
		zap.String("register_id", registerID),
		zap.Int("sales", len(corte.SaleIDs)),
		zap.Int("sealed", res.Sealed),
		zap.Int("already_sealed", res.AlreadySealed),
		zap.Int("seal_failures", len(res.Failed)),
		zap.Bool("resumed", resumed))
	return res, nil
}

// corteFor returns the corte of the shift, building and saving it unless a
// previous attempt already did.
func (c *Closer) corteFor(ctx context.Context, shift Shift, op Operator) (Corte, bool, error) {
	existing, err := c.store.FindCorteByShift(ctx, shift.ID)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, ErrCorteNotFound) {
		return Corte{}, false, fmt.Errorf("find corte for shift %s: %w", shift.ID, err)
	}

	sales, err := c.store.LoadUnsealed(ctx, shift.RegisterID)
	if err != nil {
		return Corte{}, false, fmt.Errorf("load shift sales: %w", err)
	}
	sales, err = c.settleLeftovers(ctx, sales)
	if err != nil {
		return Corte{}, false, err
	}

	for attempt := 0; attempt < maxSequenceAttempts; attempt++ {
		seq, err := c.store.NextSequence(ctx)
		if err != nil {
			return Corte{}, false, fmt.Errorf("next corte sequence: %w", err)
		}
		corte := BuildClosure(ClosureInput{
			Sales:      sales,
			Opening:    shift.Opening,
			Operator:   op,
			Config:     c.cfg,
			Sequence:   seq,
			ClosedAt:   c.now().UTC(),
			ShiftID:    shift.ID,
			RegisterID: shift.RegisterID,
			Observer:   c.observer,
		})

		err = c.store.SaveCorte(ctx, corte)
		if err == nil {
			return corte, false, nil
		}
		if !errors.Is(err, ErrCorteExists) {
			return Corte{}, false, fmt.Errorf("save corte %s: %w", corte.ID, err)
		}
		// Either another process closed this shift or the sequence was taken.
		if existing, ferr := c.store.FindCorteByShift(ctx, shift.ID); ferr == nil {
			return existing, true, nil
		}
		c.log.Warn("corte sequence taken, retrying", zap.String("corte_id", string(corte.ID)))
	}
	return Corte{}, false, fmt.Errorf("allocate corte sequence: %w", ErrCorteExists)
}

// settleLeftovers drops from sales every sale an earlier corte already
// covers, resealing it under that corte on the way. The caller holds the
// register lock.
func (c *Closer) settleLeftovers(ctx context.Context, sales []Sale) ([]Sale, error) {
	if len(sales) == 0 {
		return sales, nil
	}
	cortes, err := c.store.ListCortes(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list cortes: %w", err)
	}
	fresh, pending := splitCovered(sales, cortes)

	for i, ids := range pending {
		partial := cortes[i]
		partial.SaleIDs = ids
		res := c.seal(ctx, partial)
		c.log.Warn("sales of a closed corte were still unsealed",
			zap.String("corte_id", string(partial.ID)),
			zap.Int("pending", len(ids)),
			zap.Int("sealed", res.Sealed),
			zap.Int("seal_failures", len(res.Failed)))
	}
	return fresh, nil
}

// splitCovered separates sales no corte covers from those an earlier corte
// already lists. pending is keyed by the index of the most recent corte in
// cortes that covers the sale.
func splitCovered(sales []Sale, cortes []Corte) (fresh []Sale, pending map[int][]SaleID) {
	coveredBy := make(map[SaleID]int, len(sales))
	for i, corte := range cortes {
		for _, id := range corte.SaleIDs {
			if _, seen := coveredBy[id]; !seen {
				coveredBy[id] = i
			}
		}
	}

	fresh = make([]Sale, 0, len(sales))
	pending = make(map[int][]SaleID)
	for _, s := range sales {
		i, ok := coveredBy[s.ID]
		if !ok {
			fresh = append(fresh, s)
			continue
		}
		pending[i] = append(pending[i], s.ID)
	}
	return fresh, pending
}

func (c *Closer) seal(ctx context.Context, corte Corte) *CloseResult {
	res := &CloseResult{}
	ids := corte.SaleIDs
	if len(ids) == 0 {
		return res
	}

	if bulk, ok := c.store.(BulkSealer); ok {
		n, err := bulk.SealBatch(ctx, ids, corte.ID)
		if err == nil {
			res.BulkSeal = true
			res.Sealed = n
			res.AlreadySealed = len(ids) - n
			return res
		}
		if !errors.Is(err, ErrBulkSealUnsupported) {
			c.log.Warn("bulk seal failed, falling back to sequential",
				zap.String("corte_id", string(corte.ID)), zap.Error(err))
		}
	}

	for _, id := range ids {
		sealedNow, err := c.store.Seal(ctx, id, corte.ID)
		switch {
		case err != nil:
			se := &SealError{SaleID: id, ClosureID: corte.ID, Err: err}
			res.Failed = append(res.Failed, se)
			c.log.Warn("seal failed", zap.String("sale_id", string(id)),
				zap.String("corte_id", string(corte.ID)), zap.Error(err))
		case sealedNow:
			res.Sealed++
		default:
			res.AlreadySealed++
		}
	}
	return res
}

// ResealResult summarizes one Reseal pass.
type ResealResult struct {
	Cortes  int // cortes that still had unsealed sales
	Skipped int // cortes whose register had a close in flight
	Sealed  int
	Failed  []*SealError
}

// Reseal seals the sales of the last limit cortes that are still unsealed.
func (c *Closer) Reseal(ctx context.Context, limit int) (ResealResult, error) {
	var out ResealResult
	cortes, err := c.store.ListCortes(ctx, limit)
	if err != nil {
		return out, fmt.Errorf("list cortes: %w", err)
	}

	for _, corte := range cortes {
		if len(corte.SaleIDs) == 0 {
			continue
		}
		pending, err := c.unsealed(ctx, corte.SaleIDs)
		if err != nil {
			return out, err
		}
		if len(pending) == 0 {
			continue
		}
		if !c.acquire(corte.RegisterID) {
			out.Skipped++
			continue
		}
		partial := corte
		partial.SaleIDs = pending
		res := c.seal(ctx, partial)
		c.release(corte.RegisterID)

		out.Cortes++
		out.Sealed += res.Sealed
		out.Failed = append(out.Failed, res.Failed...)
		c.log.Info("corte resealed",
			zap.String("corte_id", string(corte.ID)),
			zap.Int("pending", len(pending)),
			zap.Int("sealed", res.Sealed),
			zap.Int("seal_failures", len(res.Failed)))
	}
	return out, nil
}

func (c *Closer) unsealed(ctx context.Context, ids []SaleID) ([]SaleID, error) {
	sales, err := c.store.LoadByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load corte sales: %w", err)
	}
	var pending []SaleID
	for _, s := range sales {
		if !s.IsSealed() {
			pending = append(pending, s.ID)
		}
	}
	return pending, nil
}
