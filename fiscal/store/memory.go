// Package store provides in-memory implementations of the fiscal stores.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fenixpos/fiscal-engine/fiscal"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements fiscal.Store and fiscal.BulkSealer.
type Memory struct {
	mu       sync.RWMutex
	sales    []fiscal.Sale // ordered by At
	index    map[fiscal.SaleID]int
	revision int64

	shifts map[fiscal.ShiftID]fiscal.Shift
	open   map[string]fiscal.ShiftID // register -> open shift

	cortes  map[fiscal.ClosureID]fiscal.Corte
	byShift map[fiscal.ShiftID]fiscal.ClosureID
	seq     int64
}

var (
	_ fiscal.Store      = (*Memory)(nil)
	_ fiscal.BulkSealer = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		index:   make(map[fiscal.SaleID]int),
		shifts:  make(map[fiscal.ShiftID]fiscal.Shift),
		open:    make(map[string]fiscal.ShiftID),
		cortes:  make(map[fiscal.ClosureID]fiscal.Corte),
		byShift: make(map[fiscal.ShiftID]fiscal.ClosureID),
	}
}

// =============================================================================
// SALES
// =============================================================================

// AppendSale adds a sale to the log. Append-only.
func (m *Memory) AppendSale(_ context.Context, s fiscal.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.index[s.ID]; exists {
		return fiscal.ErrDuplicateSale
	}

	// Binary search for insertion point keeps the log ordered by At.
	i := sort.Search(len(m.sales), func(i int) bool {
		return m.sales[i].At.After(s.At)
	})
	m.sales = append(m.sales, fiscal.Sale{})
	copy(m.sales[i+1:], m.sales[i:])
	m.sales[i] = s
	m.reindexLocked(i)
	m.revision++
	return nil
}

func (m *Memory) reindexLocked(from int) {
	for j := from; j < len(m.sales); j++ {
		m.index[m.sales[j].ID] = j
	}
}

func (m *Memory) GetSale(_ context.Context, id fiscal.SaleID) (fiscal.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[id]
	if !ok {
		return fiscal.Sale{}, fiscal.ErrSaleNotFound
	}
	return m.sales[i], nil
}

func (m *Memory) LoadUnsealed(_ context.Context, registerID string) ([]fiscal.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []fiscal.Sale
	for _, s := range m.sales {
		if !s.IsSealed() && s.RegisterID == registerID {
			result = append(result, s)
		}
	}
	return result, nil
}

func (m *Memory) LoadByIDs(_ context.Context, ids []fiscal.SaleID) ([]fiscal.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]fiscal.Sale, 0, len(ids))
	for _, id := range ids {
		if i, ok := m.index[id]; ok {
			result = append(result, m.sales[i])
		}
	}
	return result, nil
}

func (m *Memory) LoadSealedBy(_ context.Context, closure fiscal.ClosureID) ([]fiscal.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []fiscal.Sale
	for _, s := range m.sales {
		if s.SealedBy == closure {
			result = append(result, s)
		}
	}
	return result, nil
}

func inRange(s fiscal.Sale, from, to time.Time) bool {
	return !s.At.Before(from) && !s.At.After(to)
}

func (m *Memory) LoadRange(_ context.Context, from, to time.Time) ([]fiscal.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []fiscal.Sale
	for _, s := range m.sales {
		if inRange(s, from, to) {
			result = append(result, s)
		}
	}
	return result, nil
}

// EachInRange iterates over a snapshot so fn may call back into the store.
func (m *Memory) EachInRange(ctx context.Context, from, to time.Time, fn func(fiscal.Sale) error) error {
	sales, _ := m.LoadRange(ctx, from, to)
	for _, s := range sales {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) CountRange(_ context.Context, from, to time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sales {
		if inRange(s, from, to) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Revision(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision, nil
}

// =============================================================================
// SEALING
// =============================================================================

// Seal sets SealedBy if absent.
func (m *Memory) Seal(_ context.Context, id fiscal.SaleID, closure fiscal.ClosureID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return false, fiscal.ErrSaleNotFound
	}
	if m.sales[i].IsSealed() {
		return false, nil
	}
	m.sales[i].SealedBy = closure
	m.revision++
	return true, nil
}

// SealBatch seals all ids under one lock. Unknown IDs fail the whole batch.
func (m *Memory) SealBatch(_ context.Context, ids []fiscal.SaleID, closure fiscal.ClosureID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all first (atomic check)
	for _, id := range ids {
		if _, ok := m.index[id]; !ok {
			return 0, fiscal.ErrSaleNotFound
		}
	}

	n := 0
	for _, id := range ids {
		i := m.index[id]
		if m.sales[i].IsSealed() {
			continue
		}
		m.sales[i].SealedBy = closure
		n++
	}
	if n > 0 {
		m.revision++
	}
	return n, nil
}

// =============================================================================
// SHIFTS
// =============================================================================

func (m *Memory) OpenShift(_ context.Context, sh fiscal.Shift) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.open[sh.RegisterID]; busy {
		return fiscal.ErrShiftAlreadyOpen
	}
	m.shifts[sh.ID] = sh
	m.open[sh.RegisterID] = sh.ID
	return nil
}

func (m *Memory) CurrentShift(_ context.Context, registerID string) (fiscal.Shift, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.open[registerID]
	if !ok {
		return fiscal.Shift{}, fiscal.ErrShiftNotOpen
	}
	return m.shifts[id], nil
}

func (m *Memory) CloseShift(_ context.Context, id fiscal.ShiftID, closure fiscal.ClosureID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shifts[id]
	if !ok || !sh.IsOpen() {
		return fiscal.ErrShiftNotOpen
	}
	sh.ClosedBy = closure
	sh.ClosedAt = &at
	m.shifts[id] = sh
	delete(m.open, sh.RegisterID)
	return nil
}

// =============================================================================
// CORTES
// =============================================================================

func (m *Memory) SaveCorte(_ context.Context, c fiscal.Corte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.cortes[c.ID]; exists {
		return fiscal.ErrCorteExists
	}
	if c.ShiftID != "" {
		if _, exists := m.byShift[c.ShiftID]; exists {
			return fiscal.ErrCorteExists
		}
		m.byShift[c.ShiftID] = c.ID
	}
	m.cortes[c.ID] = c
	if c.Sequence > m.seq {
		m.seq = c.Sequence
	}
	return nil
}

func (m *Memory) GetCorte(_ context.Context, id fiscal.ClosureID) (fiscal.Corte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cortes[id]
	if !ok {
		return fiscal.Corte{}, fiscal.ErrCorteNotFound
	}
	return c, nil
}

func (m *Memory) FindCorteByShift(_ context.Context, shiftID fiscal.ShiftID) (fiscal.Corte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byShift[shiftID]
	if !ok {
		return fiscal.Corte{}, fiscal.ErrCorteNotFound
	}
	return m.cortes[id], nil
}

func (m *Memory) ListCortes(_ context.Context, limit int) ([]fiscal.Corte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]fiscal.Corte, 0, len(m.cortes))
	for _, c := range m.cortes {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Sequence > result[j].Sequence })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) NextSequence(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq + 1, nil
}

// ImportCorte stores a corte decoded from a legacy export, detached from
// any shift. One without a correlative gets the next one.
func (m *Memory) ImportCorte(ctx context.Context, c fiscal.Corte) (fiscal.Corte, error) {
	c.ShiftID = ""
	if c.Sequence <= 0 {
		seq, _ := m.NextSequence(ctx)
		c.Sequence = seq
	}
	if c.ID == "" {
		c.ID = fiscal.ClosureIDFor(c.Sequence)
	}
	if err := m.SaveCorte(ctx, c); err != nil {
		return fiscal.Corte{}, err
	}
	return c, nil
}
