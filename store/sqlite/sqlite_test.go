package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenixpos/fiscal-engine/fiscal"
	"github.com/fenixpos/fiscal-engine/money"
	"github.com/fenixpos/fiscal-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sale(id string, at time.Time, total string) fiscal.Sale {
	return fiscal.Sale{
		ID:         fiscal.SaleID(id),
		At:         at,
		RegisterID: "caja-1",
		Total:      decimal.RequireFromString(total),
		Status:     fiscal.StatusCompleted,
		Kind:       fiscal.KindSale,
		Payments: []fiscal.Payment{{
			Amount: decimal.RequireFromString(total), Currency: money.USD, Medium: fiscal.MediumCash, Method: "Efectivo $",
		}},
	}
}

func ids(sales []fiscal.Sale) []fiscal.SaleID {
	out := make([]fiscal.SaleID, 0, len(sales))
	for _, s := range sales {
		out = append(out, s.ID)
	}
	return out
}

// =============================================================================
// SALE LOG
// =============================================================================

func TestAppendAndGetSale(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	// GIVEN: a sale with a nested payment list
	in := sale("s1", t0, "12.5")
	in.ExchangeRate = decimal.RequireFromString("36.5")
	require.NoError(t, s.AppendSale(ctx, in))

	// WHEN
	got, err := s.GetSale(ctx, "s1")

	// THEN: the record round-trips
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)
	assert.True(t, in.At.Equal(got.At))
	assert.True(t, in.Total.Equal(got.Total))
	assert.True(t, in.ExchangeRate.Equal(got.ExchangeRate))
	require.Len(t, got.Payments, 1)
	assert.Equal(t, fiscal.MediumCash, got.Payments[0].Medium)
	assert.False(t, got.IsSealed())

	_, err = s.GetSale(ctx, "missing")
	assert.ErrorIs(t, err, fiscal.ErrSaleNotFound)
}

func TestAppendSale_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.AppendSale(ctx, sale("s1", t0, "1")))

	err := s.AppendSale(ctx, sale("s1", t0, "2"))

	assert.ErrorIs(t, err, fiscal.ErrDuplicateSale)
}

func TestRevisionMovesOnAppendAndSeal(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	r0, err := s.Revision(ctx)
	require.NoError(t, err)

	require.NoError(t, s.AppendSale(ctx, sale("s1", t0, "1")))
	r1, _ := s.Revision(ctx)

	_, err = s.Seal(ctx, "s1", "Z-000001")
	require.NoError(t, err)
	r2, _ := s.Revision(ctx)

	// A no-op seal does not move it.
	_, err = s.Seal(ctx, "s1", "Z-000002")
	require.NoError(t, err)
	r3, _ := s.Revision(ctx)

	assert.Greater(t, r1, r0)
	assert.Greater(t, r2, r1)
	assert.Equal(t, r2, r3)
}

func TestLoadUnsealed_OrderedAndFiltered(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	other := sale("x1", t0, "1")
	other.RegisterID = "caja-2"
	for _, in := range []fiscal.Sale{
		sale("s2", t0.Add(time.Hour), "2"),
		sale("s1", t0, "1"),
		other,
		sale("s3", t0.Add(2*time.Hour), "3"),
	} {
		require.NoError(t, s.AppendSale(ctx, in))
	}
	_, err := s.Seal(ctx, "s3", "Z-000001")
	require.NoError(t, err)

	got, err := s.LoadUnsealed(ctx, "caja-1")

	require.NoError(t, err)
	assert.Equal(t, []fiscal.SaleID{"s1", "s2"}, ids(got))
}

func TestRangeReads(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for i, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, s.AppendSale(ctx, sale(id, t0.Add(time.Duration(i)*time.Hour), "1")))
	}
	from, to := t0, t0.Add(time.Hour)

	loaded, err := s.LoadRange(ctx, from, to)
	require.NoError(t, err)
	n, err := s.CountRange(ctx, from, to)
	require.NoError(t, err)

	var streamed []fiscal.SaleID
	err = s.EachInRange(ctx, from, to, func(sale fiscal.Sale) error {
		streamed = append(streamed, sale.ID)
		return nil
	})
	require.NoError(t, err)

	// Bounds are inclusive.
	assert.Equal(t, []fiscal.SaleID{"s1", "s2"}, ids(loaded))
	assert.Equal(t, 2, n)
	assert.Equal(t, ids(loaded), streamed)
}

func TestEachInRange_StopsOnError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.AppendSale(ctx, sale("s1", t0, "1")))
	require.NoError(t, s.AppendSale(ctx, sale("s2", t0, "1")))
	stop := errors.New("stop")

	calls := 0
	err := s.EachInRange(ctx, t0, t0, func(fiscal.Sale) error {
		calls++
		return stop
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

// =============================================================================
// SEALING
// =============================================================================

func TestSeal_IsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.AppendSale(ctx, sale("s1", t0, "1")))

	now, err := s.Seal(ctx, "s1", "Z-000001")
	require.NoError(t, err)
	assert.True(t, now)

	now, err = s.Seal(ctx, "s1", "Z-000002")
	require.NoError(t, err)
	assert.False(t, now)

	got, _ := s.GetSale(ctx, "s1")
	assert.Equal(t, fiscal.ClosureID("Z-000001"), got.SealedBy)

	_, err = s.Seal(ctx, "nope", "Z-000001")
	assert.ErrorIs(t, err, fiscal.ErrSaleNotFound)
}

func TestSealBatch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, s.AppendSale(ctx, sale(id, t0, "1")))
	}
	_, err := s.Seal(ctx, "s1", "Z-000001")
	require.NoError(t, err)

	// WHEN: one sale is already sealed
	n, err := s.SealBatch(ctx, []fiscal.SaleID{"s1", "s2", "s3"}, "Z-000002")

	// THEN: only the others are sealed now
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sealed, err := s.LoadSealedBy(ctx, "Z-000002")
	require.NoError(t, err)
	assert.Equal(t, []fiscal.SaleID{"s2", "s3"}, ids(sealed))

	s1, _ := s.GetSale(ctx, "s1")
	assert.Equal(t, fiscal.ClosureID("Z-000001"), s1.SealedBy)
}

func TestSealBatch_UnknownIDRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.AppendSale(ctx, sale("s1", t0, "1")))

	_, err := s.SealBatch(ctx, []fiscal.SaleID{"s1", "ghost"}, "Z-000001")

	assert.ErrorIs(t, err, fiscal.ErrSaleNotFound)
	s1, _ := s.GetSale(ctx, "s1")
	assert.False(t, s1.IsSealed())
}

// =============================================================================
// SHIFTS
// =============================================================================

func TestShiftLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	sh := fiscal.Shift{
		ID: "shift-1", RegisterID: "caja-1", OpenedAt: t0,
		Operator: fiscal.Operator{ID: "u1", Name: "Ana"},
		Opening:  fiscal.OpeningBalances{USDCash: decimal.NewFromInt(100), VESCash: decimal.NewFromInt(3650)},
	}
	require.NoError(t, s.OpenShift(ctx, sh))

	// One open shift per register
	dup := sh
	dup.ID = "shift-2"
	assert.ErrorIs(t, s.OpenShift(ctx, dup), fiscal.ErrShiftAlreadyOpen)

	cur, err := s.CurrentShift(ctx, "caja-1")
	require.NoError(t, err)
	assert.Equal(t, sh.ID, cur.ID)
	assert.Equal(t, "Ana", cur.Operator.Name)
	assert.True(t, cur.Opening.VESCash.Equal(decimal.NewFromInt(3650)))
	assert.True(t, cur.OpenedAt.Equal(t0))

	// Close is compare-and-set
	require.NoError(t, s.CloseShift(ctx, sh.ID, "Z-000001", t0.Add(time.Hour)))
	assert.ErrorIs(t, s.CloseShift(ctx, sh.ID, "Z-000002", t0.Add(time.Hour)), fiscal.ErrShiftNotOpen)

	_, err = s.CurrentShift(ctx, "caja-1")
	assert.ErrorIs(t, err, fiscal.ErrShiftNotOpen)

	// The register can open again
	assert.NoError(t, s.OpenShift(ctx, dup))
}

// =============================================================================
// CORTES
// =============================================================================

func TestCortes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	seq, err := s.NextSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	c1 := fiscal.BuildClosure(fiscal.ClosureInput{Config: fiscal.DefaultConfig(), Sequence: 1, ClosedAt: t0, ShiftID: "shift-1"})
	require.NoError(t, s.SaveCorte(ctx, c1))

	// Immutable: same ID, or same shift, is rejected
	assert.ErrorIs(t, s.SaveCorte(ctx, c1), fiscal.ErrCorteExists)
	c2 := fiscal.BuildClosure(fiscal.ClosureInput{Config: fiscal.DefaultConfig(), Sequence: 2, ClosedAt: t0, ShiftID: "shift-1"})
	assert.ErrorIs(t, s.SaveCorte(ctx, c2), fiscal.ErrCorteExists)

	got, err := s.GetCorte(ctx, "Z-000001")
	require.NoError(t, err)
	assert.Equal(t, c1.SchemaVersion, got.SchemaVersion)
	require.NotNil(t, got.Fiscal)

	byShift, err := s.FindCorteByShift(ctx, "shift-1")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, byShift.ID)

	_, err = s.GetCorte(ctx, "Z-000404")
	assert.ErrorIs(t, err, fiscal.ErrCorteNotFound)
	_, err = s.FindCorteByShift(ctx, "shift-404")
	assert.ErrorIs(t, err, fiscal.ErrCorteNotFound)

	seq, _ = s.NextSequence(ctx)
	assert.Equal(t, int64(2), seq)
}

func TestImportCorte_AssignsSequence(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveCorte(ctx, fiscal.BuildClosure(fiscal.ClosureInput{Config: fiscal.DefaultConfig(), Sequence: 1, ClosedAt: t0})))

	// GIVEN: two legacy cortes without a correlative
	a, err := s.ImportCorte(ctx, fiscal.Corte{ClosedAt: t0, ShiftID: "old"})
	require.NoError(t, err)
	b, err := s.ImportCorte(ctx, fiscal.Corte{ClosedAt: t0})
	require.NoError(t, err)

	// THEN: they follow the existing sequence and lose the shift link
	assert.Equal(t, fiscal.ClosureID("Z-000002"), a.ID)
	assert.Equal(t, fiscal.ClosureID("Z-000003"), b.ID)
	assert.Empty(t, a.ShiftID)

	list, err := s.ListCortes(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)

	all, err := s.ListCortes(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// =============================================================================
// CLOSE END TO END
// =============================================================================

func TestCloserOverSQLite(t *testing.T) {
	// GIVEN: an open shift with two sales
	ctx := context.Background()
	s := newStore(t)
	closer := fiscal.NewCloser(s, fiscal.DefaultConfig(), nil)
	_, err := closer.OpenShift(ctx, "caja-1", fiscal.Operator{ID: "u1"}, fiscal.OpeningBalances{USDCash: decimal.NewFromInt(50)})
	require.NoError(t, err)
	require.NoError(t, s.AppendSale(ctx, sale("s1", t0, "116")))
	require.NoError(t, s.AppendSale(ctx, sale("s2", t0.Add(time.Minute), "58")))

	// WHEN
	res, err := closer.Close(ctx, "caja-1", fiscal.Operator{ID: "u1"})

	// THEN: one atomic seal, and the stored corte matches
	require.NoError(t, err)
	assert.True(t, res.BulkSeal)
	assert.Equal(t, 2, res.Sealed)

	stored, err := s.GetCorte(ctx, res.Corte.ID)
	require.NoError(t, err)
	assert.True(t, stored.Quadrants.USDCash.Final.Equal(decimal.NewFromInt(224)))
	assert.True(t, stored.Fiscal.VAT.Equal(decimal.NewFromInt(24)))

	sealed, err := s.LoadSealedBy(ctx, res.Corte.ID)
	require.NoError(t, err)
	assert.Len(t, sealed, 2)

	unsealed, err := s.LoadUnsealed(ctx, "caja-1")
	require.NoError(t, err)
	assert.Empty(t, unsealed)
}
