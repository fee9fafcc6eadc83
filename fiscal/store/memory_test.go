package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenixpos/fiscal-engine/fiscal"
	"github.com/fenixpos/fiscal-engine/fiscal/store"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func sale(id string, at time.Time) fiscal.Sale {
	return fiscal.Sale{
		ID: fiscal.SaleID(id), At: at, RegisterID: "caja-1",
		Total: decimal.NewFromInt(1), Status: fiscal.StatusCompleted, Kind: fiscal.KindSale,
	}
}

func TestMemory_KeepsLogOrderedByTime(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	// GIVEN: sales appended out of order
	require.NoError(t, m.AppendSale(ctx, sale("late", t0.Add(time.Hour))))
	require.NoError(t, m.AppendSale(ctx, sale("early", t0)))
	require.NoError(t, m.AppendSale(ctx, sale("mid", t0.Add(time.Minute))))

	// WHEN
	got, err := m.LoadRange(ctx, t0, t0.Add(time.Hour))

	// THEN
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, fiscal.SaleID("early"), got[0].ID)
	assert.Equal(t, fiscal.SaleID("mid"), got[1].ID)
	assert.Equal(t, fiscal.SaleID("late"), got[2].ID)

	// AND: the index still resolves every ID
	for _, id := range []fiscal.SaleID{"early", "mid", "late"} {
		s, err := m.GetSale(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, s.ID)
	}
}

func TestMemory_DuplicateSale(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.AppendSale(ctx, sale("s1", t0)))

	assert.ErrorIs(t, m.AppendSale(ctx, sale("s1", t0)), fiscal.ErrDuplicateSale)
}

func TestMemory_SealBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.AppendSale(ctx, sale("s1", t0)))
	rev, _ := m.Revision(ctx)

	_, err := m.SealBatch(ctx, []fiscal.SaleID{"s1", "ghost"}, "Z-000001")

	assert.ErrorIs(t, err, fiscal.ErrSaleNotFound)
	s1, _ := m.GetSale(ctx, "s1")
	assert.False(t, s1.IsSealed())
	after, _ := m.Revision(ctx)
	assert.Equal(t, rev, after)
}

func TestMemory_LoadByIDsSkipsUnknown(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.AppendSale(ctx, sale("s1", t0)))

	got, err := m.LoadByIDs(ctx, []fiscal.SaleID{"ghost", "s1"})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fiscal.SaleID("s1"), got[0].ID)
}

func TestMemory_EachInRangeHonoursContext(t *testing.T) {
	m := store.NewMemory()
	require.NoError(t, m.AppendSale(context.Background(), sale("s1", t0)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.EachInRange(ctx, t0, t0, func(fiscal.Sale) error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_CortesAndSequence(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	imported, err := m.ImportCorte(ctx, fiscal.Corte{SchemaVersion: fiscal.LegacySchemaVersion})
	require.NoError(t, err)
	assert.Equal(t, fiscal.ClosureID("Z-000001"), imported.ID)

	c := fiscal.BuildClosure(fiscal.ClosureInput{Config: fiscal.DefaultConfig(), Sequence: 2, ShiftID: "shift-1"})
	require.NoError(t, m.SaveCorte(ctx, c))
	assert.ErrorIs(t, m.SaveCorte(ctx, c), fiscal.ErrCorteExists)

	list, err := m.ListCortes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, c.ID, list[0].ID)

	seq, _ := m.NextSequence(ctx)
	assert.Equal(t, int64(3), seq)
}
