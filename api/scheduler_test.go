package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fenixpos/fiscal-engine/api"
	"github.com/fenixpos/fiscal-engine/fiscal"
	"github.com/fenixpos/fiscal-engine/fiscal/store"
)

// storeWithLeftover saves a corte whose only sale was never sealed.
func storeWithLeftover(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	s := fiscal.Sale{
		ID: "s1", At: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), RegisterID: "caja-1",
		Total: decimal.NewFromInt(10), Status: fiscal.StatusCompleted, Kind: fiscal.KindSale,
	}
	require.NoError(t, mem.AppendSale(ctx, s))
	corte := fiscal.BuildClosure(fiscal.ClosureInput{
		Sales: []fiscal.Sale{s}, Config: fiscal.DefaultConfig(), Sequence: 1, ShiftID: "shift-1", RegisterID: "caja-1",
	})
	require.NoError(t, mem.SaveCorte(ctx, corte))
	return mem
}

func TestResealScheduler_RunNow(t *testing.T) {
	// GIVEN: a corte with an unsealed sale
	mem := storeWithLeftover(t)
	h := api.NewHandler(mem, api.Options{Logger: zap.NewNop()})

	// WHEN
	api.NewResealScheduler(h, nil).RunNow()

	// THEN
	s, err := mem.GetSale(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, fiscal.ClosureID("Z-000001"), s.SealedBy)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.Metrics.Resealed))
}

func TestResealScheduler_StartStop(t *testing.T) {
	mem := storeWithLeftover(t)
	h := api.NewHandler(mem, api.Options{Logger: zap.NewNop()})
	rs := api.NewResealScheduler(h, nil)

	// The first pass runs before the loop waits on the ticker
	rs.Start()
	rs.Stop()

	s, err := mem.GetSale(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, s.IsSealed())
}

func TestResealScheduler_Disabled(t *testing.T) {
	mem := storeWithLeftover(t)
	h := api.NewHandler(mem, api.Options{Logger: zap.NewNop()})
	rs := api.NewResealScheduler(h, nil)
	rs.Enabled = false

	rs.Start()
	rs.Stop()

	s, err := mem.GetSale(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, s.IsSealed())
}
