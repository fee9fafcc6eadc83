package factory_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenixpos/fiscal-engine/factory"
	"github.com/fenixpos/fiscal-engine/fiscal"
	"github.com/fenixpos/fiscal-engine/money"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newFactory() *factory.SaleFactory {
	f := factory.NewSaleFactory("caja-1")
	f.Now = func() time.Time { return fixedNow }
	return f
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

// =============================================================================
// CURRENT SHAPE
// =============================================================================

func TestParseSale_Current(t *testing.T) {
	data := []byte(`{
		"id": "s-1", "ref": "F-0001", "at": "2026-03-10T09:15:00Z", "registerId": "caja-2",
		"total": "116", "exchangeRate": "36.5", "status": "COMPLETED", "kind": "SALE",
		"payments": [{"amount": "120", "currency": "USD", "medium": "CASH", "method": "Efectivo $"}],
		"changeEvents": [{"amount": "4", "currency": "USD", "medium": "CASH"}]
	}`)

	s, err := newFactory().ParseSale(data)

	require.NoError(t, err)
	assert.Equal(t, fiscal.SaleID("s-1"), s.ID)
	assert.Equal(t, "F-0001", s.Ref)
	assert.Equal(t, "caja-2", s.RegisterID)
	assert.True(t, time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC).Equal(s.At))
	assertDec(t, "116", s.Total)
	assertDec(t, "36.5", s.ExchangeRate)
	assert.Equal(t, fiscal.StatusCompleted, s.Status)
	assert.Equal(t, fiscal.KindSale, s.Kind)

	require.Len(t, s.Payments, 1)
	assert.True(t, s.Payments[0].Explicit())
	require.Len(t, s.ChangeEvents, 1)
	assertDec(t, "4", s.ChangeEvents[0].Amount)
	assert.Nil(t, s.LegacyChange)
}

func TestParseSale_Defaults(t *testing.T) {
	s, err := newFactory().ParseSale([]byte(`{"total": 10}`))

	require.NoError(t, err)
	assert.NotEmpty(t, s.ID, "an ID is generated")
	assert.Equal(t, "caja-1", s.RegisterID)
	assert.True(t, fixedNow.Equal(s.At))
	assert.Equal(t, fiscal.StatusCompleted, s.Status)
	assert.Equal(t, fiscal.KindSale, s.Kind)
	assert.Nil(t, s.TaxAmount)
	assert.Nil(t, s.TotalVES)
}

func TestParseSale_LenientNumbers(t *testing.T) {
	s, err := newFactory().ParseSale([]byte(`{"total": "12,50", "totalCost": "abc", "taxAmount": null}`))

	require.NoError(t, err)
	assertDec(t, "12.5", s.Total)
	assertDec(t, "0", s.TotalCost)
	assert.Nil(t, s.TaxAmount)
}

func TestParseSale_Rejects(t *testing.T) {
	for _, in := range []string{`null`, `[1,2]`, `"sale"`, `{`} {
		_, err := newFactory().ParseSale([]byte(in))
		assert.ErrorIs(t, err, fiscal.ErrInvalidSale, in)
	}
}

// =============================================================================
// LEGACY SHAPE
// =============================================================================

func TestParseSale_Legacy(t *testing.T) {
	// GIVEN: a record written by the previous register software
	data := []byte(`{
		"id": 1737381780000, "fecha": 1737381780000, "total": 50, "tasa": 36.5,
		"pagos": [
			{"metodo": "Pago Móvil", "monto": 730, "tipo": "BS"},
			{"metodo": "Efectivo", "monto": 20},
			{"metodo": "Crédito", "monto": 10, "tipo": "CREDITO"},
			{"metodo": "sin monto"}
		],
		"cambio": 2, "distribucionVuelto": {"usd": 0, "bs": 73},
		"esCredito": true, "deudaPendiente": 10,
		"status": "COMPLETADA", "tipo": "VENTA", "corteId": "Z-000012"
	}`)

	// WHEN
	s, err := newFactory().ParseSale(data)

	// THEN: aliases are mapped
	require.NoError(t, err)
	assert.Equal(t, fiscal.SaleID("1737381780000"), s.ID)
	assert.True(t, time.UnixMilli(1737381780000).Equal(s.At))
	assertDec(t, "36.5", s.ExchangeRate)
	assert.True(t, s.IsCredit)
	assertDec(t, "10", s.OutstandingDebt)
	assert.Equal(t, fiscal.ClosureID("Z-000012"), s.SealedBy)
	assert.Equal(t, fiscal.KindSale, s.Kind)

	// AND: payments keep what they know, entries without an amount are dropped
	require.Len(t, s.Payments, 3)
	assert.Equal(t, money.VES, s.Payments[0].Currency)
	assert.Empty(t, s.Payments[0].Medium)
	assert.False(t, s.Payments[1].Explicit())
	assert.Equal(t, fiscal.MediumCredit, s.Payments[2].Medium)
	assert.Equal(t, money.USD, s.Payments[2].Currency)

	// AND: the change keeps its per-currency hint
	require.NotNil(t, s.LegacyChange)
	assertDec(t, "2", s.LegacyChange.Amount)
	assertDec(t, "73", s.LegacyChange.VES)
	assert.False(t, s.LegacyChange.Redirected)
}

func TestParseSale_LegacyFeedsTreasury(t *testing.T) {
	data := []byte(`{"id": "L1", "total": 15, "tasa": 36.5,
		"pagos": [{"metodo": "Efectivo Divisa", "monto": 20}],
		"cambio": 5, "distribucionVuelto": {"bs": 182.5}}`)

	s, err := newFactory().ParseSale(data)
	require.NoError(t, err)

	tr := fiscal.ComputeTreasuryQuadrants([]fiscal.Sale{s}, fiscal.OpeningBalances{})

	assertDec(t, "20", tr.USDCash.Inflow)
	assertDec(t, "182.5", tr.VESCash.Outflow)
	assertDec(t, "0", tr.USDCash.Outflow)
}

func TestParseSale_StatusAndKind(t *testing.T) {
	tests := []struct {
		in     string
		status fiscal.SaleStatus
		kind   fiscal.SaleKind
	}{
		{`{"status": "ANULADA"}`, fiscal.StatusVoided, fiscal.KindSale},
		{`{"kind": "VOID"}`, fiscal.StatusVoided, fiscal.KindVoid},
		{`{"tipo": "COBRO_DEUDA"}`, fiscal.StatusCompleted, fiscal.KindDebtCollection},
		{`{"tipo": "abono"}`, fiscal.StatusCompleted, fiscal.KindDebtCollection},
		{`{"status": "whatever"}`, fiscal.StatusCompleted, fiscal.KindSale},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			s, err := newFactory().ParseSale([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.status, s.Status)
			assert.Equal(t, tt.kind, s.Kind)
		})
	}
}

func TestParseSale_Items(t *testing.T) {
	data := []byte(`{"total": 30, "items": [
		{"id": "harina", "precio": 2, "cantidad": 3, "costo": 1.5},
		{"id": "refresco", "precio": 12, "cantidad": 1, "costo": 0.4, "unidadVenta": "bulto",
		 "jerarquia": {"bulto": {"contenido": 24}, "paquete": {"contenido": 6}}},
		{"id": "pan", "precio": 1, "cantidad": 2, "aplicaIva": false},
		{"id": "queso", "unitPrice": 5, "quantity": 1, "taxExempt": true, "saleUnit": "pack", "hierarchyFactor": 4}
	]}`)

	s, err := newFactory().ParseSale(data)

	require.NoError(t, err)
	require.Len(t, s.Items, 4)
	assert.False(t, s.Items[0].TaxExempt)
	assertDec(t, "4.5", s.Items[0].Cost())

	assert.Equal(t, fiscal.UnitCase, s.Items[1].SaleUnit)
	assertDec(t, "24", s.Items[1].HierarchyFactor)
	assertDec(t, "9.6", s.Items[1].Cost())

	assert.True(t, s.Items[2].TaxExempt, "aplicaIva=false")
	assert.True(t, s.Items[3].TaxExempt)
	assertDec(t, "4", s.Items[3].HierarchyFactor)
}

func TestParseSales(t *testing.T) {
	sales, err := newFactory().ParseSales([]byte(`[{"id": "a", "total": 1}, {"id": "b", "total": 2}]`))

	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, fiscal.SaleID("b"), sales[1].ID)

	_, err = newFactory().ParseSales([]byte(`{"id": "a"}`))
	assert.ErrorIs(t, err, fiscal.ErrInvalidSale)
}
