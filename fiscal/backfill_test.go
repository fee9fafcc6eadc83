package fiscal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenixpos/fiscal-engine/fiscal"
)

func TestBackfillCorte_RederivesFiscalBlock(t *testing.T) {
	// GIVEN: a legacy corte with no fiscal block and its sealed sales
	legacy := fiscal.Corte{ID: "Z-000003", Sequence: 3}
	sealed := []fiscal.Sale{sale("s1", "116"), sale("s2", "58")}

	// WHEN
	got := fiscal.BackfillCorte(legacy, sealed, fiscal.DefaultConfig())

	// THEN
	require.NotNil(t, got.Fiscal)
	assertDec(t, "150", got.Fiscal.TaxBase)
	assertDec(t, "24", got.Fiscal.VAT)
	assert.True(t, got.Backfilled)
	assert.Equal(t, fiscal.LegacySchemaVersion, got.SchemaVersion)
	assert.Equal(t, 2, got.KPIs.TransactionCount)

	// AND: the input is untouched
	assert.Nil(t, legacy.Fiscal)
}

func TestBackfillCorte_KeepsRecordedKPIs(t *testing.T) {
	legacy := fiscal.Corte{ID: "Z-000003", KPIs: fiscal.KPISet{TransactionCount: 9, GrossRevenue: d("999")}}

	got := fiscal.BackfillCorte(legacy, []fiscal.Sale{sale("s1", "116")}, fiscal.DefaultConfig())

	assert.Equal(t, 9, got.KPIs.TransactionCount)
	assertDec(t, "999", got.KPIs.GrossRevenue)
	require.NotNil(t, got.Fiscal)
}

func TestBackfillCorte_NoSales(t *testing.T) {
	got := fiscal.BackfillCorte(fiscal.Corte{ID: "Z-000003"}, nil, fiscal.DefaultConfig())

	assert.Nil(t, got.Fiscal)
	assert.False(t, got.Backfilled)
	assert.Equal(t, fiscal.LegacySchemaVersion, got.SchemaVersion)
}

func TestBackfillCorte_CurrentCorteUnchanged(t *testing.T) {
	c := fiscal.BuildClosure(fiscal.ClosureInput{Sales: []fiscal.Sale{sale("s1", "116")}, Config: fiscal.DefaultConfig(), Sequence: 1})

	assert.False(t, fiscal.NeedsBackfill(c))
	assert.Equal(t, c, fiscal.BackfillCorte(c, []fiscal.Sale{sale("s9", "1")}, fiscal.DefaultConfig()))
}
