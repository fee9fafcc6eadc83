package fiscal

import "github.com/fenixpos/fiscal-engine/money"

// NeedsBackfill reports whether a persisted corte predates the fiscal block.
func NeedsBackfill(c Corte) bool {
	return c.Fiscal == nil
}

// BackfillCorte re-derives the fiscal block of a legacy corte from the sales
// sealed under it. Best effort: with no sales the corte is returned unchanged.
// The result is a view for reading; the persisted corte is never rewritten.
func BackfillCorte(c Corte, sealed []Sale, cfg Config) Corte {
	if c.SchemaVersion == "" {
		c.SchemaVersion = LegacySchemaVersion
	}
	if !NeedsBackfill(c) || len(sealed) == 0 {
		return c
	}

	kpis := ComputeKPIs(sealed, cfg.TaxRatePercent)
	c.Fiscal = &FiscalBlock{
		ExemptSales:    money.Round2(kpis.ExemptSales),
		TaxBase:        money.Round2(kpis.TaxBase),
		VAT:            money.Round2(kpis.VAT),
		ForeignCashTax: money.Round2(TotalForeignCashTax(sealed, cfg)),
	}
	if c.KPIs.TransactionCount == 0 {
		c.KPIs = kpis
		c.KPIs.ForeignCashTax = c.Fiscal.ForeignCashTax
	}
	c.Backfilled = true
	return c
}
