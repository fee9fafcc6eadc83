package factory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fenixpos/fiscal-engine/fiscal"
	"github.com/fenixpos/fiscal-engine/money"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// Legacy cortes were written by the previous register software:
//
//	{
//	  "id": 1737381780000, "corteRef": "Z-381780", "fecha": "...",
//	  "usuarioCierre": {"id": "u1", "nombre": "Ana"},
//	  "sesionCaja": {"balancesApertura": {...}},
//	  "fiscal": {"ventasExentas": 0, "baseImponible": 100, "iva": 16, "igtf": 0},
//	  "totalVentas": 116, "transacciones": 1, "totalCostos": 60,
//	  "gananciaEstimada": 40, "ticketPromedio": 116,
//	  "metodosPago": [{"name": "Efectivo", "value": 116}],
//	  "tesoreriaDetallada": {"usdCash": {"inicial": 0, "entradas": 116, "salidas": 0, "final": 116}, ...},
//	  "totalEstimadoUSD": 116, "tasaReferencia": 36.5,
//	  "auditoria": {"ventasAnuladas": 0, "primeraVenta": "...", "ultimaVenta": "..."},
//	  "schemaVersion": "4.0-BIMODULAR"
//	}
//
// The oldest ones have no "fiscal" block; those are left nil so the
// reporter backfills them from their sealed sales.

// ParseCorte decodes a corte in the current shape or the legacy one.
func ParseCorte(data []byte) (fiscal.Corte, error) {
	r, err := parseRecord(data)
	if err != nil {
		return fiscal.Corte{}, fmt.Errorf("decode corte: %w", err)
	}
	if r == nil {
		return fiscal.Corte{}, fmt.Errorf("decode corte: empty record")
	}
	if isCurrentCorte(r) {
		var c fiscal.Corte
		if err := json.Unmarshal(data, &c); err != nil {
			return fiscal.Corte{}, fmt.Errorf("decode corte: %w", err)
		}
		return c, nil
	}
	return legacyCorte(r), nil
}

func isCurrentCorte(r record) bool {
	return r.has("quadrants", "kpis", "saleIds")
}

func legacyCorte(r record) fiscal.Corte {
	ref := r.str("corteRef")
	c := fiscal.Corte{
		ID:            fiscal.ClosureID(ref),
		Sequence:      sequenceOf(ref),
		SchemaVersion: r.str("schemaVersion"),

		EstimatedTotalUSD: r.dec("totalEstimadoUSD"),
		ReferenceRate:     r.dec("tasaReferencia"),
	}
	if c.ID == "" {
		c.ID = fiscal.ClosureID(r.str("id"))
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = fiscal.LegacySchemaVersion
	}
	if at, ok := r.timeOf("fecha", "closedAt"); ok {
		c.ClosedAt = at
	}
	if u := r.obj("usuarioCierre"); u != nil {
		c.Operator = fiscal.Operator{ID: u.str("id"), Name: u.str("nombre", "name")}
	}
	c.Operator = c.Operator.OrSystem()

	if session := r.obj("sesionCaja"); session != nil {
		c.Opening = openingFrom(session)
	}

	if f := r.obj("fiscal"); f != nil {
		c.Fiscal = &fiscal.FiscalBlock{
			ExemptSales:    f.dec("ventasExentas"),
			TaxBase:        f.dec("baseImponible"),
			VAT:            f.dec("iva"),
			ForeignCashTax: f.dec("igtf"),
		}
		c.KPIs.ExemptSales = c.Fiscal.ExemptSales
		c.KPIs.TaxBase = c.Fiscal.TaxBase
		c.KPIs.NetRevenue = c.Fiscal.TaxBase.Add(c.Fiscal.ExemptSales)
		c.KPIs.VAT = c.Fiscal.VAT
		c.KPIs.ForeignCashTax = c.Fiscal.ForeignCashTax
	}
	c.KPIs.GrossRevenue = r.dec("totalVentas")
	c.KPIs.TransactionCount = int(r.dec("transacciones").IntPart())
	c.KPIs.TotalCost = r.dec("totalCostos")
	c.KPIs.Profit = r.dec("gananciaEstimada")
	c.KPIs.AvgTicket = r.dec("ticketPromedio")
	c.KPIs.NetCreditExtended = r.dec("ventasCredito")

	if t := r.obj("tesoreriaDetallada"); t != nil {
		c.Quadrants = fiscal.QuadrantSet{
			USDCash:    legacyQuadrant(t.obj("usdCash")),
			USDDigital: legacyQuadrant(t.obj("usdDigital")),
			VESCash:    legacyQuadrant(t.obj("vesCash")),
			VESDigital: legacyQuadrant(t.obj("vesDigital")),
		}
	}

	for _, m := range r.list("metodosPago") {
		c.PaymentMethods = append(c.PaymentMethods, fiscal.MethodTotal{
			Label:    m.str("name", "label", "metodo"),
			ValueUSD: m.dec("value", "total", "monto"),
		})
	}

	if a := r.obj("auditoria"); a != nil {
		c.Audit.VoidedCount = int(a.dec("ventasAnuladas").IntPart())
		if at, ok := a.timeOf("primeraVenta"); ok {
			c.Audit.FirstSaleAt = &at
		}
		if at, ok := a.timeOf("ultimaVenta"); ok {
			c.Audit.LastSaleAt = &at
		}
	}
	return c
}

func legacyQuadrant(r record) fiscal.QuadrantReport {
	if r == nil {
		return fiscal.QuadrantReport{}
	}
	q := fiscal.QuadrantReport{
		Opening: r.dec("inicial", "opening"),
		Inflow:  r.dec("entradas", "inflow"),
		Outflow: r.dec("salidas", "outflow"),
		Final:   r.dec("final"),
	}
	if !r.has("final") {
		q.Final = money.Round2(q.Opening.Add(q.Inflow).Sub(q.Outflow))
	}
	return q
}

// sequenceOf extracts the correlative from "Z-000042"; zero if there is none.
func sequenceOf(ref string) int64 {
	digits := strings.TrimLeft(strings.TrimPrefix(strings.ToUpper(ref), "Z-"), "0")
	if digits == "" {
		return 0
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
