/*
Package factory provides JSON to Go conversion for sale records, opening
balances and cortes.

PURPOSE:
  The sale log holds records written by several generations of the POS.
  The factory turns any of them into a fiscal.Sale without failing on
  missing or malformed numbers: those become zero, exactly as the engine
  expects. Only input that is not a JSON object is rejected.

ACCEPTED SHAPES:
  Current:
    {
      "id": "...", "at": "2026-01-20T14:03:00Z", "total": "116",
      "payments": [{"amount": "116", "currency": "USD", "medium": "CASH"}],
      "changeEvents": [{"amount": "4", "currency": "USD", "medium": "CASH"}],
      "exchangeRate": "36.5", "status": "COMPLETED", "kind": "SALE"
    }

  Legacy:
    {
      "id": 1737381780000, "fecha": "...", "total": 116, "tasa": 36.5,
      "pagos": [{"metodo": "Pago Móvil", "monto": 4234, "tipo": "BS"}],
      "cambio": 4, "distribucionVuelto": {"usd": 4, "bs": 0},
      "esCredito": true, "deudaPendiente": 10,
      "status": "COMPLETADA", "tipo": "VENTA", "corteId": "Z-000012"
    }

KEY FEATURES:
  - Field aliases (current name first, then historical names)
  - Lenient numbers: JSON numbers and numeric strings, "12,50" included
  - Legacy payments keep an empty currency/medium unless "tipo" says so;
    the engine's legacy adapter classifies them from the label
  - A line is exempt only by its own flag; the sale-level flag applies to
    sales without items

SEE ALSO:
  - fiscal/legacy.go: Label heuristics for unclassified payments
  - opening.go: Opening balance shapes
  - corte.go: Legacy corte shapes
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fenixpos/fiscal-engine/fiscal"
	"github.com/fenixpos/fiscal-engine/money"
)

// SaleFactory decodes sale records. RegisterID is applied to records that
// do not name their register; Now stamps records without a date.
type SaleFactory struct {
	RegisterID string
	Now        func() time.Time
}

func NewSaleFactory(registerID string) *SaleFactory {
	return &SaleFactory{RegisterID: registerID, Now: time.Now}
}

// ParseSale decodes one sale record.
func (f *SaleFactory) ParseSale(data []byte) (fiscal.Sale, error) {
	r, err := parseRecord(data)
	if err != nil {
		return fiscal.Sale{}, fmt.Errorf("%w: %v", fiscal.ErrInvalidSale, err)
	}
	if r == nil {
		return fiscal.Sale{}, fmt.Errorf("%w: empty record", fiscal.ErrInvalidSale)
	}
	return f.fromRecord(r), nil
}

// ParseSales decodes a JSON array of sale records.
func (f *SaleFactory) ParseSales(data []byte) ([]fiscal.Sale, error) {
	var raws []record
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", fiscal.ErrInvalidSale, err)
	}
	sales := make([]fiscal.Sale, 0, len(raws))
	for _, r := range raws {
		sales = append(sales, f.fromRecord(r))
	}
	return sales, nil
}

func (f *SaleFactory) fromRecord(r record) fiscal.Sale {
	s := fiscal.Sale{
		ID:         fiscal.SaleID(r.str("id", "_id", "uuid")),
		Ref:        r.str("ref", "numeroFactura", "nroFactura", "idVenta"),
		CustomerID: r.str("customerId", "clienteId"),
		RegisterID: r.str("registerId", "cajaId"),

		Total:     r.dec("total", "totalUSD"),
		TotalVES:  r.decPtr("totalVES", "totalBS", "totalBs"),
		NetAmount: r.decPtr("netAmount", "totalNeto"),
		TaxAmount: r.decPtr("taxAmount", "totalImpuesto"),
		TotalCost: r.dec("totalCost", "costoTotal"),
		TaxExempt: r.boolean("taxExempt", "esExento"),

		ForeignCashTax: r.dec("foreignCashTax", "igtfTotal"),
		ExchangeRate:   r.dec("exchangeRate", "tasa"),

		IsCredit:        r.boolean("isCredit", "esCredito"),
		FullyPaid:       r.boolean("fullyPaid"),
		OutstandingDebt: r.dec("outstandingDebt", "deudaPendiente"),

		AppliedToDebt:        r.dec("appliedToDebt"),
		AppliedToStoreCredit: r.dec("appliedToStoreCredit", "appliedToWallet"),

		Status:   parseStatus(r.str("status")),
		Kind:     parseKind(r.str("kind", "tipo")),
		SealedBy: fiscal.ClosureID(r.str("sealedBy", "corteId")),
	}

	if s.ID == "" {
		s.ID = fiscal.SaleID(uuid.NewString())
	}
	if s.RegisterID == "" {
		s.RegisterID = f.RegisterID
	}
	if at, ok := r.timeOf("at", "fecha", "timestamp"); ok {
		s.At = at
	} else if f.Now != nil {
		s.At = f.Now().UTC()
	}
	// A voided sale may be recorded either way; keep both views consistent.
	if s.Kind == fiscal.KindVoid {
		s.Status = fiscal.StatusVoided
	}

	for _, it := range r.list("items") {
		s.Items = append(s.Items, parseItem(it))
	}
	for _, p := range r.list("payments", "pagos", "metodos") {
		if pay, ok := parsePayment(p); ok {
			s.Payments = append(s.Payments, pay)
		}
	}

	if events := r.list("changeEvents", "change"); len(events) > 0 {
		for _, e := range events {
			s.ChangeEvents = append(s.ChangeEvents, parseChangeEvent(e))
		}
	} else if lc := parseLegacyChange(r); lc != nil {
		s.LegacyChange = lc
	}
	return s
}

func parseStatus(v string) fiscal.SaleStatus {
	switch strings.ToUpper(v) {
	case "VOIDED", "ANULADA", "ANULADO":
		return fiscal.StatusVoided
	}
	return fiscal.StatusCompleted
}

func parseKind(v string) fiscal.SaleKind {
	switch strings.ToUpper(v) {
	case "DEBT_COLLECTION", "COBRO_DEUDA", "ABONO":
		return fiscal.KindDebtCollection
	case "VOID", "ANULADO":
		return fiscal.KindVoid
	}
	return fiscal.KindSale
}

func parseSaleUnit(v string) fiscal.SaleUnit {
	switch strings.ToLower(v) {
	case "case", "bulto":
		return fiscal.UnitCase
	case "pack", "paquete":
		return fiscal.UnitPack
	}
	return fiscal.UnitSingle
}

func parseItem(r record) fiscal.LineItem {
	li := fiscal.LineItem{
		ProductID:       r.str("productId", "id"),
		UnitPrice:       r.dec("unitPrice", "precio"),
		Quantity:        r.dec("quantity", "cantidad"),
		UnitCost:        r.dec("unitCost", "costo", "costoUnitario"),
		SaleUnit:        parseSaleUnit(r.str("saleUnit", "unidadVenta")),
		HierarchyFactor: r.dec("hierarchyFactor"),
	}
	li.TaxExempt = r.boolean("taxExempt", "exento")
	if applies := r.boolPtr("aplicaIva"); applies != nil && !*applies {
		li.TaxExempt = true
	}

	// Legacy: {"jerarquia": {"bulto": {"contenido": 24}, "paquete": {"contenido": 6}}}
	if li.HierarchyFactor.IsZero() {
		if h := r.obj("jerarquia"); h != nil {
			switch li.SaleUnit {
			case fiscal.UnitCase:
				li.HierarchyFactor = h.obj("bulto").dec("contenido")
			case fiscal.UnitPack:
				li.HierarchyFactor = h.obj("paquete").dec("contenido")
			}
		}
	}
	return li
}

// parsePayment returns ok=false for entries that carry no amount at all.
func parsePayment(r record) (fiscal.Payment, bool) {
	if !r.has("amount", "monto", "montoUSD") {
		return fiscal.Payment{}, false
	}
	p := fiscal.Payment{
		Amount: r.dec("amount", "monto", "montoUSD"),
		Method: r.str("method", "metodo", "nombre"),
	}
	if c, ok := money.ParseCurrency(r.str("currency")); ok {
		p.Currency = c
	}
	switch m := fiscal.Medium(strings.ToUpper(r.str("medium"))); m {
	case fiscal.MediumCash, fiscal.MediumDigital, fiscal.MediumCredit, fiscal.MediumInternal, fiscal.MediumWallet:
		p.Medium = m
	}

	switch strings.ToUpper(r.str("tipo")) {
	case "DIVISA":
		if p.Currency == "" {
			p.Currency = money.USD
		}
	case "BS":
		if p.Currency == "" {
			p.Currency = money.VES
		}
	case "CREDITO":
		p.Medium = fiscal.MediumCredit
	case "WALLET":
		p.Medium = fiscal.MediumWallet
	}
	if p.Medium == fiscal.MediumCredit || p.Medium == fiscal.MediumWallet {
		if p.Currency == "" {
			p.Currency = money.USD
		}
	}
	return p, true
}

func parseChangeEvent(r record) fiscal.ChangeEvent {
	e := fiscal.ChangeEvent{
		Amount:   r.dec("amount", "monto"),
		Currency: money.USD,
		Medium:   fiscal.MediumCash,
	}
	if c, ok := money.ParseCurrency(r.str("currency")); ok {
		e.Currency = c
	}
	if m := strings.ToUpper(r.str("medium")); m != "" {
		e.Medium = fiscal.Medium(m)
	}
	return e
}

func parseLegacyChange(r record) *fiscal.LegacyChange {
	amount := r.dec("cambio", "changeAmount")
	if !amount.IsPositive() {
		return nil
	}
	lc := &fiscal.LegacyChange{
		Amount:     amount,
		Redirected: r.boolean("vueltoCredito", "changeRedirected"),
	}
	if dist := r.obj("distribucionVuelto", "changeDistribution"); dist != nil {
		lc.USD = dist.dec("usd")
		lc.VES = dist.dec("bs", "ves")
	}
	return lc
}
