/*
closure.go - Z-report builder

PURPOSE:
  Assembles the immutable Corte for a shift from the KPI engine, the
  treasury engine and the payment-method breakdown. BuildClosure is pure:
  it does not seal anything. Sealing is done by the Closer (closer.go).

FIGURES:
  - fiscal block: exempt sales, taxable base, VAT (from the KPI engine) and
    the foreign-cash tax with the config-driven fallback (igtf.go), rounded
    to cents
  - quadrants: opening from the shift snapshot, inflow/outflow/final per
    quadrant in its own currency
  - estimated total: the four finals converted to USD at the last known
    rate of the shift (latest sale carrying a positive rate, else 1)
  - audit block: voided count and first/last invoice of the shift

ID:
  Correlative and zero padded: sequence 42 -> "Z-000042".
*/
package fiscal

import (
	"fmt"
	"sort"
	"time"

	"github.com/fenixpos/fiscal-engine/money"
	"github.com/shopspring/decimal"
)

const (
	// SchemaVersion is stamped on every corte built by this package.
	SchemaVersion = "4.0"

	// LegacySchemaVersion is assumed for persisted cortes without a tag.
	LegacySchemaVersion = "1.0"
)

// ClosureIDFor formats the correlative ID of a corte.
func ClosureIDFor(sequence int64) ClosureID {
	return ClosureID(fmt.Sprintf("Z-%06d", sequence))
}

// =============================================================================
// CORTE
// =============================================================================

type FiscalBlock struct {
	ExemptSales    decimal.Decimal `json:"exemptSales"`
	TaxBase        decimal.Decimal `json:"taxBase"`
	VAT            decimal.Decimal `json:"vat"`
	ForeignCashTax decimal.Decimal `json:"foreignCashTax"`
}

type QuadrantReport struct {
	Opening decimal.Decimal `json:"opening"`
	Inflow  decimal.Decimal `json:"inflow"`
	Outflow decimal.Decimal `json:"outflow"`
	Final   decimal.Decimal `json:"final"`
}

func quadrantReport(q TreasuryQuadrant) QuadrantReport {
	return QuadrantReport{Opening: q.Opening, Inflow: q.Inflow, Outflow: q.Outflow, Final: q.Final()}
}

type QuadrantSet struct {
	USDCash    QuadrantReport `json:"usdCash"`
	USDDigital QuadrantReport `json:"usdDigital"`
	VESCash    QuadrantReport `json:"vesCash"`
	VESDigital QuadrantReport `json:"vesDigital"`
}

type AuditBlock struct {
	VoidedCount  int        `json:"voidedCount"`
	FirstSaleRef string     `json:"firstSaleRef,omitempty"`
	LastSaleRef  string     `json:"lastSaleRef,omitempty"`
	FirstSaleAt  *time.Time `json:"firstSaleAt,omitempty"`
	LastSaleAt   *time.Time `json:"lastSaleAt,omitempty"`
}

// Corte is the Z-report. Once saved it is never edited; reprints re-read it.
type Corte struct {
	ID         ClosureID `json:"id"`
	Sequence   int64     `json:"sequence"`
	ClosedAt   time.Time `json:"closedAt"`
	Operator   Operator  `json:"operator"`
	ShiftID    ShiftID   `json:"shiftId,omitempty"`
	RegisterID string    `json:"registerId,omitempty"`

	Opening OpeningBalances `json:"opening"`

	// Fiscal is nil on cortes persisted before the block existed.
	Fiscal *FiscalBlock `json:"fiscal,omitempty"`
	KPIs   KPISet       `json:"kpis"`

	Quadrants            QuadrantSet     `json:"quadrants"`
	CreditTotal          decimal.Decimal `json:"creditTotal"`
	DebtCollected        decimal.Decimal `json:"debtCollected"`
	AppliedToStoreCredit decimal.Decimal `json:"appliedToStoreCredit"`

	PaymentMethods       []MethodTotal       `json:"paymentMethods"`
	PaymentMethodsNative []NativeMethodTotal `json:"paymentMethodsNative,omitempty"`

	EstimatedTotalUSD decimal.Decimal `json:"estimatedTotalUSD"`
	ReferenceRate     decimal.Decimal `json:"referenceRate"`

	Audit AuditBlock `json:"audit"`

	// SaleIDs lists every sale the corte covers, voided ones included.
	SaleIDs []SaleID `json:"saleIds,omitempty"`

	SchemaVersion string `json:"schemaVersion"`
	Backfilled    bool   `json:"backfilled,omitempty"`
}

// =============================================================================
// BUILDER
// =============================================================================

// ClosureInput is everything BuildClosure reads.
type ClosureInput struct {
	Sales      []Sale
	Opening    OpeningBalances
	Operator   Operator
	Config     Config
	Sequence   int64
	ClosedAt   time.Time
	ShiftID    ShiftID
	RegisterID string
	Observer   Observer
}

// BuildClosure produces the corte for a shift. It does not mutate the sales.
func BuildClosure(in ClosureInput) Corte {
	kpi := NewKPIAccumulator(in.Config.TaxRatePercent)
	tre := NewTreasuryAccumulator(in.Opening, in.Observer)
	brk := NewBreakdownAccumulator()
	for i := range in.Sales {
		kpi.Add(in.Sales[i])
		tre.Add(in.Sales[i])
		brk.Add(in.Sales[i])
	}
	kpis := kpi.Result()
	kpis.ForeignCashTax = money.Round2(TotalForeignCashTax(in.Sales, in.Config))
	treasury := tre.Result()
	rate := LastKnownRate(in.Sales)

	ids := make([]SaleID, 0, len(in.Sales))
	for i := range in.Sales {
		ids = append(ids, in.Sales[i].ID)
	}

	return Corte{
		ID:         ClosureIDFor(in.Sequence),
		Sequence:   in.Sequence,
		ClosedAt:   in.ClosedAt,
		Operator:   in.Operator.OrSystem(),
		ShiftID:    in.ShiftID,
		RegisterID: in.RegisterID,
		Opening:    in.Opening,
		Fiscal: &FiscalBlock{
			ExemptSales:    money.Round2(kpis.ExemptSales),
			TaxBase:        money.Round2(kpis.TaxBase),
			VAT:            money.Round2(kpis.VAT),
			ForeignCashTax: kpis.ForeignCashTax,
		},
		KPIs: kpis,
		Quadrants: QuadrantSet{
			USDCash:    quadrantReport(treasury.USDCash),
			USDDigital: quadrantReport(treasury.USDDigital),
			VESCash:    quadrantReport(treasury.VESCash),
			VESDigital: quadrantReport(treasury.VESDigital),
		},
		CreditTotal:          treasury.Credit,
		DebtCollected:        treasury.DebtCollected,
		AppliedToStoreCredit: treasury.AppliedToStoreCredit,
		PaymentMethods:       brk.Result(),
		PaymentMethodsNative: brk.Native(),
		EstimatedTotalUSD:    money.Round2(treasury.TotalUSD(rate)),
		ReferenceRate:        rate,
		Audit:                buildAuditBlock(in.Sales),
		SaleIDs:              ids,
		SchemaVersion:        SchemaVersion,
	}
}

// LastKnownRate returns the rate of the most recent sale that recorded one,
// or 1 when none did.
func LastKnownRate(sales []Sale) decimal.Decimal {
	var t rateTracker
	for i := range sales {
		t.add(sales[i])
	}
	return t.value()
}

// rateTracker is LastKnownRate for streamed sales.
type rateTracker struct {
	rate  decimal.Decimal
	at    time.Time
	found bool
}

func (t *rateTracker) add(s Sale) {
	if !s.ExchangeRate.IsPositive() {
		return
	}
	if !t.found || !s.At.Before(t.at) {
		t.rate, t.at, t.found = s.ExchangeRate, s.At, true
	}
}

func (t *rateTracker) value() decimal.Decimal {
	if !t.found {
		return money.One
	}
	return t.rate
}

func buildAuditBlock(sales []Sale) AuditBlock {
	var b AuditBlock
	if len(sales) == 0 {
		return b
	}
	ordered := make([]Sale, len(sales))
	copy(ordered, sales)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].At.Before(ordered[j].At) })

	for i := range ordered {
		if ordered[i].IsVoided() {
			b.VoidedCount++
		}
	}
	first, last := ordered[0], ordered[len(ordered)-1]
	b.FirstSaleRef, b.LastSaleRef = saleRef(first), saleRef(last)
	b.FirstSaleAt, b.LastSaleAt = &first.At, &last.At
	return b
}

func saleRef(s Sale) string {
	if s.Ref != "" {
		return s.Ref
	}
	return string(s.ID)
}
