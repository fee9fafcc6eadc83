/*
Package fiscal provides the fiscal/treasury accounting engine of the POS.

PURPOSE:
  Turns the append-only log of sale records into audited per-period KPIs,
  a four-quadrant cash position and an immutable shift closure (Z-report).
  Every aggregation is a pure function over an in-memory snapshot of sales:
  calling it twice on the same input yields identical results, and nothing
  in this package holds mutable module-level state.

KEY CONCEPTS IN THIS FILE (types.go):
  - Sale:            one completed or voided transaction, as recorded by the POS
  - Payment:         money tendered, tagged with currency and medium
  - ChangeEvent:     money handed back (or redirected to debt / store credit)
  - Quadrant:        currency x medium cash position (USD/VES x CASH/DIGITAL)
  - OpeningBalances: the four quadrants snapshotted when a shift opens

TWO VALIDITY PREDICATES:
  ValidForMargin:   COMPLETED, not VOID, not DEBT_COLLECTION  -> KPIs
  ValidForCashflow: COMPLETED, not VOID                       -> treasury
  A debt collection moves cash but creates no margin. Collapsing the two
  predicates either double counts revenue or loses cash.

SEE ALSO:
  - kpi.go:      Fiscal KPI engine
  - treasury.go: Treasury quadrant engine
  - closure.go:  Z-report builder
  - audit.go:    Fiscal lock auditor (startup self-test)
*/
package fiscal

import (
	"time"

	"github.com/fenixpos/fiscal-engine/money"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SaleID string
type ClosureID string
type ShiftID string

// =============================================================================
// ENUMS
// =============================================================================

type SaleStatus string

const (
	StatusCompleted SaleStatus = "COMPLETED"
	StatusVoided    SaleStatus = "VOIDED"
)

type SaleKind string

const (
	KindSale           SaleKind = "SALE"
	KindDebtCollection SaleKind = "DEBT_COLLECTION"
	KindVoid           SaleKind = "VOID"
)

// Medium is how money moved. Only CASH and DIGITAL land in a quadrant.
type Medium string

const (
	MediumCash     Medium = "CASH"
	MediumDigital  Medium = "DIGITAL"
	MediumCredit   Medium = "CREDIT"   // receivable, no money moved
	MediumInternal Medium = "INTERNAL" // system transfer, never a sale payment
	MediumWallet   Medium = "WALLET"   // paid from the customer's store credit
)

// Physical reports whether money in this medium exists in the register or a bank.
func (m Medium) Physical() bool { return m == MediumCash || m == MediumDigital }

type SaleUnit string

const (
	UnitSingle SaleUnit = "unit"
	UnitPack   SaleUnit = "pack"
	UnitCase   SaleUnit = "case"
)

// =============================================================================
// LINE ITEM
// =============================================================================

type LineItem struct {
	ProductID string          `json:"productId,omitempty"`
	UnitPrice decimal.Decimal `json:"unitPrice"` // tax-exclusive
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unitCost"` // cost of one base unit
	TaxExempt bool            `json:"taxExempt,omitempty"`
	SaleUnit  SaleUnit        `json:"saleUnit,omitempty"`

	// HierarchyFactor is the number of base units in one pack/case.
	HierarchyFactor decimal.Decimal `json:"hierarchyFactor"`
}

func (li LineItem) Revenue() decimal.Decimal { return li.UnitPrice.Mul(li.Quantity) }

// CostFactor is the multiplier turning a base-unit cost into the cost of one sold unit.
func (li LineItem) CostFactor() decimal.Decimal {
	switch li.SaleUnit {
	case UnitPack, UnitCase:
		if li.HierarchyFactor.IsPositive() {
			return li.HierarchyFactor
		}
	}
	return money.One
}

func (li LineItem) Cost() decimal.Decimal {
	return li.UnitCost.Mul(li.CostFactor()).Mul(li.Quantity)
}

// =============================================================================
// PAYMENT / CHANGE
// =============================================================================

type Payment struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency money.Currency  `json:"currency,omitempty"` // empty on legacy records
	Medium   Medium          `json:"medium,omitempty"`   // empty on legacy records
	Method   string          `json:"method,omitempty"`   // free-text label shown to the cashier
}

// Explicit reports whether the payment was classified at capture time.
func (p Payment) Explicit() bool { return p.Currency != "" && p.Medium != "" }

type ChangeEvent struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency money.Currency  `json:"currency"`
	Medium   Medium          `json:"medium"`
}

// LegacyChange is the pre-ChangeEvent shape: one amount plus a per-currency hint.
type LegacyChange struct {
	Amount decimal.Decimal `json:"amount"`
	USD    decimal.Decimal `json:"usd"`
	VES    decimal.Decimal `json:"ves"`

	// Redirected is set when the change went to debt or store credit.
	Redirected bool `json:"redirected,omitempty"`
}

// =============================================================================
// SALE
// =============================================================================

type Sale struct {
	ID         SaleID    `json:"id"`
	Ref        string    `json:"ref,omitempty"` // printed invoice number
	At         time.Time `json:"at"`
	CustomerID string    `json:"customerId,omitempty"`
	RegisterID string    `json:"registerId,omitempty"`

	Total    decimal.Decimal  `json:"total"` // gross, tax-inclusive, USD
	TotalVES *decimal.Decimal `json:"totalVES,omitempty"`
	Items    []LineItem       `json:"items,omitempty"`

	// Sale-level fields used when Items is empty.
	NetAmount *decimal.Decimal `json:"netAmount,omitempty"`
	TaxAmount *decimal.Decimal `json:"taxAmount,omitempty"`
	TotalCost decimal.Decimal  `json:"totalCost"`
	TaxExempt bool             `json:"taxExempt,omitempty"`

	// ForeignCashTax is the surcharge recorded on the sale at capture time.
	ForeignCashTax decimal.Decimal `json:"foreignCashTax"`

	Payments     []Payment     `json:"payments,omitempty"`
	ChangeEvents []ChangeEvent `json:"changeEvents,omitempty"`
	LegacyChange *LegacyChange `json:"legacyChange,omitempty"`

	// ExchangeRate is VES per USD at the moment of sale. Never re-read live.
	ExchangeRate decimal.Decimal `json:"exchangeRate"`

	IsCredit        bool            `json:"isCredit,omitempty"`
	FullyPaid       bool            `json:"fullyPaid,omitempty"`
	OutstandingDebt decimal.Decimal `json:"outstandingDebt"`

	// Change applied to the customer's debt / store credit instead of handed back.
	AppliedToDebt        decimal.Decimal `json:"appliedToDebt"`
	AppliedToStoreCredit decimal.Decimal `json:"appliedToStoreCredit"`

	Status SaleStatus `json:"status"`
	Kind   SaleKind   `json:"kind"`

	SealedBy ClosureID `json:"sealedBy,omitempty"`
}

func (s Sale) ValidForMargin() bool {
	return s.Status == StatusCompleted && s.Kind != KindVoid && s.Kind != KindDebtCollection
}

func (s Sale) ValidForCashflow() bool {
	return s.Status == StatusCompleted && s.Kind != KindVoid
}

func (s Sale) IsSealed() bool { return s.SealedBy != "" }

func (s Sale) IsVoided() bool { return s.Status == StatusVoided || s.Kind == KindVoid }

// Rate is the sale's own exchange rate, or 1 when none was recorded.
func (s Sale) Rate() decimal.Decimal {
	if s.ExchangeRate.IsPositive() {
		return s.ExchangeRate
	}
	return money.One
}

// =============================================================================
// QUADRANTS
// =============================================================================

type Quadrant string

const (
	QuadrantUSDCash    Quadrant = "USD_CASH"
	QuadrantUSDDigital Quadrant = "USD_DIGITAL"
	QuadrantVESCash    Quadrant = "VES_CASH"
	QuadrantVESDigital Quadrant = "VES_DIGITAL"
)

var AllQuadrants = []Quadrant{QuadrantUSDCash, QuadrantUSDDigital, QuadrantVESCash, QuadrantVESDigital}

// QuadrantFor maps a currency and a physical medium to a quadrant.
func QuadrantFor(c money.Currency, m Medium) Quadrant {
	cash := m == MediumCash
	switch {
	case c == money.VES && cash:
		return QuadrantVESCash
	case c == money.VES:
		return QuadrantVESDigital
	case cash:
		return QuadrantUSDCash
	default:
		return QuadrantUSDDigital
	}
}

func (q Quadrant) Currency() money.Currency {
	if q == QuadrantVESCash || q == QuadrantVESDigital {
		return money.VES
	}
	return money.USD
}

func (q Quadrant) Medium() Medium {
	if q == QuadrantUSDCash || q == QuadrantVESCash {
		return MediumCash
	}
	return MediumDigital
}

// OpeningBalances is snapshotted once when a shift opens and never mutated.
// Each value is in the quadrant's own currency.
type OpeningBalances struct {
	USDCash    decimal.Decimal `json:"usdCash"`
	USDDigital decimal.Decimal `json:"usdDigital"`
	VESCash    decimal.Decimal `json:"vesCash"`
	VESDigital decimal.Decimal `json:"vesDigital"`
}

func (o OpeningBalances) For(q Quadrant) decimal.Decimal {
	switch q {
	case QuadrantUSDCash:
		return o.USDCash
	case QuadrantUSDDigital:
		return o.USDDigital
	case QuadrantVESCash:
		return o.VESCash
	default:
		return o.VESDigital
	}
}

// TotalUSD converts all four balances to USD at rate.
func (o OpeningBalances) TotalUSD(rate decimal.Decimal) decimal.Decimal {
	return o.USDCash.Add(o.USDDigital).
		Add(money.ToUSD(o.VESCash, rate)).
		Add(money.ToUSD(o.VESDigital, rate))
}

// TreasuryQuadrant is one cash position over a shift.
type TreasuryQuadrant struct {
	Opening decimal.Decimal `json:"opening"`
	Inflow  decimal.Decimal `json:"inflow"`
	Outflow decimal.Decimal `json:"outflow"`
}

func (q TreasuryQuadrant) Net() decimal.Decimal   { return q.Inflow.Sub(q.Outflow) }
func (q TreasuryQuadrant) Final() decimal.Decimal { return q.Opening.Add(q.Net()) }

// =============================================================================
// CONFIG
// =============================================================================

// Config is everything the engine reads from configuration.
// Exchange rates are not here: every sale carries its own snapshot.
type Config struct {
	TaxRatePercent            decimal.Decimal
	ForeignCashTaxEnabled     bool
	ForeignCashTaxRatePercent decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		TaxRatePercent:            decimal.NewFromInt(16),
		ForeignCashTaxEnabled:     false,
		ForeignCashTaxRatePercent: decimal.NewFromInt(3),
	}
}

// =============================================================================
// OBSERVER
// =============================================================================

// Observer receives low-confidence events from the pure engine.
// Implementations must not mutate the sales they are shown.
type Observer interface {
	OnLegacyClassification(saleID SaleID, label string, q Quadrant)
}

type nopObserver struct{}

func (nopObserver) OnLegacyClassification(SaleID, string, Quadrant) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
