/*
kpi.go - Fiscal KPI engine

PURPOSE:
  Reduces a set of sales into revenue, cost, profit, the taxable/exempt
  split, VAT, foreign-cash tax and the net credit extended in the period.

ALGORITHM (per margin-valid sale):
  1. Items present: each line contributes UnitPrice x Quantity to the exempt
     or taxable bucket according to the LINE's own flag, and
     UnitCost x HierarchyFactor x Quantity to cost.
  2. No items: trust NetAmount / TaxAmount when recorded, otherwise back the
     VAT out of the gross total with decimal division:
       base = total / (1 + rate/100), tax = total - base
  3. profit = (base + exempt) - cost
     margin% = cost > 0 ? profit / cost x 100 : 100

NET CREDIT EXTENDED:
  new debt from credit sales
  - debt repaid with change redirected to the debt (same sale)
  - debt repaid by DEBT_COLLECTION transactions in the period
  Negative when the period collected more than it lent.

ERROR POLICY:
  Never fails. Missing numbers are zero; the auditor catches systemic drift.
*/
package fiscal

import (
	"github.com/fenixpos/fiscal-engine/money"
	"github.com/shopspring/decimal"
)

// KPISet is the output of the KPI engine. Values are carried at full
// precision; MarginPct is rounded to one decimal and AvgTicket to cents.
type KPISet struct {
	GrossRevenue      decimal.Decimal `json:"grossRevenue"`
	GrossRevenueVES   decimal.Decimal `json:"grossRevenueVES"`
	NetRevenue        decimal.Decimal `json:"netRevenue"` // TaxBase + ExemptSales
	TaxBase           decimal.Decimal `json:"taxBase"`
	ExemptSales       decimal.Decimal `json:"exemptSales"`
	VAT               decimal.Decimal `json:"vat"`
	ForeignCashTax    decimal.Decimal `json:"foreignCashTax"` // recorded only; a corte applies the configured fallback
	TotalCost         decimal.Decimal `json:"totalCost"`
	Profit            decimal.Decimal `json:"profit"`
	MarginPct         decimal.Decimal `json:"marginPct"`
	AvgTicket         decimal.Decimal `json:"avgTicket"`
	TransactionCount  int             `json:"transactionCount"`
	NetCreditExtended decimal.Decimal `json:"netCreditExtended"`
}

// ComputeKPIs reduces sales with the given VAT rate (percent).
func ComputeKPIs(sales []Sale, taxRatePercent decimal.Decimal) KPISet {
	acc := NewKPIAccumulator(taxRatePercent)
	for i := range sales {
		acc.Add(sales[i])
	}
	return acc.Result()
}

// KPIAccumulator folds sales one at a time so large ranges can be streamed
// from a cursor instead of materialized.
type KPIAccumulator struct {
	taxRate decimal.Decimal

	gross    decimal.Decimal
	grossVES decimal.Decimal
	cost     decimal.Decimal
	base     decimal.Decimal
	exempt   decimal.Decimal
	vat      decimal.Decimal
	fct      decimal.Decimal
	count    int

	newDebt         decimal.Decimal
	repaidViaChange decimal.Decimal
	collected       decimal.Decimal
}

func NewKPIAccumulator(taxRatePercent decimal.Decimal) *KPIAccumulator {
	return &KPIAccumulator{taxRate: taxRatePercent}
}

func (a *KPIAccumulator) Add(s Sale) {
	if s.Kind == KindDebtCollection && s.Status == StatusCompleted {
		a.collected = a.collected.Add(s.Total)
		return
	}
	if !s.ValidForMargin() {
		return
	}

	a.count++
	a.gross = a.gross.Add(s.Total)
	if s.TotalVES != nil {
		a.grossVES = a.grossVES.Add(*s.TotalVES)
	} else {
		a.grossVES = a.grossVES.Add(s.Total.Mul(s.Rate()))
	}

	base, exempt, cost := a.split(s)
	a.base = a.base.Add(base)
	a.exempt = a.exempt.Add(exempt)
	a.cost = a.cost.Add(cost)

	if s.TaxAmount != nil {
		a.vat = a.vat.Add(*s.TaxAmount)
	} else {
		a.vat = a.vat.Add(s.Total.Sub(base).Sub(exempt))
	}
	a.fct = a.fct.Add(s.ForeignCashTax)

	if s.IsCredit {
		a.newDebt = a.newDebt.Add(newDebtOf(s))
	}
	a.repaidViaChange = a.repaidViaChange.Add(s.AppliedToDebt)
}

// split returns the taxable base, the exempt revenue and the cost of a sale.
func (a *KPIAccumulator) split(s Sale) (base, exempt, cost decimal.Decimal) {
	if len(s.Items) > 0 {
		for _, li := range s.Items {
			cost = cost.Add(li.Cost())
			if li.TaxExempt {
				exempt = exempt.Add(li.Revenue())
			} else {
				base = base.Add(li.Revenue())
			}
		}
		return base, exempt, cost
	}

	cost = s.TotalCost
	switch {
	case s.NetAmount != nil:
		base = *s.NetAmount
	case s.TaxExempt:
		exempt = s.Total
	case s.TaxAmount != nil:
		base = s.Total.Sub(*s.TaxAmount)
	default:
		base, _ = money.BackOutTax(s.Total, a.taxRate)
	}
	return base, exempt, cost
}

// newDebtOf is the receivable a credit sale created. Records without an
// outstanding-debt figure fall back to the sum of their CREDIT payments.
func newDebtOf(s Sale) decimal.Decimal {
	if s.FullyPaid {
		return decimal.Zero
	}
	if s.OutstandingDebt.IsPositive() {
		return s.OutstandingDebt
	}
	debt := decimal.Zero
	for _, p := range s.Payments {
		if _, m, _ := ClassifyPayment(p); m == MediumCredit {
			debt = debt.Add(p.Amount)
		}
	}
	return debt
}

func (a *KPIAccumulator) Result() KPISet {
	net := a.base.Add(a.exempt)
	profit := net.Sub(a.cost)

	margin := money.Hundred
	if a.cost.IsPositive() {
		margin = profit.Div(a.cost).Mul(money.Hundred).Round(1)
	}

	avg := decimal.Zero
	if a.count > 0 {
		avg = a.gross.Div(decimal.NewFromInt(int64(a.count))).Round(2)
	}

	return KPISet{
		GrossRevenue:      a.gross,
		GrossRevenueVES:   a.grossVES,
		NetRevenue:        net,
		TaxBase:           a.base,
		ExemptSales:       a.exempt,
		VAT:               a.vat,
		ForeignCashTax:    a.fct,
		TotalCost:         a.cost,
		Profit:            profit,
		MarginPct:         margin,
		AvgTicket:         avg,
		TransactionCount:  a.count,
		NetCreditExtended: a.newDebt.Sub(a.repaidViaChange).Sub(a.collected),
	}
}
