package fiscal

import (
	"github.com/fenixpos/fiscal-engine/money"
	"github.com/shopspring/decimal"
)

// =============================================================================
// FOREIGN-CASH TAX (IGTF)
// =============================================================================

// subjectToForeignCashTax reports whether a payment is foreign currency
// handed over in cash.
func subjectToForeignCashTax(p Payment) bool {
	c, m, _ := ClassifyPayment(p)
	return c == money.USD && m == MediumCash
}

// ForeignCashTaxOf returns the surcharge to report for one sale. The value
// recorded at capture time wins; when the feature is enabled and nothing was
// recorded, it is derived as rate% of the sale's USD cash payments.
func ForeignCashTaxOf(s Sale, cfg Config) decimal.Decimal {
	if !s.ForeignCashTax.IsZero() || !cfg.ForeignCashTaxEnabled {
		return s.ForeignCashTax
	}
	base := decimal.Zero
	for _, p := range s.Payments {
		if subjectToForeignCashTax(p) {
			base = base.Add(p.Amount)
		}
	}
	return base.Mul(cfg.ForeignCashTaxRatePercent).Div(money.Hundred)
}

// TotalForeignCashTax sums ForeignCashTaxOf over margin-valid sales.
func TotalForeignCashTax(sales []Sale, cfg Config) decimal.Decimal {
	total := decimal.Zero
	for i := range sales {
		if sales[i].ValidForMargin() {
			total = total.Add(ForeignCashTaxOf(sales[i], cfg))
		}
	}
	return total
}

// ForeignCashTaxDue computes the surcharge for a payment set at capture time.
// Only the part of the ticket actually settled in foreign cash is taxed:
//
//	base = min(total - untaxed payments, taxed payments)
//
// VES payments are converted at rate. The result is rounded to cents.
func ForeignCashTaxDue(totalUSD decimal.Decimal, payments []Payment, rate decimal.Decimal, cfg Config) (tax, base decimal.Decimal) {
	if !cfg.ForeignCashTaxEnabled {
		return decimal.Zero, decimal.Zero
	}
	taxed, untaxed := decimal.Zero, decimal.Zero
	for _, p := range payments {
		if !p.Amount.IsPositive() {
			continue
		}
		c, _, _ := ClassifyPayment(p)
		usd := money.NewAmount(p.Amount, c).InUSD(rate)
		if subjectToForeignCashTax(p) {
			taxed = taxed.Add(usd)
		} else {
			untaxed = untaxed.Add(usd)
		}
	}
	susceptible := decimal.Max(decimal.Zero, totalUSD.Sub(untaxed))
	base = decimal.Min(susceptible, taxed)
	tax = money.Round2(base.Mul(cfg.ForeignCashTaxRatePercent).Div(money.Hundred))
	return tax, base
}
