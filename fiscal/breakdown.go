package fiscal

import (
	"sort"

	"github.com/fenixpos/fiscal-engine/money"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT METHOD BREAKDOWN
// =============================================================================
//
// Chart-ready projection of how the period was paid, one entry per payment
// label. Unlike the quadrants it does include receivables (the "Credit"
// label) and wallet-funded payments, since it answers "how did customers
// pay", not "where is the money".

const (
	LabelCredit       = "Credit"
	LabelCashImplicit = "Cash (implicit)"
	LabelCashLegacy   = "Cash (legacy)"
	LabelCashUSD      = "Cash USD"
	LabelCashVES      = "Cash VES"
	LabelOther        = "Other"
)

type MethodTotal struct {
	Label    string          `json:"label"`
	ValueUSD decimal.Decimal `json:"valueUSD"`
}

// NativeMethodTotal is a breakdown entry in the payment's own currency.
type NativeMethodTotal struct {
	Label    string          `json:"label"`
	Currency money.Currency  `json:"currency"`
	Value    decimal.Decimal `json:"value"`
}

// ClassifyPaymentMethods projects cash-flow-valid sales into USD per label.
// VES amounts are converted at each sale's own rate. Values are rounded to
// cents and sorted largest first.
func ClassifyPaymentMethods(sales []Sale) []MethodTotal {
	acc := NewBreakdownAccumulator()
	for i := range sales {
		acc.Add(sales[i])
	}
	return acc.Result()
}

// ClassifyPaymentMethodsNative is the same breakdown without conversion.
func ClassifyPaymentMethodsNative(sales []Sale) []NativeMethodTotal {
	acc := NewBreakdownAccumulator()
	for i := range sales {
		acc.Add(sales[i])
	}
	return acc.Native()
}

// =============================================================================
// ACCUMULATOR
// =============================================================================

type bucket struct {
	label    string
	currency money.Currency
	medium   Medium
	usd      decimal.Decimal
	native   decimal.Decimal
}

// BreakdownAccumulator keeps buckets in first-seen order so lookups for
// change deduction are deterministic.
type BreakdownAccumulator struct {
	buckets []*bucket
	byKey   map[string]*bucket
}

func NewBreakdownAccumulator() *BreakdownAccumulator {
	return &BreakdownAccumulator{byKey: make(map[string]*bucket)}
}

func (a *BreakdownAccumulator) get(label string, c money.Currency, m Medium) *bucket {
	key := label + "|" + string(c)
	if b, ok := a.byKey[key]; ok {
		return b
	}
	b := &bucket{label: label, currency: c, medium: m}
	a.byKey[key] = b
	a.buckets = append(a.buckets, b)
	return b
}

// cashBucket returns the first cash bucket in currency c, creating the
// default one if none exists yet.
func (a *BreakdownAccumulator) cashBucket(c money.Currency) *bucket {
	for _, b := range a.buckets {
		if b.currency == c && b.medium == MediumCash && b.label != LabelCashImplicit && b.label != LabelCashLegacy {
			return b
		}
	}
	if c == money.VES {
		return a.get(LabelCashVES, c, MediumCash)
	}
	return a.get(LabelCashUSD, c, MediumCash)
}

func (a *BreakdownAccumulator) addCredit(usd decimal.Decimal) {
	b := a.get(LabelCredit, money.USD, MediumCredit)
	b.usd = b.usd.Add(usd)
	b.native = b.native.Add(usd)
}

func (a *BreakdownAccumulator) Add(s Sale) {
	if !s.ValidForCashflow() {
		return
	}
	if IsFullCredit(s) {
		a.addCredit(s.Total)
		return
	}

	if len(s.Payments) == 0 {
		a.addImplicit(s)
		return
	}

	rate := s.Rate()
	for _, p := range s.Payments {
		c, m, _ := ClassifyPayment(p)
		if m == MediumInternal {
			continue
		}
		if m == MediumCredit {
			// Receivables are added once below from the residual debt.
			continue
		}
		label := p.Method
		if label == "" {
			label = LabelOther
		}
		b := a.get(label, c, m)
		b.native = b.native.Add(p.Amount)
		b.usd = b.usd.Add(money.NewAmount(p.Amount, c).InUSD(rate))
	}

	if s.Kind == KindDebtCollection {
		a.addCredit(s.Total.Neg())
	}

	a.subtractChange(s, rate)

	if d := creditResidual(s); d.IsPositive() {
		a.addCredit(d)
	}
}

// addImplicit handles records with no payment list at all.
func (a *BreakdownAccumulator) addImplicit(s Sale) {
	if !s.IsCredit {
		b := a.get(LabelCashLegacy, money.USD, MediumCash)
		b.usd = b.usd.Add(s.Total)
		b.native = b.native.Add(s.Total)
		return
	}
	debt := newDebtOf(s)
	if paid := s.Total.Sub(debt); paid.GreaterThan(money.Epsilon) {
		b := a.get(LabelCashImplicit, money.USD, MediumCash)
		b.usd = b.usd.Add(paid)
		b.native = b.native.Add(paid)
	}
	if debt.IsPositive() {
		a.addCredit(debt)
	}
}

func (a *BreakdownAccumulator) subtractChange(s Sale, rate decimal.Decimal) {
	deduct := func(c money.Currency, v decimal.Decimal) {
		b := a.cashBucket(c)
		b.native = b.native.Sub(v)
		b.usd = b.usd.Sub(money.NewAmount(v, c).InUSD(rate))
	}

	if len(s.ChangeEvents) > 0 {
		for _, ce := range s.ChangeEvents {
			if ce.Medium != "" && !ce.Medium.Physical() {
				continue
			}
			c := ce.Currency
			if c == "" {
				c = money.USD
			}
			deduct(c, ce.Amount)
		}
		return
	}

	lc := s.LegacyChange
	if lc == nil || !lc.Amount.IsPositive() || lc.Redirected {
		return
	}
	if lc.USD.IsPositive() {
		deduct(money.USD, lc.USD)
	}
	if lc.VES.IsPositive() {
		deduct(money.VES, lc.VES)
	}
	if !lc.USD.IsPositive() && !lc.VES.IsPositive() {
		deduct(money.USD, lc.Amount)
	}
}

// Result merges buckets by label into the USD projection.
func (a *BreakdownAccumulator) Result() []MethodTotal {
	idx := make(map[string]int)
	var out []MethodTotal
	for _, b := range a.buckets {
		i, ok := idx[b.label]
		if !ok {
			i = len(out)
			idx[b.label] = i
			out = append(out, MethodTotal{Label: b.label})
		}
		out[i].ValueUSD = out[i].ValueUSD.Add(b.usd)
	}
	for i := range out {
		out[i].ValueUSD = money.Round2(out[i].ValueUSD)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ValueUSD.GreaterThan(out[j].ValueUSD)
	})
	return out
}

func (a *BreakdownAccumulator) Native() []NativeMethodTotal {
	out := make([]NativeMethodTotal, 0, len(a.buckets))
	for _, b := range a.buckets {
		out = append(out, NativeMethodTotal{Label: b.label, Currency: b.currency, Value: money.Round2(b.native)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Currency != out[j].Currency {
			return out[i].Currency == money.USD
		}
		return out[i].Value.GreaterThan(out[j].Value)
	})
	return out
}
