/*
treasury.go - Treasury quadrant engine

PURPOSE:
  Reduces cash-flow-valid sales into four independent ledgers, one per
  (currency x medium): USD-Cash, USD-Digital, VES-Cash, VES-Digital.
  Each quadrant is kept in its own currency; nothing is converted here.

PER SALE:
  1. Full-credit short-circuit: a credit sale whose outstanding debt is the
     whole ticket (>= 99%, or zero without FullyPaid) moved no money. Its
     total goes to the Credit bucket and its payments are ignored.
  2. Inflow: each CASH/DIGITAL payment lands in its quadrant. CREDIT, WALLET
     and INTERNAL payments never touch a quadrant.
  3. Partial credit: the unpaid residual of a mixed sale is added to the
     Credit bucket once.
  4. Debt collection: its payments are normal inflow and its total is
     subtracted from the Credit bucket (a receivable became cash).
  5. Outflow: physical change. ChangeEvents subtract from their own quadrant;
     the legacy single-amount change comes out of the cash quadrant of the
     hinted currency, never from a digital one. Change redirected to debt or
     store credit left nothing in the register and is not outflow.

  final = opening + inflow - outflow, per quadrant.
*/
package fiscal

import (
	"github.com/fenixpos/fiscal-engine/money"
	"github.com/shopspring/decimal"
)

var (
	fullCreditThreshold = decimal.RequireFromString("0.99")
	creditResidualFloor = money.Epsilon
)

// Treasury is the output of the quadrant engine.
type Treasury struct {
	USDCash    TreasuryQuadrant `json:"usdCash"`
	USDDigital TreasuryQuadrant `json:"usdDigital"`
	VESCash    TreasuryQuadrant `json:"vesCash"`
	VESDigital TreasuryQuadrant `json:"vesDigital"`

	// AppliedToStoreCredit is change left with the business as customer balance.
	AppliedToStoreCredit decimal.Decimal `json:"appliedToStoreCredit"`

	// Credit is the receivables bucket in USD: credit extended minus collections.
	Credit decimal.Decimal `json:"credit"`

	// DebtCollected is the USD total of DEBT_COLLECTION transactions.
	DebtCollected decimal.Decimal `json:"debtCollected"`

	// LegacyClassified counts payments classified by label heuristics.
	LegacyClassified int `json:"legacyClassified"`
}

func (t Treasury) Quadrant(q Quadrant) TreasuryQuadrant {
	switch q {
	case QuadrantUSDCash:
		return t.USDCash
	case QuadrantUSDDigital:
		return t.USDDigital
	case QuadrantVESCash:
		return t.VESCash
	default:
		return t.VESDigital
	}
}

// TotalUSD is the sum of the four final balances converted at rate.
func (t Treasury) TotalUSD(rate decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, q := range AllQuadrants {
		total = total.Add(money.NewAmount(t.Quadrant(q).Final(), q.Currency()).InUSD(rate))
	}
	return total
}

// FlowUSD returns opening, inflow and outflow across quadrants converted at rate.
func (t Treasury) FlowUSD(rate decimal.Decimal) (opening, inflow, outflow decimal.Decimal) {
	for _, q := range AllQuadrants {
		tq := t.Quadrant(q)
		c := q.Currency()
		opening = opening.Add(money.NewAmount(tq.Opening, c).InUSD(rate))
		inflow = inflow.Add(money.NewAmount(tq.Inflow, c).InUSD(rate))
		outflow = outflow.Add(money.NewAmount(tq.Outflow, c).InUSD(rate))
	}
	return opening, inflow, outflow
}

// ComputeTreasuryQuadrants reduces sales on top of the opening snapshot.
func ComputeTreasuryQuadrants(sales []Sale, opening OpeningBalances) Treasury {
	acc := NewTreasuryAccumulator(opening, nil)
	for i := range sales {
		acc.Add(sales[i])
	}
	return acc.Result()
}

// IsFullCredit reports whether the sale is routed entirely to the Credit
// bucket. A zero debt counts as full credit unless FullyPaid is set.
func IsFullCredit(s Sale) bool {
	if !s.IsCredit || s.FullyPaid {
		return false
	}
	debt := s.OutstandingDebt
	return debt.IsZero() || debt.GreaterThanOrEqual(s.Total.Mul(fullCreditThreshold))
}

// creditResidual is the unpaid part of a mixed credit sale, or zero.
func creditResidual(s Sale) decimal.Decimal {
	if !s.IsCredit || IsFullCredit(s) {
		return decimal.Zero
	}
	if d := newDebtOf(s); d.GreaterThan(creditResidualFloor) {
		return d
	}
	return decimal.Zero
}

// =============================================================================
// ACCUMULATOR
// =============================================================================

type TreasuryAccumulator struct {
	q        [4]TreasuryQuadrant
	observer Observer

	storeCredit decimal.Decimal
	credit      decimal.Decimal
	collected   decimal.Decimal
	legacy      int
}

func NewTreasuryAccumulator(opening OpeningBalances, obs Observer) *TreasuryAccumulator {
	a := &TreasuryAccumulator{observer: observerOrNop(obs)}
	for i, q := range AllQuadrants {
		a.q[i].Opening = opening.For(q)
	}
	return a
}

func quadrantIndex(q Quadrant) int {
	switch q {
	case QuadrantUSDCash:
		return 0
	case QuadrantUSDDigital:
		return 1
	case QuadrantVESCash:
		return 2
	default:
		return 3
	}
}

func (a *TreasuryAccumulator) in(q Quadrant, v decimal.Decimal) {
	i := quadrantIndex(q)
	a.q[i].Inflow = a.q[i].Inflow.Add(v)
}

func (a *TreasuryAccumulator) out(q Quadrant, v decimal.Decimal) {
	i := quadrantIndex(q)
	a.q[i].Outflow = a.q[i].Outflow.Add(v)
}

func (a *TreasuryAccumulator) Add(s Sale) {
	if !s.ValidForCashflow() {
		return
	}
	if IsFullCredit(s) {
		a.credit = a.credit.Add(s.Total)
		return
	}

	for _, p := range s.Payments {
		c, m, legacy := ClassifyPayment(p)
		if !m.Physical() {
			continue
		}
		q := QuadrantFor(c, m)
		if legacy {
			a.legacy++
			a.observer.OnLegacyClassification(s.ID, p.Method, q)
		}
		a.in(q, p.Amount)
	}

	if s.Kind == KindDebtCollection {
		a.credit = a.credit.Sub(s.Total)
		a.collected = a.collected.Add(s.Total)
	}

	a.addChange(s)

	a.credit = a.credit.Add(creditResidual(s))
	a.storeCredit = a.storeCredit.Add(s.AppliedToStoreCredit)
}

func (a *TreasuryAccumulator) addChange(s Sale) {
	if len(s.ChangeEvents) > 0 {
		for _, ce := range s.ChangeEvents {
			m := ce.Medium
			if m == "" {
				m = MediumCash
			}
			if !m.Physical() {
				continue
			}
			c := ce.Currency
			if c == "" {
				c = money.USD
			}
			a.out(QuadrantFor(c, m), ce.Amount)
		}
		return
	}

	lc := s.LegacyChange
	if lc == nil || !lc.Amount.IsPositive() || lc.Redirected {
		return
	}
	if lc.USD.IsPositive() {
		a.out(QuadrantUSDCash, lc.USD)
	}
	if lc.VES.IsPositive() {
		a.out(QuadrantVESCash, lc.VES)
	}
	if !lc.USD.IsPositive() && !lc.VES.IsPositive() {
		a.out(QuadrantUSDCash, lc.Amount)
	}
}

func (a *TreasuryAccumulator) Result() Treasury {
	return Treasury{
		USDCash:              a.q[0],
		USDDigital:           a.q[1],
		VESCash:              a.q[2],
		VESDigital:           a.q[3],
		AppliedToStoreCredit: a.storeCredit,
		Credit:               a.credit,
		DebtCollected:        a.collected,
		LegacyClassified:     a.legacy,
	}
}
