/*
audit.go - Fiscal lock auditor (startup self-test)

PURPOSE:
  Runs a fixed table of golden-master cases through the KPI and treasury
  engines at startup. The expected values are literal and must never change;
  a mismatch beyond one cent means the math that feeds legal tax reports has
  regressed.

LOCK SEMANTICS:
  A Lock remembers the outcome for the life of the process. Once a run has
  failed the lock stays failed, even if a later run passes: the process must
  be restarted with fixed code before figures are trusted again. The API
  refuses financial endpoints while the lock is failed.

SEE ALSO:
  - api/server.go: fiscal lock guard middleware
  - cmd/server/main.go: runs the self-test before serving
*/
package fiscal

import (
	"fmt"
	"sync"
	"time"

	"github.com/fenixpos/fiscal-engine/money"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// GOLDEN CASES
// =============================================================================

// Metric names a figure checked by a golden case.
type Metric string

const (
	MetricNetRevenue       Metric = "netRevenue"
	MetricVAT              Metric = "vat"
	MetricForeignCashTax   Metric = "foreignCashTax"
	MetricGrossRevenue     Metric = "grossRevenue"
	MetricTransactionCount Metric = "transactionCount"
	MetricUSDCashIn        Metric = "usdCash.inflow"
	MetricUSDCashOut       Metric = "usdCash.outflow"
	MetricUSDCashFinal     Metric = "usdCash.final"
	MetricVESCashOut       Metric = "vesCash.outflow"
	MetricVESDigitalIn     Metric = "vesDigital.inflow"
	MetricCredit           Metric = "credit"
	MetricStoreCredit      Metric = "appliedToStoreCredit"
)

type Expectation struct {
	Metric Metric
	Want   decimal.Decimal
}

type GoldenCase struct {
	Name           string
	Sales          []Sale
	TaxRatePercent decimal.Decimal
	Opening        OpeningBalances
	Expect         []Expectation
}

func dec(s string) decimal.Decimal  { return decimal.RequireFromString(s) }
func decp(s string) *decimal.Decimal { d := dec(s); return &d }

func expect(m Metric, v string) Expectation { return Expectation{Metric: m, Want: dec(v)} }

func completed(total string) Sale {
	return Sale{Total: dec(total), Status: StatusCompleted, Kind: KindSale}
}

// GoldenCases returns the fixed table. A new slice is built on every call.
func GoldenCases() []GoldenCase {
	sixteen, twelve := dec("16"), dec("12")

	exempt := completed("100")
	exempt.TaxExempt = true

	withFCT := completed("100")
	withFCT.ForeignCashTax = dec("3")

	flour := completed("29")
	flour.TaxAmount = decp("4")
	flour.ForeignCashTax = dec("0.42")

	fctOff := completed("20")
	fctOff.TaxAmount = decp("2.76")
	fctOff.Payments = []Payment{{Amount: dec("20"), Currency: money.USD, Medium: MediumCash, Method: "Cash USD"}}

	collection := Sale{
		Total: dec("30"), Status: StatusCompleted, Kind: KindDebtCollection,
		Payments: []Payment{{Amount: dec("30"), Currency: money.USD, Medium: MediumCash}},
	}

	mixed := completed("50")
	mixed.ExchangeRate = dec("36.5")
	mixed.IsCredit = true
	mixed.OutstandingDebt = dec("10")
	mixed.Payments = []Payment{
		{Amount: dec("20"), Currency: money.USD, Medium: MediumCash},
		{Amount: dec("730"), Currency: money.VES, Medium: MediumDigital},
	}

	ghost := completed("40")
	ghost.IsCredit = true
	ghost.OutstandingDebt = dec("40")
	ghost.Payments = []Payment{{Amount: dec("40"), Currency: money.USD, Medium: MediumCash}}

	change := completed("15")
	change.Payments = []Payment{{Amount: dec("20"), Currency: money.USD, Medium: MediumCash}}
	change.ChangeEvents = []ChangeEvent{{Amount: dec("5"), Currency: money.USD, Medium: MediumCash}}

	legacyBs := completed("15")
	legacyBs.ExchangeRate = dec("36.5")
	legacyBs.Payments = []Payment{{Amount: dec("20"), Method: "Efectivo Divisa"}}
	legacyBs.LegacyChange = &LegacyChange{Amount: dec("5"), VES: dec("182.5")}

	redirected := completed("15")
	redirected.Payments = []Payment{{Amount: dec("20"), Currency: money.USD, Medium: MediumCash}}
	redirected.LegacyChange = &LegacyChange{Amount: dec("5"), Redirected: true}
	redirected.AppliedToStoreCredit = dec("5")

	return []GoldenCase{
		{Name: "standard sale 16% (implicit base)", Sales: []Sale{completed("116")}, TaxRatePercent: sixteen,
			Expect: []Expectation{expect(MetricNetRevenue, "100"), expect(MetricVAT, "16")}},
		{Name: "exempt sale", Sales: []Sale{exempt}, TaxRatePercent: sixteen,
			Expect: []Expectation{expect(MetricNetRevenue, "100"), expect(MetricVAT, "0")}},
		{Name: "custom rate 12%", Sales: []Sale{completed("112")}, TaxRatePercent: twelve,
			Expect: []Expectation{expect(MetricNetRevenue, "100"), expect(MetricVAT, "12")}},
		{Name: "recorded foreign-cash tax", Sales: []Sale{withFCT}, TaxRatePercent: sixteen,
			Expect: []Expectation{expect(MetricForeignCashTax, "3")}},
		{Name: "explicit tax and foreign-cash tax", Sales: []Sale{flour}, TaxRatePercent: sixteen,
			Expect: []Expectation{expect(MetricNetRevenue, "25"), expect(MetricVAT, "4"), expect(MetricForeignCashTax, "0.42")}},
		{Name: "foreign cash without surcharge", Sales: []Sale{fctOff}, TaxRatePercent: sixteen,
			Expect: []Expectation{expect(MetricForeignCashTax, "0"), expect(MetricNetRevenue, "17.24")}},
		{Name: "debt collection is cash, not revenue", Sales: []Sale{collection}, TaxRatePercent: sixteen,
			Expect: []Expectation{
				expect(MetricUSDCashIn, "30"), expect(MetricGrossRevenue, "0"),
				expect(MetricTransactionCount, "0"), expect(MetricCredit, "-30"),
			}},
		{Name: "partial credit with mixed currencies", Sales: []Sale{mixed}, TaxRatePercent: sixteen,
			Expect: []Expectation{
				expect(MetricUSDCashIn, "20"), expect(MetricVESDigitalIn, "730"), expect(MetricCredit, "10"),
			}},
		{Name: "full credit ignores ghost payments", Sales: []Sale{ghost}, TaxRatePercent: sixteen,
			Expect: []Expectation{expect(MetricUSDCashIn, "0"), expect(MetricCredit, "40")}},
		{Name: "change leaves the cash quadrant", Sales: []Sale{change}, TaxRatePercent: sixteen,
			Opening: OpeningBalances{USDCash: dec("100")},
			Expect: []Expectation{
				expect(MetricUSDCashIn, "20"), expect(MetricUSDCashOut, "5"), expect(MetricUSDCashFinal, "115"),
			}},
		{Name: "legacy bolivar change comes out of VES cash", Sales: []Sale{legacyBs}, TaxRatePercent: sixteen,
			Expect: []Expectation{
				expect(MetricUSDCashIn, "20"), expect(MetricUSDCashOut, "0"), expect(MetricVESCashOut, "182.5"),
			}},
		{Name: "redirected change is not outflow", Sales: []Sale{redirected}, TaxRatePercent: sixteen,
			Expect: []Expectation{expect(MetricUSDCashOut, "0"), expect(MetricStoreCredit, "5")}},
	}
}

func metricValue(m Metric, k KPISet, t Treasury) (decimal.Decimal, bool) {
	switch m {
	case MetricNetRevenue:
		return k.NetRevenue, true
	case MetricVAT:
		return k.VAT, true
	case MetricForeignCashTax:
		return k.ForeignCashTax, true
	case MetricGrossRevenue:
		return k.GrossRevenue, true
	case MetricTransactionCount:
		return decimal.NewFromInt(int64(k.TransactionCount)), true
	case MetricUSDCashIn:
		return t.USDCash.Inflow, true
	case MetricUSDCashOut:
		return t.USDCash.Outflow, true
	case MetricUSDCashFinal:
		return t.USDCash.Final(), true
	case MetricVESCashOut:
		return t.VESCash.Outflow, true
	case MetricVESDigitalIn:
		return t.VESDigital.Inflow, true
	case MetricCredit:
		return t.Credit, true
	case MetricStoreCredit:
		return t.AppliedToStoreCredit, true
	}
	return decimal.Zero, false
}

// =============================================================================
// RUNNER
// =============================================================================

type SelfTestResult struct {
	Passed   bool      `json:"passed"`
	Failures []string  `json:"failures"`
	Cases    int       `json:"cases"`
	RanAt    time.Time `json:"ranAt"`
}

// RunFiscalSelfTest runs the built-in golden cases.
func RunFiscalSelfTest() SelfTestResult {
	return RunCases(GoldenCases())
}

// RunCases runs the given cases with a one-cent tolerance. A panic inside an
// engine is reported as a failure of that case.
func RunCases(cases []GoldenCase) SelfTestResult {
	res := SelfTestResult{Cases: len(cases), Failures: []string{}, RanAt: time.Now().UTC()}
	for _, c := range cases {
		res.Failures = append(res.Failures, runCase(c)...)
	}
	res.Passed = len(res.Failures) == 0
	return res
}

func runCase(c GoldenCase) (failures []string) {
	defer func() {
		if r := recover(); r != nil {
			failures = append(failures, fmt.Sprintf("%s: engine panicked: %v", c.Name, r))
		}
	}()

	kpis := ComputeKPIs(c.Sales, c.TaxRatePercent)
	treasury := ComputeTreasuryQuadrants(c.Sales, c.Opening)

	for _, e := range c.Expect {
		got, ok := metricValue(e.Metric, kpis, treasury)
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: unknown metric %q", c.Name, e.Metric))
			continue
		}
		if !money.WithinEpsilon(got, e.Want, money.Epsilon) {
			failures = append(failures, fmt.Sprintf("%s: expected %s=%s, got %s",
				c.Name, e.Metric, e.Want.String(), got.String()))
		}
	}
	return failures
}

// =============================================================================
// LOCK
// =============================================================================

// Lock holds the self-test outcome for the process. Safe for concurrent use.
type Lock struct {
	mu     sync.RWMutex
	ran    bool
	failed bool
	result SelfTestResult
}

func NewLock() *Lock { return &Lock{} }

// Run executes the built-in self-test and records it.
func (l *Lock) Run(log *zap.Logger) SelfTestResult {
	return l.RunCases(GoldenCases(), log)
}

// RunCases executes cases and records the outcome. A failure is sticky.
func (l *Lock) RunCases(cases []GoldenCase, log *zap.Logger) SelfTestResult {
	if log == nil {
		log = zap.NewNop()
	}
	res := RunCases(cases)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.ran = true
	if l.failed {
		// Keep reporting the original failure.
		return l.result
	}
	l.result = res
	l.failed = !res.Passed

	if res.Passed {
		log.Info("fiscal self-test passed", zap.Int("cases", res.Cases))
	} else {
		for _, f := range res.Failures {
			log.Error("fiscal self-test failure", zap.String("failure", f))
		}
	}
	return res
}

// Err returns nil when the self-test ran and passed, *SelfTestError otherwise.
func (l *Lock) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ran {
		return &SelfTestError{Failures: []string{"self-test has not run"}}
	}
	if l.failed {
		return &SelfTestError{Failures: append([]string(nil), l.result.Failures...)}
	}
	return nil
}

func (l *Lock) Result() SelfTestResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.result
}
