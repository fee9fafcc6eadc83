package fiscal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fenixpos/fiscal-engine/fiscal"
	"github.com/fenixpos/fiscal-engine/money"
)

func TestTreasury_PaymentsLandInTheirQuadrant(t *testing.T) {
	// GIVEN: a sale paid in all four quadrants plus a wallet payment
	s := sale("s1", "100")
	s.ExchangeRate = d("40")
	s.Payments = []fiscal.Payment{
		usdCash("20"),
		pay("30", money.USD, fiscal.MediumDigital),
		pay("400", money.VES, fiscal.MediumCash),
		vesDigital("800"),
		pay("10", money.USD, fiscal.MediumWallet),
	}

	// WHEN
	tr := fiscal.ComputeTreasuryQuadrants([]fiscal.Sale{s}, fiscal.OpeningBalances{})

	// THEN: each quadrant keeps its own currency, wallet touches nothing
	assertDec(t, "20", tr.USDCash.Inflow)
	assertDec(t, "30", tr.USDDigital.Inflow)
	assertDec(t, "400", tr.VESCash.Inflow)
	assertDec(t, "800", tr.VESDigital.Inflow)
	assertDec(t, "0", tr.Credit)
}

func TestTreasury_FullCreditMovesNoMoney(t *testing.T) {
	// GIVEN: a credit sale with the whole ticket outstanding
	s := sale("s1", "50")
	s.IsCredit = true
	s.OutstandingDebt = d("50")
	s.Payments = []fiscal.Payment{usdCash("50")}

	tr := fiscal.ComputeTreasuryQuadrants([]fiscal.Sale{s}, fiscal.OpeningBalances{})

	// THEN: the payment list is ignored
	assertDec(t, "0", tr.USDCash.Inflow)
	assertDec(t, "50", tr.Credit)
}

func TestTreasury_ZeroDebtCreditSale(t *testing.T) {
	// GIVEN: credit sales without a debt figure
	unknown := sale("s1", "20")
	unknown.IsCredit = true

	paid := sale("s2", "20")
	paid.IsCredit = true
	paid.FullyPaid = true
	paid.Payments = []fiscal.Payment{usdCash("20")}

	// THEN: zero debt counts as full credit unless the sale says it was paid
	assert.True(t, fiscal.IsFullCredit(unknown))
	assert.False(t, fiscal.IsFullCredit(paid))

	tr := fiscal.ComputeTreasuryQuadrants([]fiscal.Sale{unknown, paid}, fiscal.OpeningBalances{})
	assertDec(t, "20", tr.Credit)
	assertDec(t, "20", tr.USDCash.Inflow)
}

func TestTreasury_PartialCredit(t *testing.T) {
	// GIVEN: 50 sale, 20 paid in cash, 30 on credit
	s := sale("s1", "50")
	s.IsCredit = true
	s.OutstandingDebt = d("30")
	s.Payments = []fiscal.Payment{usdCash("20"), pay("30", money.USD, fiscal.MediumCredit)}

	tr := fiscal.ComputeTreasuryQuadrants([]fiscal.Sale{s}, fiscal.OpeningBalances{})

	assertDec(t, "20", tr.USDCash.Inflow)
	assertDec(t, "30", tr.Credit, "residual counted once")
}

func TestTreasury_DebtCollectionIsInflow(t *testing.T) {
	// GIVEN: a 30 USD debt collection
	c := sale("c1", "30")
	c.Kind = fiscal.KindDebtCollection
	c.Payments = []fiscal.Payment{usdCash("30")}

	tr := fiscal.ComputeTreasuryQuadrants([]fiscal.Sale{c}, fiscal.OpeningBalances{})

	// THEN: cash comes in and the receivables bucket shrinks
	assertDec(t, "30", tr.USDCash.Inflow)
	assertDec(t, "-30", tr.Credit)
	assertDec(t, "30", tr.DebtCollected)
}

func TestTreasury_ChangeEvents(t *testing.T) {
	// GIVEN: 20 USD paid for 12.50, change 5 USD cash and 94.5 VES cash
	s := sale("s1", "12.5")
	s.ExchangeRate = d("37.8")
	s.Payments = []fiscal.Payment{usdCash("20")}
	s.ChangeEvents = []fiscal.ChangeEvent{
		{Amount: d("5"), Currency: money.USD, Medium: fiscal.MediumCash},
		{Amount: d("94.5"), Currency: money.VES, Medium: fiscal.MediumCash},
		{Amount: d("1"), Currency: money.USD, Medium: fiscal.MediumWallet},
	}

	tr := fiscal.ComputeTreasuryQuadrants([]fiscal.Sale{s}, fiscal.OpeningBalances{})

	assertDec(t, "5", tr.USDCash.Outflow)
	assertDec(t, "94.5", tr.VESCash.Outflow)
	assertDec(t, "15", tr.USDCash.Final())
	assertDec(t, "-94.5", tr.VESCash.Final())
}

func TestTreasury_ChangeEventDefaultsToUSDCash(t *testing.T) {
	s := sale("s1", "8")
	s.Payments = []fiscal.Payment{pay("10", money.USD, fiscal.MediumDigital)}
	s.ChangeEvents = []fiscal.ChangeEvent{{Amount: d("2")}}

	tr := fiscal.ComputeTreasuryQuadrants([]fiscal.Sale{s}, fiscal.OpeningBalances{})

	assertDec(t, "2", tr.USDCash.Outflow)
	assertDec(t, "0", tr.USDDigital.Outflow)
}

func TestTreasury_LegacyChange(t *testing.T) {
	tests := []struct {
		name   string
		change fiscal.LegacyChange
		usdOut string
		vesOut string
	}{
		{"usd hint", fiscal.LegacyChange{Amount: d("3"), USD: d("3")}, "3", "0"},
		{"ves hint", fiscal.LegacyChange{Amount: d("3"), VES: d("111")}, "0", "111"},
		{"split", fiscal.LegacyChange{Amount: d("3"), USD: d("2"), VES: d("37")}, "2", "37"},
		{"no hint", fiscal.LegacyChange{Amount: d("3")}, "3", "0"},
		{"redirected", fiscal.LegacyChange{Amount: d("3"), USD: d("3"), Redirected: true}, "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: a digital payment with legacy change
			s := sale("s1", "7")
			s.Payments = []fiscal.Payment{vesDigital("370")}
			lc := tt.change
			s.LegacyChange = &lc

			tr := fiscal.ComputeTreasuryQuadrants([]fiscal.Sale{s}, fiscal.OpeningBalances{})

			// THEN: change only ever leaves a cash quadrant
			assertDec(t, tt.usdOut, tr.USDCash.Outflow)
			assertDec(t, tt.vesOut, tr.VESCash.Outflow)
			assertDec(t, "0", tr.VESDigital.Outflow)
		})
	}
}

func TestTreasury_RedirectedChangeGoesToStoreCredit(t *testing.T) {
	s := sale("s1", "18")
	s.Payments = []fiscal.Payment{usdCash("20")}
	s.AppliedToStoreCredit = d("2")

	tr := fiscal.ComputeTreasuryQuadrants([]fiscal.Sale{s}, fiscal.OpeningBalances{})

	assertDec(t, "0", tr.USDCash.Outflow)
	assertDec(t, "2", tr.AppliedToStoreCredit)
}

func TestTreasury_SkipsVoided(t *testing.T) {
	s := sale("s1", "10")
	s.Status = fiscal.StatusVoided
	s.Payments = []fiscal.Payment{usdCash("10")}

	tr := fiscal.ComputeTreasuryQuadrants([]fiscal.Sale{s}, fiscal.OpeningBalances{USDCash: d("100")})

	assertDec(t, "100", tr.USDCash.Final())
	assertDec(t, "0", tr.USDCash.Inflow)
}

func TestTreasury_ObserverSeesLegacyLabels(t *testing.T) {
	// GIVEN: one explicit payment and two label-only payments
	s := sale("s1", "60")
	s.Payments = []fiscal.Payment{
		usdCash("20"),
		{Amount: d("20"), Method: "Zelle"},
		{Amount: d("740"), Method: "Pago Móvil"},
	}
	obs := &recordingObserver{}

	// WHEN
	acc := fiscal.NewTreasuryAccumulator(fiscal.OpeningBalances{}, obs)
	acc.Add(s)
	tr := acc.Result()

	// THEN
	assert.Equal(t, []string{"Zelle", "Pago Móvil"}, obs.labels)
	assert.Equal(t, 2, tr.LegacyClassified)
	assertDec(t, "20", tr.USDDigital.Inflow)
	assertDec(t, "740", tr.VESDigital.Inflow)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestTreasury_Conservation(t *testing.T) {
	// GIVEN: one shift at a single rate mixing every way money moves
	rate := d("40")
	opening := fiscal.OpeningBalances{USDCash: d("100"), VESCash: d("2000"), VESDigital: d("400")}

	// $20 cash for 12.5: $5 back in hand, 2.5 kept as store credit
	split := sale("s1", "12.5")
	split.Payments = []fiscal.Payment{usdCash("20")}
	split.ChangeEvents = []fiscal.ChangeEvent{
		{Amount: d("5"), Currency: money.USD, Medium: fiscal.MediumCash},
		{Amount: d("2.5"), Currency: money.USD, Medium: fiscal.MediumWallet},
	}
	split.AppliedToStoreCredit = d("2.5")

	// $40 cash for 30: change handed back as Bs 400 (legacy shape)
	bolivarChange := sale("s2", "30")
	bolivarChange.Payments = []fiscal.Payment{usdCash("40")}
	bolivarChange.LegacyChange = &fiscal.LegacyChange{Amount: d("10"), VES: d("400")}

	// 50 sale, Bs 1200 paid now, 20 on account
	partial := sale("s3", "50")
	partial.IsCredit = true
	partial.OutstandingDebt = d("20")
	partial.Payments = []fiscal.Payment{vesDigital("1200"), pay("20", money.USD, fiscal.MediumCredit)}

	// 80 entirely on account
	full := sale("s4", "80")
	full.IsCredit = true
	full.OutstandingDebt = d("80")
	full.Payments = []fiscal.Payment{pay("80", money.USD, fiscal.MediumCredit)}

	// $15 cash for 10, the whole change redirected to store credit
	redirected := sale("s5", "10")
	redirected.Payments = []fiscal.Payment{usdCash("15")}
	redirected.LegacyChange = &fiscal.LegacyChange{Amount: d("5"), Redirected: true}
	redirected.AppliedToStoreCredit = d("5")

	sales := []fiscal.Sale{split, bolivarChange, partial, full, redirected}
	for i := range sales {
		sales[i].ExchangeRate = rate
	}

	// Figures taken from the raw records, in USD at 40:
	//   opening   100 + 2000/40 + 400/40                 = 160
	//   tendered  20 + 40 + 1200/40 + 15                 = 105
	//   change    (20-12.5) + (40-30) + (15-10)          = 22.5
	//   redirected to store credit  2.5 + 5              = 7.5
	//   change that left the register  22.5 - 7.5       = 15
	openingUSD, tendered, changeDue, toStoreCredit := d("160"), d("105"), d("22.5"), d("7.5")
	physicalOut := changeDue.Sub(toStoreCredit)

	// WHEN
	tr := fiscal.ComputeTreasuryQuadrants(sales, opening)

	// THEN: total final = opening + physical inflow - physical change
	assertDec(t, "250", openingUSD.Add(tendered).Sub(physicalOut))
	assertDec(t, "250", tr.TotalUSD(rate))

	// AND: redirected change is neither inflow nor outflow
	open, in, out := tr.FlowUSD(rate)
	assertDec(t, openingUSD.String(), open)
	assertDec(t, tendered.String(), in)
	assertDec(t, physicalOut.String(), out)
	assertDec(t, toStoreCredit.String(), tr.AppliedToStoreCredit)

	// AND: credit moved no money
	assertDec(t, "100", tr.Credit)
	assertDec(t, "0", tr.USDDigital.Final())

	// AND: per quadrant
	assertDec(t, "170", tr.USDCash.Final())
	assertDec(t, "1600", tr.VESCash.Final())
	assertDec(t, "1600", tr.VESDigital.Final())
	for _, q := range fiscal.AllQuadrants {
		tq := tr.Quadrant(q)
		assert.True(t, tq.Opening.Add(tq.Inflow).Sub(tq.Outflow).Equal(tq.Final()), string(q))
	}
}

func TestTreasury_Idempotent(t *testing.T) {
	s := sale("s1", "12.5")
	s.Payments = []fiscal.Payment{usdCash("20"), {Amount: d("5"), Method: "Efectivo Bs"}}
	sales := []fiscal.Sale{s}
	opening := fiscal.OpeningBalances{USDCash: d("10")}

	assert.Equal(t,
		fiscal.ComputeTreasuryQuadrants(sales, opening),
		fiscal.ComputeTreasuryQuadrants(sales, opening))
}
