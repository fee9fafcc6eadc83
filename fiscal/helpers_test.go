package fiscal_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fenixpos/fiscal-engine/fiscal"
	"github.com/fenixpos/fiscal-engine/money"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var sixteen = decimal.NewFromInt(16)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

// assertDec compares decimals by value ("100" equals "100.00").
func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func sale(id, total string) fiscal.Sale {
	return fiscal.Sale{
		ID:         fiscal.SaleID(id),
		At:         t0,
		RegisterID: "caja-1",
		Total:      d(total),
		Status:     fiscal.StatusCompleted,
		Kind:       fiscal.KindSale,
	}
}

func pay(amount string, c money.Currency, m fiscal.Medium) fiscal.Payment {
	return fiscal.Payment{Amount: d(amount), Currency: c, Medium: m}
}

func usdCash(amount string) fiscal.Payment { return pay(amount, money.USD, fiscal.MediumCash) }

func vesDigital(amount string) fiscal.Payment { return pay(amount, money.VES, fiscal.MediumDigital) }

// recordingObserver collects legacy classifications.
type recordingObserver struct {
	labels []string
}

func (o *recordingObserver) OnLegacyClassification(_ fiscal.SaleID, label string, _ fiscal.Quadrant) {
	o.labels = append(o.labels, label)
}
