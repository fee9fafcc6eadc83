/*
Package money is the decimal arithmetic layer of the fiscal engine.

PURPOSE:
  Every monetary accumulation, comparison and conversion in the engine goes
  through decimal.Decimal. Binary floating point never touches an amount:
  values that arrive as float64 (legacy JSON) are converted once, at the
  boundary, and stay decimal from then on.

KEY CONCEPTS:
  - Amount:   a decimal value tagged with its currency (USD or VES)
  - Lenient:  parsing helpers that default to zero instead of failing
  - Rate:     VES per USD, always the rate snapshotted on the sale

ROUNDING:
  Aggregations are carried at full precision. Rounding to cents happens only
  when a figure is presented (Corte fiscal block, chart values) using
  half-away-from-zero, which is what decimal.Round does.

USAGE:
  total := money.Parse("116")
  net, tax := money.BackOutTax(total, money.Parse("16"))
  // net = 100, tax = 16
*/
package money

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY
// =============================================================================

type Currency string

const (
	USD Currency = "USD"
	VES Currency = "VES"
)

// ParseCurrency accepts the spellings found in stored records.
// The second result is false when the value does not name a currency.
func ParseCurrency(s string) (Currency, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "USD", "DIVISA", "$":
		return USD, true
	case "VES", "BS", "BS.", "VEF":
		return VES, true
	}
	return "", false
}

// =============================================================================
// AMOUNT - Value with currency
// =============================================================================

type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewAmount(value decimal.Decimal, currency Currency) Amount {
	return Amount{Value: value, Currency: currency}
}

func (a Amount) Add(b decimal.Decimal) Amount { return Amount{Value: a.Value.Add(b), Currency: a.Currency} }
func (a Amount) Sub(b decimal.Decimal) Amount { return Amount{Value: a.Value.Sub(b), Currency: a.Currency} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Currency: a.Currency} }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }

// InUSD converts the amount using rate (VES per USD).
// A missing or non-positive rate converts VES to zero rather than failing.
func (a Amount) InUSD(rate decimal.Decimal) decimal.Decimal {
	if a.Currency == VES {
		return ToUSD(a.Value, rate)
	}
	return a.Value
}

// =============================================================================
// CONSTANTS
// =============================================================================

var (
	Zero    = decimal.Zero
	One     = decimal.NewFromInt(1)
	Hundred = decimal.NewFromInt(100)

	// Epsilon is the tolerance used when comparing audited figures (one cent).
	Epsilon = decimal.New(1, -2)
)

// =============================================================================
// LENIENT PARSING
// =============================================================================

// Parse returns the decimal value of s, or zero if s is empty or malformed.
func Parse(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		// Comma as decimal separator ("12,50").
		if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
			if d, err = decimal.NewFromString(strings.Replace(s, ",", ".", 1)); err == nil {
				return d
			}
		}
		return decimal.Zero
	}
	return d
}

// FromFloat converts a float64, mapping NaN and infinities to zero.
func FromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// FromAny converts a loosely typed JSON value to a decimal.
// Anything that is not a number or a numeric string becomes zero.
func FromAny(v any) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return x
	case float64:
		return FromFloat(x)
	case float32:
		return FromFloat(float64(x))
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	case json.Number:
		return Parse(x.String())
	case string:
		return Parse(x)
	default:
		return decimal.Zero
	}
}

// FromRaw parses a raw JSON token (number or string) leniently.
func FromRaw(raw json.RawMessage) decimal.Decimal {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero
	}
	if unq, err := strconv.Unquote(s); err == nil {
		return Parse(unq)
	}
	return Parse(s)
}

// =============================================================================
// ARITHMETIC HELPERS
// =============================================================================

// SafeDiv returns a/b, or zero when b is zero.
func SafeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}

func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// WithinEpsilon reports whether |a-b| <= eps.
func WithinEpsilon(a, b, eps decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(eps)
}

// ToUSD converts a VES amount at rate (VES per USD).
func ToUSD(ves, rate decimal.Decimal) decimal.Decimal {
	if !rate.IsPositive() {
		return decimal.Zero
	}
	return ves.Div(rate)
}

// ToVES converts a USD amount at rate (VES per USD).
func ToVES(usd, rate decimal.Decimal) decimal.Decimal {
	return usd.Mul(rate)
}

// TaxFactor returns 1 + ratePercent/100.
func TaxFactor(ratePercent decimal.Decimal) decimal.Decimal {
	return One.Add(ratePercent.Div(Hundred))
}

// BackOutTax splits a tax-inclusive gross amount into its base and tax.
// The tax is the remainder of the division, so base+tax == gross exactly.
func BackOutTax(gross, ratePercent decimal.Decimal) (base, tax decimal.Decimal) {
	factor := TaxFactor(ratePercent)
	if !factor.IsPositive() {
		return gross, decimal.Zero
	}
	base = gross.Div(factor)
	return base, gross.Sub(base)
}
