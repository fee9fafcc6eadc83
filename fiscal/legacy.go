package fiscal

import (
	"strings"
	"unicode"

	"github.com/fenixpos/fiscal-engine/money"
)

// =============================================================================
// LEGACY PAYMENT ADAPTER
// =============================================================================
//
// Records written before payments carried an explicit {currency, medium}
// only have the cashier-facing label ("Zelle", "Pago Móvil", "Efectivo Bs").
// This file is the only place that looks at that text. The engines call
// ClassifyPayment and never branch on labels themselves.

var (
	usdDigitalKeywords = []string{"zelle", "binance", "panam", "zinli", "paypal", "usdt"}
	vesDigitalKeywords = []string{"pago móvil", "pago movil", "punto", "biopago", "transferencia"}
	creditKeywords     = []string{"crédito", "credito", "fiado"}
	cashKeywords       = []string{"efectivo", "cash"}
	cardKeywords       = []string{"tarjeta", "digital", "card"}
)

// ClassifyLegacyMethod guesses currency and medium from a payment label.
// It always succeeds; unknown labels default to USD cash.
func ClassifyLegacyMethod(label string) (money.Currency, Medium) {
	m := strings.ToLower(strings.TrimSpace(label))

	switch {
	case containsAny(m, creditKeywords):
		return money.USD, MediumCredit
	case containsAny(m, usdDigitalKeywords):
		return money.USD, MediumDigital
	case containsAny(m, vesDigitalKeywords):
		return money.VES, MediumDigital
	}

	cash := containsAny(m, cashKeywords)
	if mentionsBolivars(m) {
		if cash {
			return money.VES, MediumCash
		}
		return money.VES, MediumDigital
	}
	if !cash && containsAny(m, cardKeywords) {
		return money.USD, MediumDigital
	}
	return money.USD, MediumCash
}

// ClassifyPayment returns the payment's currency and medium. Explicit fields
// win; missing ones are filled from the label. legacy is true when any part
// came from the heuristic.
func ClassifyPayment(p Payment) (c money.Currency, m Medium, legacy bool) {
	if p.Explicit() {
		return p.Currency, p.Medium, false
	}
	c, m = ClassifyLegacyMethod(p.Method)
	if p.Currency != "" {
		c = p.Currency
	}
	if p.Medium != "" {
		m = p.Medium
	}
	return c, m, true
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// mentionsBolivars matches "bs", "bs.", "ves" or "bolívar(es)" as whole words.
func mentionsBolivars(s string) bool {
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, t := range tokens {
		if t == "bs" || t == "ves" || strings.HasPrefix(t, "bolívar") || strings.HasPrefix(t, "bolivar") {
			return true
		}
	}
	return false
}
