package factory

import (
	"fmt"

	"github.com/fenixpos/fiscal-engine/fiscal"
)

// DecodeOpening reads opening balances from a register state in any of
// the shapes it has been stored in, newest first:
//
//	{"balancesApertura": {"usdCash": 100, "vesCash": 0, ...}}  snapshot
//	{"balances": {...}, "usdCash": 100}                         live balances
//	{"usdCash": "100", "usdDigital": "0", ...}                 current
//	{"montoInicial": 100}                                       USD cash only
//
// Missing quadrants are zero.
func DecodeOpening(data []byte) (fiscal.OpeningBalances, error) {
	r, err := parseRecord(data)
	if err != nil {
		return fiscal.OpeningBalances{}, fmt.Errorf("decode opening: %w", err)
	}
	return openingFrom(r), nil
}

func openingFrom(r record) fiscal.OpeningBalances {
	if snap := r.obj("balancesApertura"); snap != nil {
		return quadrantsOf(snap)
	}
	if live := r.obj("balances"); live != nil {
		o := quadrantsOf(live)
		if !live.has("usdCash") {
			o.USDCash = r.dec("usdCash")
		}
		if !live.has("vesCash") {
			o.VESCash = r.dec("vesCash")
		}
		return o
	}
	if r.has("usdCash", "usdDigital", "vesCash", "vesDigital") {
		return quadrantsOf(r)
	}
	return fiscal.OpeningBalances{USDCash: r.dec("montoInicial")}
}

func quadrantsOf(r record) fiscal.OpeningBalances {
	return fiscal.OpeningBalances{
		USDCash:    r.dec("usdCash"),
		USDDigital: r.dec("usdDigital"),
		VESCash:    r.dec("vesCash"),
		VESDigital: r.dec("vesDigital"),
	}
}
