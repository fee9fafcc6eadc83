package fiscal

import (
	"github.com/fenixpos/fiscal-engine/money"
	"github.com/shopspring/decimal"
)

// CustomerBalance is what the business owes a customer (StoreCredit) or the
// customer owes the business (Debt). After ApplyCustomerUpdate at most one of
// the two is positive.
type CustomerBalance struct {
	Debt        decimal.Decimal `json:"debt"`
	StoreCredit decimal.Decimal `json:"storeCredit"`
}

// ApplyCustomerUpdate applies one sale to a customer balance:
//  1. walletUsed is taken from store credit (never below zero)
//  2. newDebt is added to debt
//  3. changeToWallet pays down debt first; the remainder becomes store credit
//  4. debt and store credit are netted against each other
//
// Negative arguments are ignored. Results are rounded to cents.
func ApplyCustomerUpdate(b CustomerBalance, newDebt, changeToWallet, walletUsed decimal.Decimal) CustomerBalance {
	debt, credit := b.Debt, b.StoreCredit

	if walletUsed.IsPositive() {
		credit = decimal.Max(decimal.Zero, credit.Sub(walletUsed))
	}

	if newDebt.IsPositive() {
		debt = debt.Add(newDebt)
	}

	if changeToWallet.IsPositive() {
		switch {
		case !debt.IsPositive():
			credit = credit.Add(changeToWallet)
		case debt.GreaterThanOrEqual(changeToWallet):
			debt = debt.Sub(changeToWallet)
		default:
			credit = credit.Add(changeToWallet.Sub(debt))
			debt = decimal.Zero
		}
	}

	if debt.IsPositive() && credit.IsPositive() {
		net := credit.Sub(debt)
		if net.Sign() >= 0 {
			credit, debt = net, decimal.Zero
		} else {
			credit, debt = decimal.Zero, net.Abs()
		}
	}

	return CustomerBalance{Debt: money.Round2(debt), StoreCredit: money.Round2(credit)}
}
