// Package domain holds the core ledger entities and value types shared by
// every service in the order router: users, holdings, orders, fills, audit
// records, and the fixed-point money helpers everything else is built on.
package domain

import "github.com/shopspring/decimal"

// CashScale and PriceScale are the fixed decimal places the ledger
// guarantees for currency and price/average fields respectively. Nothing
// downstream should round to a different scale.
const (
	CashScale  = 2
	PriceScale = 4
)

// RoundCash rounds d to CashScale places using banker's rounding.
func RoundCash(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(CashScale)
}

// RoundPrice rounds d to PriceScale places using banker's rounding.
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(PriceScale)
}

// Zero is the canonical zero-value decimal, exported so callers don't
// sprinkle decimal.NewFromInt(0) everywhere.
var Zero = decimal.Zero

// ClampNonNegative returns d if it is >= 0, otherwise zero. Used when a
// subtraction could in principle underflow by a sub-unit rounding residue.
func ClampNonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return Zero
	}
	return d
}
