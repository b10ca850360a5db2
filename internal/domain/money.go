package domain

import "github.com/shopspring/decimal"

// RoundMoney normalizes a ledger amount to 2 decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MinorUnits converts a ledger amount to integer minor units (cents) for the
// gateway boundary.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
