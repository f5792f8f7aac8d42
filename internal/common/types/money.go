package types

import (
	"github.com/shopspring/decimal"
)

// Common currency codes
const (
	// CurrencyEUR is the ISO 4217 code for Euro.
	CurrencyEUR = "EUR"
	// CurrencyUSD is the ISO 4217 code for US Dollar.
	CurrencyUSD = "USD"
	// CurrencyGBP is the ISO 4217 code for British Pound.
	CurrencyGBP = "GBP"
)

// MaxAmountScale is the maximum number of fractional digits a monetary
// amount may carry. Amounts are stored as DECIMAL(19,4); anything finer
// would be silently rounded by the database, so it is rejected up front.
const MaxAmountScale = 4

// ValidCurrency reports whether code is a three-letter uppercase currency tag.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// ValidAmountScale reports whether the amount fits within MaxAmountScale
// fractional digits.
func ValidAmountScale(amount decimal.Decimal) bool {
	return amount.Exponent() >= -MaxAmountScale
}
