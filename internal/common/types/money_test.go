package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestValidCurrency(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{CurrencyEUR, true},
		{CurrencyUSD, true},
		{CurrencyGBP, true},
		{"eur", false},
		{"EURO", false},
		{"EU", false},
		{"E1R", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			require.Equal(t, tt.valid, ValidCurrency(tt.code))
		})
	}
}

func TestValidAmountScale(t *testing.T) {
	require.True(t, ValidAmountScale(decimal.RequireFromString("10")))
	require.True(t, ValidAmountScale(decimal.RequireFromString("10.0001")))
	require.False(t, ValidAmountScale(decimal.RequireFromString("10.00001")))
}
