// README: Common money value object used across modules (decimal, never float).
package types

import (
	"github.com/shopspring/decimal"
)

// CurrencyScale is the number of fractional digits kept for currency amounts.
const CurrencyScale = 2

type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// RoundCurrency rounds half away from zero to cents.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyScale)
}

// FormatAmount renders an amount with exactly two fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(CurrencyScale)
}

func (m Money) String() string {
	if m.Currency == "" {
		return FormatAmount(m.Amount)
	}
	return FormatAmount(m.Amount) + " " + m.Currency
}
