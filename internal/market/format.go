package market

import (
	"strings"

	"github.com/shopspring/decimal"

	"paymesh/internal/domain"
)

// Format renders amount with the market's precision, separators and symbol.
func (r *Registry) Format(amount decimal.Decimal, marketID string) (string, error) {
	m, err := r.Market(marketID)
	if err != nil {
		return "", err
	}
	return formatAmount(amount, m), nil
}

func formatAmount(amount decimal.Decimal, m domain.Market) string {
	negative := amount.IsNegative()
	fixed := amount.Abs().StringFixed(m.DecimalPrecision)

	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	if m.SymbolPosition == domain.SymbolBefore {
		b.WriteString(m.CurrencySymbol)
	}
	b.WriteString(groupThousands(whole, m.ThousandsSeparator))
	if m.DecimalPrecision > 0 {
		b.WriteString(m.DecimalSeparator)
		b.WriteString(frac)
	}
	if m.SymbolPosition == domain.SymbolAfter {
		b.WriteByte(' ')
		b.WriteString(m.CurrencySymbol)
	}
	return b.String()
}

func groupThousands(digits, sep string) string {
	if len(digits) <= 3 {
		return digits
	}

	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
