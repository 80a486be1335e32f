package billing

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.Korean)

// FormatAmount renders a won amount with thousands grouping, e.g. "8,450".
func FormatAmount(d decimal.Decimal) string {
	return amountPrinter.Sprintf("%d", d.Round(0).IntPart())
}

// FormatUsage renders a kWh quantity with grouping and one decimal place.
func FormatUsage(d decimal.Decimal) string {
	return amountPrinter.Sprintf("%.1f", d.InexactFloat64())
}
