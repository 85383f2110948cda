package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatMoney formats a dollar amount with thousands separators ($1,234,567.89).
func FormatMoney(amount float64) string {
	negative := amount < 0
	amount = math.Abs(amount)

	intPart := int64(amount)
	dec := amount - float64(intPart)

	formatted := groupThousands(intPart) + fmt.Sprintf("%.2f", dec)[1:]

	if negative {
		return "-$" + formatted
	}
	return "$" + formatted
}

// FormatMoneyCompact formats a dollar amount in compact notation.
// e.g. 1_234_567 → "$1.23M", 2_500_000_000_000 → "$2.50T"
func FormatMoneyCompact(amount float64) string {
	negative := amount < 0
	amount = math.Abs(amount)

	prefix := "$"
	if negative {
		prefix = "-$"
	}

	switch {
	case amount >= 1e12:
		return fmt.Sprintf("%s%.2fT", prefix, amount/1e12)
	case amount >= 1e9:
		return fmt.Sprintf("%s%.2fB", prefix, amount/1e9)
	case amount >= 1e6:
		return fmt.Sprintf("%s%.2fM", prefix, amount/1e6)
	case amount >= 1e3:
		return fmt.Sprintf("%s%.2fK", prefix, amount/1e3)
	default:
		return fmt.Sprintf("%s%.2f", prefix, amount)
	}
}

// FormatQty formats a share/contract quantity with thousands separators.
func FormatQty(qty int) string {
	negative := qty < 0
	if negative {
		qty = -qty
	}
	s := groupThousands(int64(qty))
	if negative {
		return "-" + s
	}
	return s
}

// FormatPct formats a percentage with a leading sign (+1.42%).
func FormatPct(pct float64) string {
	if pct >= 0 {
		return fmt.Sprintf("+%.2f%%", pct)
	}
	return fmt.Sprintf("%.2f%%", pct)
}

// groupThousands inserts commas every three digits.
func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
