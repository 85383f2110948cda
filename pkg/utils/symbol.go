// Package utils provides common utility functions for FinSage.
package utils

import (
	"regexp"
	"strings"
)

var symbolPattern = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z]{1,2})?$`)

// NormalizeSymbol normalizes a user-input symbol: trims whitespace,
// uppercases, and strips the $ prefix common in chat ("$AAPL").
func NormalizeSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))
	symbol = strings.TrimPrefix(symbol, "$")
	return symbol
}

// IsValidSymbol reports whether s looks like a US equity ticker:
// 1-5 uppercase letters with an optional class suffix (BRK.B).
func IsValidSymbol(s string) bool {
	return symbolPattern.MatchString(s)
}
