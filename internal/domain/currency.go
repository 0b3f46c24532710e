package domain

import (
	"regexp"
	"strings"
)

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// NormalizeCurrency uppercases s and reports whether the result is a
// 3-letter code. Symbols such as "€" or "Rs." are not codes.
func NormalizeCurrency(s string) (string, bool) {
	c := strings.ToUpper(strings.TrimSpace(s))
	return c, currencyCode.MatchString(c)
}
