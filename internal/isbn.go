package internal

import (
	"strings"

	"github.com/blampe/isbn"
)

// DigitsOnly strips everything but the digits (and the trailing "X" check
// digit ISBN-10 allows) out of a raw ISBN string, for use in cache keys
// for the {digits(isbn)} cache-key segment.
func DigitsOnly(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' || r == 'X' || r == 'x' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidISBN reports whether raw is a checksum-valid ISBN-10 or ISBN-13
// (9780439708180 is valid, 9780439708181 is not). isbn.Parse both
// shape- and checksum-validates;
// a non-nil error means raw is not a real ISBN.
func ValidISBN(raw string) bool {
	digits := DigitsOnly(raw)
	if len(digits) != 10 && len(digits) != 13 {
		return false
	}
	parsed, err := isbn.Parse(digits)
	return err == nil && parsed != nil
}

// FilterValidISBNs drops checksum-invalid candidates rather than faking
// them.
func FilterValidISBNs(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if ValidISBN(c) {
			out = append(out, c)
		}
	}
	return out
}
