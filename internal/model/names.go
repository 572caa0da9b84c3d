package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName trims surrounding whitespace and converts s to Unicode NFC,
// so visually identical names compare equal in unique indexes.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
