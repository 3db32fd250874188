// Package textnorm normalises user-entered text before it is compared or stored
// as a lookup key.
package textnorm

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Clean trims the value, collapses inner whitespace and applies NFC.
func Clean(value string) string {
	return norm.NFC.String(strings.Join(strings.Fields(value), " "))
}

// Fold returns the case-folded form of Clean(value). Casers keep state, so a new
// one is built per call.
func Fold(value string) string {
	return cases.Fold().String(Clean(value))
}

func FoldAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, Fold(v))
	}
	return out
}
