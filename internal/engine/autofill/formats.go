package autofill

import (
	"fmt"
	"strings"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

// formatVariants returns the bounded list of representations to attempt for
// a value, most faithful first. Non-numeric keys get the raw value only.
func formatVariants(key engine.CanonicalKey, value string) []string {
	switch key {
	case engine.KeyPhone:
		return phoneVariants(value)
	case engine.KeyCreditCard, engine.KeyCVV, engine.KeyPostalCode:
		digits := digitsOnly(value)
		if digits == "" || digits == value {
			return []string{value}
		}
		return []string{value, digits}
	default:
		return []string{value}
	}
}

// phoneVariants builds the masked-input ladder: raw, digits-only, then
// last-10-digit reformattings (dashed, parenthesized, E.164). Duplicates
// are dropped while preserving order.
func phoneVariants(value string) []string {
	variants := []string{value}

	digits := digitsOnly(value)
	if digits != "" {
		variants = append(variants, digits)
	}
	if len(digits) >= 10 {
		last10 := digits[len(digits)-10:]
		variants = append(variants,
			last10,
			fmt.Sprintf("%s-%s-%s", last10[:3], last10[3:6], last10[6:]),
			fmt.Sprintf("(%s) %s-%s", last10[:3], last10[3:6], last10[6:]),
			"+1"+last10,
		)
	}

	return dedupe(variants)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
