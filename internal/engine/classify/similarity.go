package classify

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// nearMatchThreshold is the per-token similarity above which two tokens are
// treated as the same word (catching typos and plural/singular drift).
const nearMatchThreshold = 0.85

// tokenSimilarity computes a Jaccard-style overlap between the token sets
// of text and phrase, where tokens count as shared when their normalized
// Levenshtein similarity is at least nearMatchThreshold. The denominator is
// the phrase's token count so long surrounding text does not dilute a
// fully-present phrase.
func tokenSimilarity(text, phrase string) float64 {
	phraseTokens := tokenize(phrase)
	if len(phraseTokens) == 0 {
		return 0
	}
	textTokens := tokenize(text)
	if len(textTokens) == 0 {
		return 0
	}

	matched := 0
	for _, pt := range phraseTokens {
		for _, tt := range textTokens {
			if tokensNearMatch(pt, tt) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(phraseTokens))
}

func tokensNearMatch(a, b string) bool {
	if a == b {
		return true
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return false
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1-float64(dist)/float64(longest) >= nearMatchThreshold
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return false
		default:
			return true
		}
	})
}
