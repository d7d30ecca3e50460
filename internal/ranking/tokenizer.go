// Package ranking provides lexical tokenization and query/chunk relevance scoring.
package ranking

import "strings"

// Tokenize lowercases text and returns its maximal runs of ASCII letters and
// digits, in order. Punctuation, whitespace, and non-ASCII characters are
// delimiters and produce no tokens. Deterministic, no side effects.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	var tokens []string
	start := -1
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, lower[start:i])
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, lower[start:])
	}
	return tokens
}

// tokenSet returns the distinct tokens of text as a set.
func tokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}
