package redact

import "regexp"

// Layer 5: final sweep over mixed alphanumeric tokens.

var (
	mixedTokenRe = regexp.MustCompile(`\b[A-Za-z0-9][A-Za-z0-9\-_./]*[A-Za-z0-9]\b`)
	ordinalRe    = regexp.MustCompile(`(?i)^\d+(?:st|nd|rd|th)$`)
)

// redactMixedTokens replaces any word containing both letters and digits with
// [TOKEN], preserving ordinals, placeholders and bracketed content.
func redactMixedTokens(text string) (string, Counts) {
	counts := Counts{}
	guard := bracketSpans(text)
	valid := func(t string, start, end int) bool {
		if overlapsAny(guard, start, end) {
			return false
		}
		token := t[start:end]
		if ordinalRe.MatchString(token) {
			return false
		}
		hasLetter, hasDigit := false, false
		for i := 0; i < len(token); i++ {
			c := token[i]
			switch {
			case isDigitByte(c):
				hasDigit = true
			case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
				hasLetter = true
			}
		}
		return hasLetter && hasDigit
	}
	var n int
	text, n = replaceMatches(text, mixedTokenRe, "[TOKEN]", valid)
	counts.add("TOKEN", n)
	return text, counts
}
