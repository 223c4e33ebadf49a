package redact

import "regexp"

// Layer 4: money first, then numbers. Ordinals and anything inside brackets
// are preserved.

var (
	moneyRe     = regexp.MustCompile(`(?i)(?:USD|EUR|GBP|\$|€|£)\s*\d[\d,]*(?:\.\d+)?(?:K|M|B)?`)
	quantityRe  = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?[KMB]\b`)
	percentRe   = regexp.MustCompile(`\b(\d+(?:\.\d+)?)%`)
	plainNumRe  = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
)

// redactMoneyAndNumbers applies Layer 4 to one text.
func redactMoneyAndNumbers(text string) (string, Counts) {
	counts := Counts{}
	guard := bracketSpans(text)
	outsideBrackets := func(t string, start, end int) bool {
		return !overlapsAny(guard, start, end)
	}

	var n int
	text, n = replaceMatches(text, moneyRe, "[MONEY]", outsideBrackets)
	counts.add("MONEY", n)

	// quantity-suffixed numbers keep their suffix: 100K -> [NUM]K
	guard = bracketSpans(text)
	text, n = replaceQuantities(text, guard)
	counts.add("NUM", n)

	guard = bracketSpans(text)
	text, n = replacePercentOperands(text, guard)
	counts.add("NUM", n)

	guard = bracketSpans(text)
	text, n = replaceMatches(text, plainNumRe, "[NUM]", func(t string, start, end int) bool {
		return !overlapsAny(guard, start, end)
	})
	counts.add("NUM", n)

	return text, counts
}

func replaceQuantities(text string, guard []span) (string, int) {
	matches := quantityRe.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text, 0
	}
	var b []byte
	prev, count := 0, 0
	for _, m := range matches {
		if overlapsAny(guard, m[0], m[1]) {
			continue
		}
		suffix := text[m[1]-1]
		b = append(b, text[prev:m[0]]...)
		b = append(b, "[NUM]"...)
		b = append(b, suffix)
		prev = m[1]
		count++
	}
	if count == 0 {
		return text, 0
	}
	b = append(b, text[prev:]...)
	return string(b), count
}

func replacePercentOperands(text string, guard []span) (string, int) {
	matches := percentRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, 0
	}
	var b []byte
	prev, count := 0, 0
	for _, m := range matches {
		vs, ve := m[2], m[3]
		if overlapsAny(guard, vs, ve) {
			continue
		}
		b = append(b, text[prev:vs]...)
		b = append(b, "[NUM]"...)
		prev = ve
		count++
	}
	if count == 0 {
		return text, 0
	}
	b = append(b, text[prev:]...)
	return string(b), count
}
