package redact

import (
	"math"
	"regexp"
	"strings"
)

// Layer 3: keys and secrets.

const secretEntropyThreshold = 3.2

var (
	jwtRe     = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]{10,}\.eyJ[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9_-]{10,}`)
	stripeRe  = regexp.MustCompile(`(?:sk|pk)_(?:live|test)_[a-zA-Z0-9]{20,40}`)
	awsKeyRe  = regexp.MustCompile(`AKIA[0-9A-Z]{16}`)
	uuidKeyRe = regexp.MustCompile(`[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}`)
	licenseRe = regexp.MustCompile(`(?:[A-Z0-9]{4,6}-){3,}[A-Z0-9]{4,6}`)
	apiKeyRe  = regexp.MustCompile(`(?i)\bapi[_-]?key\b\s*[:=]\s*['"]?([a-zA-Z0-9_\-]{20,})['"]?`)

	genericSecretRe = regexp.MustCompile(`[A-Za-z0-9_\-+/=]{24,}`)

	lhsSecretLineRe = regexp.MustCompile(`(?im)^[ \t]*["']?([A-Za-z0-9_.\-]*(?:key|secret|token|password|passwd|pwd|bearer|oauth|client[_-]?secret|api[_-]?key|access[_-]?key|private[_-]?key|service[_-]?account|refresh[_-]?token|auth)[A-Za-z0-9_.\-]*)["']?[ \t]*(?:[:=][ \t]*(?:(\[(?:JWT|STRIPE_KEY|AWS_KEY_ID|UUID|LICENSE_KEY|API_KEY|SECRET)\])|([^,\n\r]*))?)?([ \t]*,?)$`)
)

type keyPattern struct {
	name        string
	re          *regexp.Regexp
	placeholder string
}

var keyOrder = []keyPattern{
	{"JWT", jwtRe, "[JWT]"},
	{"STRIPE_KEY", stripeRe, "[STRIPE_KEY]"},
	{"AWS_KEY_ID", awsKeyRe, "[AWS_KEY_ID]"},
	{"UUID", uuidKeyRe, "[UUID]"},
	{"LICENSE_KEY", licenseRe, "[LICENSE_KEY]"},
}

// redactSecrets applies Layer 3 to one text: named key patterns, the
// api_key assignment form, the generic high-entropy sweep, and finally the
// key-named LHS line rewrite.
func redactSecrets(text string) (string, Counts) {
	counts := Counts{}

	notWordAdjacent := func(t string, start, end int) bool {
		if strings.ContainsAny(t[start:end], "[]") {
			return false
		}
		if start > 0 && isWordByte(t[start-1]) {
			return false
		}
		if end < len(t) && isWordByte(t[end]) {
			return false
		}
		return true
	}
	for _, p := range keyOrder {
		var n int
		text, n = replaceMatches(text, p.re, p.placeholder, notWordAdjacent)
		counts.add(p.name, n)
	}

	text, n := replaceAPIKeyValues(text)
	counts.add("API_KEY", n)

	text, n = replaceHighEntropyTokens(text)
	counts.add("SECRET", n)

	text = lhsSecretLineRe.ReplaceAllString(text, "[SECRET] = [SECRET]$4")

	return text, counts
}

// replaceAPIKeyValues rewrites only the value group of `api_key = ...`
// assignments, keeping the key name visible.
func replaceAPIKeyValues(text string) (string, int) {
	matches := apiKeyRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, 0
	}
	var b []byte
	prev, count := 0, 0
	for _, m := range matches {
		vs, ve := m[2], m[3]
		if vs < 0 || strings.ContainsAny(text[vs:ve], "[]") {
			continue
		}
		b = append(b, text[prev:vs]...)
		b = append(b, "[API_KEY]"...)
		prev = ve
		count++
	}
	if count == 0 {
		return text, 0
	}
	b = append(b, text[prev:]...)
	return string(b), count
}

// replaceHighEntropyTokens sweeps long base64-ish tokens whose Shannon
// entropy crosses the threshold. All-digit tokens and anything touching a
// bracket are exempt.
func replaceHighEntropyTokens(text string) (string, int) {
	valid := func(t string, start, end int) bool {
		if start > 0 {
			c := t[start-1]
			if c == '[' || isSecretTokenByte(c) {
				return false
			}
		}
		if end < len(t) && isSecretTokenByte(t[end]) {
			return false
		}
		token := t[start:end]
		if strings.ContainsAny(token, "[]") {
			return false
		}
		if isAllDigits(token) {
			return false
		}
		return shannonEntropy(token) >= secretEntropyThreshold
	}
	return replaceMatches(text, genericSecretRe, "[SECRET]", valid)
}

func isSecretTokenByte(c byte) bool {
	return isWordByte(c) || c == '-' || c == '+' || c == '/' || c == '='
}

func isAllDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigitByte(s[i]) {
			return false
		}
	}
	return len(s) > 0
}

// shannonEntropy returns bits per character.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := map[rune]int{}
	n := 0
	for _, r := range s {
		freq[r]++
		n++
	}
	var h float64
	for _, c := range freq {
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}
