package redact

import "regexp"

// Layer 1: basic PII via regex, applied in a fixed order so that later
// patterns never re-scan earlier placeholders (no placeholder contains digits,
// '@' or ':').

const monthNames = `January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec`

var (
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	urlRe   = regexp.MustCompile(`(?i)\b(?:https?://[^\s<>"']+|www\.[^\s<>"']+)`)
	ipv4Re  = regexp.MustCompile(`\b(?:25[0-5]|2[0-4]\d|1?\d?\d)(?:\.(?:25[0-5]|2[0-4]\d|1?\d?\d)){3}\b`)
	ipv6Re  = regexp.MustCompile(`\b(?:[A-Fa-f0-9]{1,4}:){2,7}[A-Fa-f0-9]{1,4}\b`)
	macRe   = regexp.MustCompile(`\b(?:[0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}\b`)
	ssnRe   = regexp.MustCompile(`\b\d{3}[- ]?\d{2}[- ]?\d{4}\b`)
	// cardRe matches 13-19 digits with optional single separators; the digit
	// neighborhood check happens in validateCard since RE2 has no lookaround.
	cardRe       = regexp.MustCompile(`\d(?:[ -]?\d){12,18}`)
	maskedCardRe = regexp.MustCompile(`(?:[xX*#][ -]?){10,15}\d{3,4}`)
	uuidRe       = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	dateRe       = regexp.MustCompile(`(?i)\b(?:(?:` + monthNames + `)\s+\d{1,2}(?:st|nd|rd|th)?(?:,\s*\d{2,4})?|\d{1,2}(?:st|nd|rd|th)?\s+(?:` + monthNames + `)(?:,\s*\d{2,4})?)\b|(?:0?[1-9]|1[0-2])[/\-](?:0?[1-9]|[12]\d|3[01])[/\-](?:19|20)\d{2}|(?:19|20)\d{2}[-/](?:0[1-9]|1[0-2])[-/](?:0[1-9]|[12]\d|3[01])`)
	zipRe        = regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)
	addressRe    = regexp.MustCompile(`(?i)\b\d{1,5}\s+(?:[A-Za-z0-9.#']+\s+){1,4}(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Parkway|Pkwy|Circle|Cir)\b\.?`)
	handleRe     = regexp.MustCompile(`@[A-Za-z0-9_]{2,15}\b`)
)

type piiPattern struct {
	name        string
	re          *regexp.Regexp
	placeholder string
	valid       func(text string, start, end int) bool
}

// piiOrder is the fixed Layer-1 application order.
var piiOrder = []piiPattern{
	{"EMAIL", emailRe, "[EMAIL]", nil},
	{"URL", urlRe, "[URL]", nil},
	{"IPV4", ipv4Re, "[IPV4]", nil},
	{"IPV6", ipv6Re, "[IPV6]", nil},
	{"MAC", macRe, "[MAC]", nil},
	{"SSN", ssnRe, "[SSN]", validateSSN},
	{"CREDIT_CARD", cardRe, "[CREDIT_CARD]", validateCard},
	{"CREDIT_CARD", maskedCardRe, "[CREDIT_CARD]", validateMaskedCard},
	{"UUID", uuidRe, "[UUID]", nil},
	{"DATE", dateRe, "[DATE]", nil},
	{"ZIP", zipRe, "[ZIP]", nil},
	{"ADDRESS", addressRe, "[ADDRESS]", nil},
	{"HANDLE", handleRe, "[HANDLE]", validateHandle},
}

// redactPatterns applies Layer 1 to one text.
func redactPatterns(text string) (string, Counts) {
	counts := Counts{}
	for _, p := range piiOrder {
		var n int
		text, n = replaceMatches(text, p.re, p.placeholder, p.valid)
		counts.add(p.name, n)
	}
	return text, counts
}

// validateSSN rejects invalid areas (000, 666, 9xx), group 00 and serial 0000.
func validateSSN(text string, start, end int) bool {
	digits := make([]byte, 0, 9)
	for i := start; i < end; i++ {
		if isDigitByte(text[i]) {
			digits = append(digits, text[i])
		}
	}
	if len(digits) != 9 {
		return false
	}
	area, group, serial := string(digits[:3]), string(digits[3:5]), string(digits[5:])
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return group != "00" && serial != "0000"
}

// validateCard requires the digit run to stand alone: no digit on either side.
func validateCard(text string, start, end int) bool {
	if start > 0 && isDigitByte(text[start-1]) {
		return false
	}
	if end < len(text) && isDigitByte(text[end]) {
		return false
	}
	return true
}

func validateMaskedCard(text string, start, end int) bool {
	if start > 0 && isWordByte(text[start-1]) {
		return false
	}
	if end < len(text) && isWordByte(text[end]) {
		return false
	}
	return true
}

// validateHandle requires the '@' not to continue a word (so redacted
// [EMAIL] remnants and infix '@' are left alone).
func validateHandle(text string, start, end int) bool {
	return start == 0 || !isWordByte(text[start-1])
}
