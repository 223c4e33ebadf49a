// Package redact implements the deterministic five-layer PII redaction
// pipeline applied to email subjects and bodies before model inference.
//
// Layers run in a fixed order: regex PII, named entities, keys/secrets, money
// and numbers, mixed alphanumeric tokens, followed by a normalization pass.
// Placeholder tokens written by an earlier layer are never rewritten by a
// later one, so running the pipeline over its own output is a no-op.
package redact

import (
	"context"
	"fmt"
	"regexp"

	"github.com/appliedtrack/mailpipe/internal/domain"
)

// Document is one (subject, body) pair moving through the pipeline.
type Document struct {
	Subject string
	Body    string
}

// Counts aggregates redacted span counts per category across a batch.
type Counts map[string]int

func (c Counts) add(category string, n int) {
	if n != 0 {
		c[category] += n
	}
}

func (c Counts) merge(other Counts) {
	for k, v := range other {
		c.add(k, v)
	}
}

// placeholderRe matches placeholder tokens like [EMAIL] or [STRIPE_KEY].
var placeholderRe = regexp.MustCompile(`\[[A-Z_]+\]`)

// bracketSpanRe matches any bracketed run; layers 4 and 5 refuse to touch
// content inside brackets so placeholders and source-text [NAME] literals
// survive intact.
var bracketSpanRe = regexp.MustCompile(`\[[^\[\]]*\]`)

// Redactor runs the five-layer pipeline. The recognizer is optional; when nil
// the NER layer is skipped (e.g. in contexts where no model is loaded).
type Redactor struct {
	ner domain.EntityRecognizer
}

// New builds a Redactor around an optional entity recognizer.
func New(ner domain.EntityRecognizer) *Redactor {
	return &Redactor{ner: ner}
}

// Redact applies all layers to the documents and returns the cleaned copies
// plus per-category counts aggregated across subjects and bodies.
func (r *Redactor) Redact(ctx context.Context, docs []Document) ([]Document, Counts, error) {
	counts := Counts{}
	out := make([]Document, len(docs))
	copy(out, docs)

	for i := range out {
		var c Counts
		out[i].Subject, c = redactPatterns(out[i].Subject)
		counts.merge(c)
		out[i].Body, c = redactPatterns(out[i].Body)
		counts.merge(c)
	}

	if r.ner != nil {
		if err := r.redactEntities(ctx, out, counts); err != nil {
			return nil, nil, fmt.Errorf("op=redact.ner: %w", err)
		}
	}

	for i := range out {
		var c Counts
		out[i].Subject, c = redactSecrets(out[i].Subject)
		counts.merge(c)
		out[i].Body, c = redactSecrets(out[i].Body)
		counts.merge(c)

		out[i].Subject, c = redactMoneyAndNumbers(out[i].Subject)
		counts.merge(c)
		out[i].Body, c = redactMoneyAndNumbers(out[i].Body)
		counts.merge(c)

		out[i].Subject, c = redactMixedTokens(out[i].Subject)
		counts.merge(c)
		out[i].Body, c = redactMixedTokens(out[i].Body)
		counts.merge(c)

		out[i].Subject = Normalize(out[i].Subject)
		out[i].Body = Normalize(out[i].Body)
	}

	return out, counts, nil
}

// span is a [start, end) byte range.
type span struct{ start, end int }

// bracketSpans returns the bracketed ranges of text.
func bracketSpans(text string) []span {
	idx := bracketSpanRe.FindAllStringIndex(text, -1)
	spans := make([]span, 0, len(idx))
	for _, m := range idx {
		spans = append(spans, span{m[0], m[1]})
	}
	return spans
}

func overlapsAny(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && end > s.start {
			return true
		}
	}
	return false
}

// replaceMatches rewrites every valid match of re in text with placeholder,
// returning the new text and the replacement count. valid may be nil.
func replaceMatches(text string, re *regexp.Regexp, placeholder string, valid func(text string, start, end int) bool) (string, int) {
	matches := re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text, 0
	}
	var b []byte
	prev, count := 0, 0
	for _, m := range matches {
		if valid != nil && !valid(text, m[0], m[1]) {
			continue
		}
		b = append(b, text[prev:m[0]]...)
		b = append(b, placeholder...)
		prev = m[1]
		count++
	}
	if count == 0 {
		return text, 0
	}
	b = append(b, text[prev:]...)
	return string(b), count
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigitByte(c byte) bool { return c >= '0' && c <= '9' }
