package redact

import (
	"regexp"
	"strings"

	"github.com/appliedtrack/mailpipe/pkg/textx"
)

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9\s]`)

// Normalize is the post-redaction cleanup pass: strip residual HTML, lowercase
// and de-punctuate everything outside placeholder tokens, collapse whitespace.
// Placeholder tokens pass through verbatim so the pipeline stays idempotent.
func Normalize(text string) string {
	text = textx.StripHTML(text)

	spans := placeholderRe.FindAllStringIndex(text, -1)
	var b strings.Builder
	prev := 0
	for _, m := range spans {
		b.WriteString(normalizeSegment(text[prev:m[0]]))
		b.WriteByte(' ')
		b.WriteString(text[m[0]:m[1]])
		b.WriteByte(' ')
		prev = m[1]
	}
	b.WriteString(normalizeSegment(text[prev:]))

	return textx.CollapseWhitespace(b.String())
}

func normalizeSegment(s string) string {
	s = strings.ToLower(s)
	return nonAlnumRe.ReplaceAllString(s, " ")
}
