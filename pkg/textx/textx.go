// Package textx provides small text utilities used across the pipeline.
package textx

import (
	stdhtml "html"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

var (
	urlRe   = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"']+`)
	emailRe = regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	wsRe    = regexp.MustCompile(`\s+`)
)

// StripHTML extracts visible text from an HTML fragment, dropping script and
// style subtrees. Invalid markup degrades to the tokenizer's best effort.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	tk := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skipDepth := 0
	for {
		switch tk.Next() {
		case html.ErrorToken:
			return CollapseWhitespace(b.String())
		case html.StartTagToken:
			name, _ := tk.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tk.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(tk.Text())
				b.WriteByte(' ')
			}
		}
	}
}

// CollapseWhitespace folds all whitespace runs into single spaces and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}

// NormalizeForClassifier prepares one decrypted field for the zero-shot
// classifier: unescape HTML entities, strip tags, substitute URLs and email
// addresses with neutral tokens, NFKC-normalize, collapse whitespace,
// lowercase, trim.
func NormalizeForClassifier(s string) string {
	s = stdhtml.UnescapeString(s)
	s = StripHTML(s)
	s = urlRe.ReplaceAllString(s, " URL ")
	s = emailRe.ReplaceAllString(s, " EMAIL_ADDRESS ")
	s = norm.NFKC.String(s)
	s = CollapseWhitespace(s)
	return strings.ToLower(s)
}
