package gmail

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/appliedtrack/mailpipe/internal/domain"
	"github.com/appliedtrack/mailpipe/pkg/textx"
)

// maxPartDepth bounds MIME tree recursion on hostile or broken messages.
const maxPartDepth = 10

type apiMessage struct {
	ID           string     `json:"id"`
	ThreadID     string     `json:"threadId"`
	HistoryID    string     `json:"historyId"`
	InternalDate string     `json:"internalDate"`
	Payload      apiPayload `json:"payload"`
}

type apiPayload struct {
	MimeType string       `json:"mimeType"`
	Headers  []apiHeader  `json:"headers"`
	Body     apiBody      `json:"body"`
	Parts    []apiPayload `json:"parts"`
}

type apiHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type apiBody struct {
	Data string `json:"data"`
	Size int    `json:"size"`
}

// parseMessage converts one users.messages.get response into a ParsedEmail.
// The text/plain part wins; an HTML-only message falls back to stripped HTML.
func parseMessage(raw []byte) (domain.ParsedEmail, error) {
	var m apiMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.ParsedEmail{}, fmt.Errorf("decode message: %w", err)
	}
	if m.ID == "" {
		return domain.ParsedEmail{}, fmt.Errorf("message without id")
	}

	out := domain.ParsedEmail{
		ProviderMessageID: m.ID,
		ThreadID:          m.ThreadID,
		HistoryID:         m.HistoryID,
		Subject:           headerValue(m.Payload.Headers, "Subject"),
		Sender:            headerValue(m.Payload.Headers, "From"),
		Recipient:         headerValue(m.Payload.Headers, "To"),
	}

	if ms, err := strconv.ParseInt(m.InternalDate, 10, 64); err == nil && ms > 0 {
		out.ReceivedAt = time.UnixMilli(ms).UTC()
	}

	plain, htmlBody := collectBodies(m.Payload, 0)
	switch {
	case plain != "":
		out.BodyText = plain
	case htmlBody != "":
		out.BodyText = textx.StripHTML(htmlBody)
	}
	return out, nil
}

func headerValue(headers []apiHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// collectBodies walks the MIME tree and returns the first decodable
// text/plain and text/html bodies it finds.
func collectBodies(p apiPayload, depth int) (plain, htmlBody string) {
	if depth > maxPartDepth {
		return "", ""
	}
	mt := strings.ToLower(p.MimeType)
	if p.Body.Data != "" {
		if text, err := decodeBody(p.Body.Data); err == nil {
			switch {
			case strings.HasPrefix(mt, "text/plain"):
				return text, ""
			case strings.HasPrefix(mt, "text/html"):
				htmlBody = text
			}
		}
	}
	for _, part := range p.Parts {
		subPlain, subHTML := collectBodies(part, depth+1)
		if subPlain != "" {
			return subPlain, ""
		}
		if htmlBody == "" {
			htmlBody = subHTML
		}
	}
	return "", htmlBody
}

// decodeBody handles Gmail's URL-safe base64, padded or not.
func decodeBody(data string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}
	return string(b), nil
}
