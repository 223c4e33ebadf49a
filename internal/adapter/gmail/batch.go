package gmail

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/appliedtrack/mailpipe/internal/domain"
	"github.com/appliedtrack/mailpipe/internal/observability"
)

// batchGetLimit is the Gmail batch endpoint's hard cap on sub-requests.
const batchGetLimit = 100

// BatchGetMessages fetches full messages in one multipart round trip per
// chunk of ids. Each sub-response is classified independently: parsed,
// retryable (429/5xx) or skipped (gone / malformed), keyed back to its
// message id through the Content-ID header.
func (c *Client) BatchGetMessages(ctx domain.Context, accessToken string, ids []string) (domain.BatchResult, error) {
	var result domain.BatchResult
	for start := 0; start < len(ids); start += batchGetLimit {
		end := start + batchGetLimit
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		res, err := c.batchGetChunk(ctx, accessToken, chunk)
		if err != nil {
			return domain.BatchResult{}, err
		}
		result.Messages = append(result.Messages, res.Messages...)
		result.RetryIDs = append(result.RetryIDs, res.RetryIDs...)
		result.SkippedIDs = append(result.SkippedIDs, res.SkippedIDs...)
	}
	return result, nil
}

func (c *Client) batchGetChunk(ctx domain.Context, accessToken string, ids []string) (domain.BatchResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for i, id := range ids {
		part, err := w.CreatePart(map[string][]string{
			"Content-Type": {"application/http"},
			"Content-ID":   {fmt.Sprintf("<item-%d>", i)},
		})
		if err != nil {
			return domain.BatchResult{}, fmt.Errorf("op=gmail.BatchGetMessages: build part: %w", err)
		}
		fmt.Fprintf(part, "GET /gmail/v1/users/me/messages/%s?format=full\r\n\r\n", id)
	}
	if err := w.Close(); err != nil {
		return domain.BatchResult{}, fmt.Errorf("op=gmail.BatchGetMessages: close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.batchURL, &buf)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("op=gmail.BatchGetMessages: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "multipart/mixed; boundary="+w.Boundary())

	resp, err := c.http.Do(req)
	if err != nil {
		observability.ProviderRequestsTotal.WithLabelValues("batch_get", "error").Inc()
		return domain.BatchResult{}, fmt.Errorf("op=gmail.BatchGetMessages: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		observability.ProviderRequestsTotal.WithLabelValues("batch_get", "error").Inc()
		body, _ := io.ReadAll(resp.Body)
		if transientStatus(resp.StatusCode) {
			return domain.BatchResult{}, fmt.Errorf("op=gmail.BatchGetMessages: status %d: %w", resp.StatusCode, domain.ErrRateLimited)
		}
		return domain.BatchResult{}, fmt.Errorf("op=gmail.BatchGetMessages: status %d: %s", resp.StatusCode, truncateBody(body))
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return domain.BatchResult{}, fmt.Errorf("op=gmail.BatchGetMessages: unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	observability.ProviderRequestsTotal.WithLabelValues("batch_get", "ok").Inc()

	result := domain.BatchResult{}
	seen := make(map[int]bool, len(ids))
	mr := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return domain.BatchResult{}, fmt.Errorf("op=gmail.BatchGetMessages: read part: %w", err)
		}
		idx, ok := partIndex(part.Header.Get("Content-ID"))
		if !ok || idx < 0 || idx >= len(ids) {
			_ = part.Close()
			continue
		}
		seen[idx] = true
		id := ids[idx]

		status, body, err := readInnerResponse(part)
		_ = part.Close()
		if err != nil {
			observability.ProviderSubErrorsTotal.WithLabelValues("skip").Inc()
			result.SkippedIDs = append(result.SkippedIDs, id)
			continue
		}
		switch classifySubResponse(status, body) {
		case subOK:
			msg, perr := parseMessage(body)
			if perr != nil {
				observability.ProviderSubErrorsTotal.WithLabelValues("skip").Inc()
				result.SkippedIDs = append(result.SkippedIDs, id)
				continue
			}
			observability.ProviderSubErrorsTotal.WithLabelValues("ok").Inc()
			result.Messages = append(result.Messages, msg)
		case subRetry:
			observability.ProviderSubErrorsTotal.WithLabelValues("retry").Inc()
			result.RetryIDs = append(result.RetryIDs, id)
		default:
			observability.ProviderSubErrorsTotal.WithLabelValues("skip").Inc()
			result.SkippedIDs = append(result.SkippedIDs, id)
		}
	}

	// ids the response never mentioned are retried, not dropped
	for i, id := range ids {
		if !seen[i] {
			observability.ProviderSubErrorsTotal.WithLabelValues("retry").Inc()
			result.RetryIDs = append(result.RetryIDs, id)
		}
	}
	return result, nil
}

// partIndex extracts N from a "<response-item-N>" (or "<item-N>") Content-ID.
func partIndex(contentID string) (int, bool) {
	s := strings.Trim(contentID, "<> ")
	i := strings.LastIndex(s, "-")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// readInnerResponse parses the application/http payload of one part: a status
// line, headers, then the JSON body.
func readInnerResponse(r io.Reader) (status int, body []byte, err error) {
	br := bufio.NewReader(r)
	statusLine, err := br.ReadString('\n')
	if err != nil {
		return 0, nil, fmt.Errorf("status line: %w", err)
	}
	fields := strings.Fields(statusLine)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0, nil, fmt.Errorf("malformed status line %q", strings.TrimSpace(statusLine))
	}
	status, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, nil, fmt.Errorf("status code: %w", err)
	}
	// skip inner headers
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return 0, nil, fmt.Errorf("headers: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			break
		}
	}
	body, err = io.ReadAll(br)
	if err != nil {
		return 0, nil, fmt.Errorf("body: %w", err)
	}
	return status, bytes.TrimSpace(body), nil
}

type subDecision int

const (
	subOK subDecision = iota
	subRetry
	subSkip
)

// classifySubResponse decides a single message's fate. 404/410 and notFound
// reasons mean the message is gone for good; 429 and 5xx (or an explicit
// rateLimitExceeded reason) are transient; anything else is skipped.
func classifySubResponse(status int, body []byte) subDecision {
	if status == http.StatusOK {
		return subOK
	}
	if status == http.StatusNotFound || status == http.StatusGone {
		return subSkip
	}
	if transientStatus(status) {
		return subRetry
	}
	var e struct {
		Error struct {
			Errors []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		for _, item := range e.Error.Errors {
			switch item.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded", "backendError":
				return subRetry
			case "notFound":
				return subSkip
			}
		}
	}
	return subSkip
}
