// Package model adapts the three inference services (relevance scorer,
// zero-shot classifier, named-entity recognizer) behind the domain ports.
// Each client is a thin JSON-over-HTTP wrapper with exponential-backoff
// retries; deterministic stubs stand in when no service URL is configured.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/appliedtrack/mailpipe/internal/domain"
	"github.com/appliedtrack/mailpipe/internal/observability"
)

// httpModel is the shared transport for the three inference clients.
type httpModel struct {
	name string
	url  string
	hc   *http.Client
}

func newHTTPModel(name, url string, timeout time.Duration) httpModel {
	return httpModel{name: name, url: url, hc: &http.Client{Timeout: timeout}}
}

func (m httpModel) backoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 10 * time.Second
	expo.MaxElapsedTime = 45 * time.Second
	return expo
}

// postJSON sends the request payload and decodes the response into out,
// retrying 429s and 5xx with backoff. 4xx other than 429 fail permanently.
func (m httpModel) postJSON(ctx domain.Context, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=model.%s: encode: %w", m.name, err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := m.hc.Do(req)
		if err != nil {
			observability.ModelRequestsTotal.WithLabelValues(m.name, "error").Inc()
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			observability.ModelRequestsTotal.WithLabelValues(m.name, "error").Inc()
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			observability.ModelRequestsTotal.WithLabelValues(m.name, "rate_limited").Inc()
			return fmt.Errorf("rate limited: 429")
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			observability.ModelRequestsTotal.WithLabelValues(m.name, "error").Inc()
			return backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, snippet(raw)))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			observability.ModelRequestsTotal.WithLabelValues(m.name, "error").Inc()
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			observability.ModelRequestsTotal.WithLabelValues(m.name, "error").Inc()
			return backoff.Permanent(fmt.Errorf("decode: %w", err))
		}
		observability.ModelRequestsTotal.WithLabelValues(m.name, "ok").Inc()
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(m.backoffConfig(), ctx)); err != nil {
		return fmt.Errorf("op=model.%s: %w: %w", m.name, domain.ErrInference, err)
	}
	return nil
}

func snippet(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
