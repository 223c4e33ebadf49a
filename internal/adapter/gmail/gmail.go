// Package gmail adapts the Gmail REST API to the domain.MailProvider port:
// refresh-token exchange, message-id listing and batched message gets.
package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/appliedtrack/mailpipe/internal/domain"
	"github.com/appliedtrack/mailpipe/internal/observability"
)

const (
	defaultAPIBase  = "https://gmail.googleapis.com/gmail/v1"
	defaultBatchURL = "https://www.googleapis.com/batch/gmail/v1"

	// listPageSize is the maxResults passed to messages.list.
	listPageSize = 500
)

// Client talks to the Gmail API over plain HTTP with bearer tokens obtained
// per task. It is safe for concurrent use.
type Client struct {
	http     *http.Client
	oauth    oauth2.Config
	apiBase  string
	batchURL string
}

// Option tweaks a Client, used by tests to point at a local server.
type Option func(*Client)

// WithBaseURLs overrides the API and batch endpoints.
func WithBaseURLs(apiBase, batchURL string) Option {
	return func(c *Client) {
		c.apiBase = apiBase
		c.batchURL = batchURL
	}
}

// WithTokenEndpoint overrides the OAuth token endpoint.
func WithTokenEndpoint(tokenURL string) Option {
	return func(c *Client) { c.oauth.Endpoint = oauth2.Endpoint{TokenURL: tokenURL} }
}

// NewClient builds a Gmail client. timeout bounds every HTTP call.
func NewClient(clientID, clientSecret string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		http: &http.Client{Timeout: timeout},
		oauth: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
		},
		apiBase:  defaultAPIBase,
		batchURL: defaultBatchURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ExchangeRefreshToken trades a stored refresh token for a short-lived access
// token. A rejected grant maps to domain.ErrNoCredential so the sync stage can
// stop instead of retrying.
func (c *Client) ExchangeRefreshToken(ctx domain.Context, refreshToken string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	ts := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		observability.ProviderRequestsTotal.WithLabelValues("token_exchange", "error").Inc()
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil &&
			(rerr.Response.StatusCode == http.StatusBadRequest || rerr.Response.StatusCode == http.StatusUnauthorized) {
			return "", fmt.Errorf("op=gmail.ExchangeRefreshToken: grant rejected: %w", domain.ErrNoCredential)
		}
		return "", fmt.Errorf("op=gmail.ExchangeRefreshToken: %w", err)
	}
	observability.ProviderRequestsTotal.WithLabelValues("token_exchange", "ok").Inc()
	return tok.AccessToken, nil
}

// ListMessageIDs pages through messages.list with q=after:<unix> and returns
// every message id newer than the cutoff.
func (c *Client) ListMessageIDs(ctx domain.Context, accessToken string, after time.Time) ([]string, error) {
	var (
		ids       []string
		pageToken string
	)
	for {
		q := url.Values{}
		q.Set("q", "after:"+strconv.FormatInt(after.Unix(), 10))
		q.Set("maxResults", strconv.Itoa(listPageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/users/me/messages?"+q.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("op=gmail.ListMessageIDs: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := c.http.Do(req)
		if err != nil {
			observability.ProviderRequestsTotal.WithLabelValues("list", "error").Inc()
			return nil, fmt.Errorf("op=gmail.ListMessageIDs: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("op=gmail.ListMessageIDs: read body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			observability.ProviderRequestsTotal.WithLabelValues("list", "error").Inc()
			if transientStatus(resp.StatusCode) {
				return nil, fmt.Errorf("op=gmail.ListMessageIDs: status %d: %w", resp.StatusCode, domain.ErrRateLimited)
			}
			return nil, fmt.Errorf("op=gmail.ListMessageIDs: status %d: %s", resp.StatusCode, truncateBody(body))
		}

		var page struct {
			Messages []struct {
				ID string `json:"id"`
			} `json:"messages"`
			NextPageToken string `json:"nextPageToken"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("op=gmail.ListMessageIDs: decode: %w", err)
		}
		observability.ProviderRequestsTotal.WithLabelValues("list", "ok").Inc()

		for _, m := range page.Messages {
			ids = append(ids, m.ID)
		}
		if page.NextPageToken == "" {
			return ids, nil
		}
		pageToken = page.NextPageToken
	}
}

// transientStatus reports whether an HTTP status warrants a retry.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
