package model

import (
	"fmt"
	"time"

	"github.com/appliedtrack/mailpipe/internal/domain"
)

// RelevanceClient scores job-relatedness over HTTP.
type RelevanceClient struct{ httpModel }

// NewRelevanceClient builds a client for the relevance service.
func NewRelevanceClient(url string, timeout time.Duration) *RelevanceClient {
	return &RelevanceClient{newHTTPModel("relevance", url, timeout)}
}

// Score returns one probability in [0,1] per input text, index-aligned.
func (c *RelevanceClient) Score(ctx domain.Context, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out struct {
		Scores []float64 `json:"scores"`
	}
	if err := c.postJSON(ctx, map[string]any{"texts": texts}, &out); err != nil {
		return nil, err
	}
	if len(out.Scores) != len(texts) {
		return nil, fmt.Errorf("op=model.relevance: got %d scores for %d texts: %w",
			len(out.Scores), len(texts), domain.ErrInference)
	}
	return out.Scores, nil
}
