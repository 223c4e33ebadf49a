package model

import (
	"fmt"
	"time"

	"github.com/appliedtrack/mailpipe/internal/domain"
)

// ZeroShotClient runs zero-shot classification over HTTP.
type ZeroShotClient struct{ httpModel }

// NewZeroShotClient builds a client for the classification service.
func NewZeroShotClient(url string, timeout time.Duration) *ZeroShotClient {
	return &ZeroShotClient{newHTTPModel("classifier", url, timeout)}
}

// Classify scores each text against the candidate labels. The service returns
// one prediction per input text, labels and scores sorted by score descending.
func (c *ZeroShotClient) Classify(ctx domain.Context, texts []string, labels []string, hypothesisTemplate string) ([]domain.Prediction, error) {
	var out struct {
		Predictions []struct {
			Labels []string  `json:"labels"`
			Scores []float64 `json:"scores"`
		} `json:"predictions"`
	}
	payload := map[string]any{
		"texts":               texts,
		"candidate_labels":    labels,
		"hypothesis_template": hypothesisTemplate,
	}
	if err := c.postJSON(ctx, payload, &out); err != nil {
		return nil, err
	}
	if len(out.Predictions) != len(texts) {
		return nil, fmt.Errorf("op=model.classifier: %d predictions for %d texts: %w",
			len(out.Predictions), len(texts), domain.ErrInference)
	}
	preds := make([]domain.Prediction, len(out.Predictions))
	for i, p := range out.Predictions {
		if len(p.Labels) == 0 || len(p.Labels) != len(p.Scores) {
			return nil, fmt.Errorf("op=model.classifier: malformed prediction: %w", domain.ErrInference)
		}
		preds[i] = domain.Prediction{Labels: p.Labels, Scores: p.Scores}
	}
	return preds, nil
}
