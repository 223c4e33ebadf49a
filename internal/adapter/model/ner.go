package model

import (
	"fmt"
	"time"

	"github.com/appliedtrack/mailpipe/internal/domain"
)

// NERClient runs named-entity recognition over HTTP.
type NERClient struct{ httpModel }

// NewNERClient builds a client for the NER service.
func NewNERClient(url string, timeout time.Duration) *NERClient {
	return &NERClient{newHTTPModel("ner", url, timeout)}
}

// Recognize returns entity spans per input text, index-aligned.
func (c *NERClient) Recognize(ctx domain.Context, texts []string) ([][]domain.Entity, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out struct {
		Entities [][]struct {
			Text  string `json:"text"`
			Label string `json:"label"`
			Start int    `json:"start"`
			End   int    `json:"end"`
		} `json:"entities"`
	}
	if err := c.postJSON(ctx, map[string]any{"texts": texts}, &out); err != nil {
		return nil, err
	}
	if len(out.Entities) != len(texts) {
		return nil, fmt.Errorf("op=model.ner: got %d results for %d texts: %w",
			len(out.Entities), len(texts), domain.ErrInference)
	}
	result := make([][]domain.Entity, len(texts))
	for i, ents := range out.Entities {
		for _, e := range ents {
			result[i] = append(result[i], domain.Entity{Text: e.Text, Label: e.Label, Start: e.Start, End: e.End})
		}
	}
	return result, nil
}
