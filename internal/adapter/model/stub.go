package model

import (
	"sort"
	"strings"

	"github.com/appliedtrack/mailpipe/internal/domain"
)

// Deterministic stand-ins used when no model URL is configured. They keep the
// pipeline runnable locally without any inference service.

// StubRelevance scores by keyword presence: plainly job-related text gets a
// high score, everything else a low one.
type StubRelevance struct{}

var jobKeywords = []string{
	"application", "applied", "interview", "offer", "recruiter", "position",
	"role", "candidate", "hiring", "resume", "cv",
}

// Score returns 0.9 for texts containing a job keyword, 0.02 otherwise.
func (StubRelevance) Score(_ domain.Context, texts []string) ([]float64, error) {
	scores := make([]float64, len(texts))
	for i, t := range texts {
		scores[i] = 0.02
		lower := strings.ToLower(t)
		for _, kw := range jobKeywords {
			if strings.Contains(lower, kw) {
				scores[i] = 0.9
				break
			}
		}
	}
	return scores, nil
}

// StubClassifier picks the label whose name appears in the text, with a flat
// low score for the rest. Ties resolve in label-list order.
type StubClassifier struct{}

// Classify returns one descending prediction over the candidate labels per
// input text.
func (StubClassifier) Classify(_ domain.Context, texts []string, labels []string, _ string) ([]domain.Prediction, error) {
	preds := make([]domain.Prediction, len(texts))
	for i, text := range texts {
		preds[i] = stubPredict(text, labels)
	}
	return preds, nil
}

func stubPredict(text string, labels []string) domain.Prediction {
	lower := strings.ToLower(text)
	type scored struct {
		label string
		score float64
	}
	out := make([]scored, len(labels))
	matched := false
	for i, l := range labels {
		out[i] = scored{label: l, score: 0.05}
		if !matched && strings.Contains(lower, strings.ToLower(l)) {
			out[i].score = 0.85
			matched = true
		}
	}
	if !matched && len(out) > 0 {
		out[0].score = 0.45
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].score > out[b].score })

	p := domain.Prediction{Labels: make([]string, len(out)), Scores: make([]float64, len(out))}
	for i, s := range out {
		p.Labels[i] = s.label
		p.Scores[i] = s.score
	}
	return p
}

// StubRecognizer finds no entities; the redactor's regex layers still run.
type StubRecognizer struct{}

// Recognize returns an empty span list per text.
func (StubRecognizer) Recognize(_ domain.Context, texts []string) ([][]domain.Entity, error) {
	return make([][]domain.Entity, len(texts)), nil
}
