package usecase

import (
	"fmt"
	"log/slog"

	"github.com/appliedtrack/mailpipe/internal/domain"
	"github.com/appliedtrack/mailpipe/internal/observability"
	"github.com/appliedtrack/mailpipe/internal/redact"
)

// Relevance filters staged rows down to job-related mail. Irrelevant rows go
// straight to PURGE; relevant ones fan out to classification and NER.
type Relevance struct {
	Staging  domain.StagingRepository
	Cipher   domain.Cipher
	Redactor *redact.Redactor
	Model    domain.RelevanceModel
	Queue    domain.TaskQueue

	Threshold  float64
	InputCap   int
	MaxRetries int
}

// NewRelevance constructs the relevance stage.
func NewRelevance(staging domain.StagingRepository, cipher domain.Cipher, redactor *redact.Redactor, model domain.RelevanceModel, queue domain.TaskQueue, threshold float64, inputCap, maxRetries int) *Relevance {
	return &Relevance{
		Staging:    staging,
		Cipher:     cipher,
		Redactor:   redactor,
		Model:      model,
		Queue:      queue,
		Threshold:  threshold,
		InputCap:   inputCap,
		MaxRetries: maxRetries,
	}
}

// Process scores one batch of rows. Decrypt failures drop the row from this
// run with a warning; an inference failure sends the whole scored set to the
// retry path. Exhausted attempts park rows in FAILED_PERMANENTLY before any
// work is done.
func (r *Relevance) Process(ctx domain.Context, p domain.StageTaskPayload) error {
	log := observability.LoggerFromContext(ctx)
	expected := stageStatus(p.Attempt, domain.StatusAwaitRelevance)

	if p.Attempt > r.MaxRetries {
		log.Error("relevance retries exhausted", slog.Int("rows", len(p.RowIDs)))
		if err := r.Staging.MarkFailed(ctx, p.RowIDs, domain.StatusRetry); err != nil {
			return fmt.Errorf("op=relevance.mark_failed: %w", err)
		}
		return nil
	}

	rows, err := r.Staging.GetByStatus(ctx, p.RowIDs, expected)
	if err != nil {
		return fmt.Errorf("op=relevance.load: %w", err)
	}
	if len(rows) == 0 {
		log.Info("relevance batch empty, rows already progressed")
		return nil
	}

	ids := make([]string, 0, len(rows))
	docs := make([]redact.Document, 0, len(rows))
	for _, row := range rows {
		body, err := r.Cipher.Decrypt(row.BodyEnc)
		if err != nil {
			log.Warn("row omitted, body decrypt failed",
				slog.String("row_id", row.ID), slog.Any("error", err))
			continue
		}
		ids = append(ids, row.ID)
		docs = append(docs, redact.Document{Body: body})
	}
	if len(ids) == 0 {
		return nil
	}

	cleaned, counts, err := r.Redactor.Redact(ctx, docs)
	if err != nil {
		return fmt.Errorf("op=relevance.redact: %w", err)
	}
	observability.ObserveRedactionCounts(counts)

	texts := make([]string, len(cleaned))
	for i, d := range cleaned {
		texts[i] = truncateRunes(d.Body, r.InputCap)
	}

	scores, err := r.Model.Score(ctx, texts)
	if err != nil {
		// model unavailable: the whole set retries with countdown
		log.Warn("relevance inference failed, scheduling retry",
			slog.Int("rows", len(ids)), slog.Any("error", err))
		return r.retry(ctx, p, ids, expected)
	}

	var (
		relevant           []domain.RelevanceUpdate
		relevantIDs, purge []string
	)
	for i, id := range ids {
		if scores[i] >= r.Threshold {
			relevant = append(relevant, domain.RelevanceUpdate{RowID: id, Confidence: percent(scores[i])})
			relevantIDs = append(relevantIDs, id)
		} else {
			purge = append(purge, id)
		}
	}

	if err := r.Staging.ApplyRelevance(ctx, relevant, expected); err != nil {
		return fmt.Errorf("op=relevance.update: %w", err)
	}
	if err := r.Staging.UpdateStatus(ctx, purge, expected, domain.StatusPurge); err != nil {
		return fmt.Errorf("op=relevance.update: %w", err)
	}

	if len(relevantIDs) > 0 {
		next := domain.StageTaskPayload{TraceID: p.TraceID, RowIDs: relevantIDs, Attempt: 1}
		if err := r.Queue.EnqueueClassification(ctx, next, 0); err != nil {
			return fmt.Errorf("op=relevance.enqueue_classification: %w", err)
		}
		if err := r.Queue.EnqueueNER(ctx, next); err != nil {
			return fmt.Errorf("op=relevance.enqueue_ner: %w", err)
		}
	}

	log.Info("relevance batch processed",
		slog.Int("relevant", len(relevantIDs)),
		slog.Int("purged", len(purge)))
	return nil
}

func (r *Relevance) retry(ctx domain.Context, p domain.StageTaskPayload, ids []string, expected domain.EmailStatus) error {
	if err := r.Staging.UpdateStatus(ctx, ids, expected, domain.StatusRetry); err != nil {
		return fmt.Errorf("op=relevance.mark_retry: %w", err)
	}
	next := domain.StageTaskPayload{TraceID: p.TraceID, RowIDs: ids, Attempt: p.Attempt + 1}
	if err := r.Queue.EnqueueRelevance(ctx, next, domain.StageRetryCountdown(p.Attempt)); err != nil {
		return fmt.Errorf("op=relevance.enqueue_retry: %w", err)
	}
	return nil
}

// stageStatus is the status a stage expects its rows to hold: the stage's
// entry status on the first delivery, RETRY once a retry task owns them.
// Guarding reads and writes on it keeps stale redeliveries from touching
// rows that have already moved on.
func stageStatus(attempt int, entry domain.EmailStatus) domain.EmailStatus {
	if attempt > 1 {
		return domain.StatusRetry
	}
	return entry
}

// truncateRunes caps s at n runes without splitting a character.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
