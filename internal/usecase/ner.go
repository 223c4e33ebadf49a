package usecase

import (
	"fmt"
	"log/slog"

	"github.com/appliedtrack/mailpipe/internal/domain"
	"github.com/appliedtrack/mailpipe/internal/observability"
)

// NER runs entity recognition over relevant rows in parallel with the
// classifier. It only produces entity counts for observability; the
// classifier owns the row's status transition, so a row that already moved on
// is simply skipped here.
type NER struct {
	Staging domain.StagingRepository
	Cipher  domain.Cipher
	Model   domain.EntityRecognizer
	Queue   domain.TaskQueue

	MaxRetries int
}

// NewNER constructs the NER stage.
func NewNER(staging domain.StagingRepository, cipher domain.Cipher, model domain.EntityRecognizer, queue domain.TaskQueue, maxRetries int) *NER {
	return &NER{Staging: staging, Cipher: cipher, Model: model, Queue: queue, MaxRetries: maxRetries}
}

// Process recognizes entities in one batch of rows. Inference failure
// reschedules the batch; exhausted attempts drop it with an error log (this
// stage never fails rows, it is observation only).
func (n *NER) Process(ctx domain.Context, p domain.StageTaskPayload) error {
	log := observability.LoggerFromContext(ctx)

	if p.Attempt > n.MaxRetries {
		log.Error("ner retries exhausted, dropping batch", slog.Int("rows", len(p.RowIDs)))
		return nil
	}

	rows, err := n.Staging.GetByStatus(ctx, p.RowIDs, domain.StatusAwaitClassification)
	if err != nil {
		return fmt.Errorf("op=ner.load: %w", err)
	}
	if len(rows) == 0 {
		log.Info("ner batch empty, rows already progressed")
		return nil
	}

	texts := make([]string, 0, len(rows)*2)
	for _, row := range rows {
		subject, err := n.Cipher.Decrypt(row.SubjectEnc)
		if err != nil {
			log.Warn("row omitted, subject decrypt failed",
				slog.String("row_id", row.ID), slog.Any("error", err))
			continue
		}
		body, err := n.Cipher.Decrypt(row.BodyEnc)
		if err != nil {
			log.Warn("row omitted, body decrypt failed",
				slog.String("row_id", row.ID), slog.Any("error", err))
			continue
		}
		texts = append(texts, subject, body)
	}
	if len(texts) == 0 {
		return nil
	}

	entityLists, err := n.Model.Recognize(ctx, texts)
	if err != nil {
		log.Warn("ner inference failed, scheduling retry", slog.Any("error", err))
		next := domain.StageTaskPayload{TraceID: p.TraceID, RowIDs: p.RowIDs, Attempt: p.Attempt + 1}
		if err := n.Queue.EnqueueNER(ctx, next); err != nil {
			return fmt.Errorf("op=ner.enqueue_retry: %w", err)
		}
		return nil
	}

	counts := map[string]int{}
	for _, ents := range entityLists {
		for _, e := range ents {
			counts[e.Label]++
		}
	}
	for label, count := range counts {
		observability.EntitiesRecognizedTotal.WithLabelValues(label).Add(float64(count))
	}
	log.Info("ner batch processed",
		slog.Int("rows", len(rows)),
		slog.Int("entities", total(counts)))
	return nil
}

func total(counts map[string]int) int {
	var n int
	for _, c := range counts {
		n += c
	}
	return n
}
