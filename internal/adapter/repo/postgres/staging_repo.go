package postgres

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/appliedtrack/mailpipe/internal/domain"
	"github.com/appliedtrack/mailpipe/internal/observability"
)

// StagingRepo persists staging rows in internal_staging.email_staging.
type StagingRepo struct{ Pool PgxPool }

// NewStagingRepo constructs a StagingRepo with the given pool.
func NewStagingRepo(p PgxPool) *StagingRepo { return &StagingRepo{Pool: p} }

const stagingTable = "internal_staging.email_staging"

const stagingColumns = `id, user_id_enc, subject_enc, sender_enc, body_enc, received_at_enc,
	trace_id, provider, provider_message_id, thread_id, history_id, status,
	app_stage, app_stage_secondary, confidence_score, confidence_score_secondary,
	relevance_confidence, needs_review, created_at`

// InsertBatch inserts rows in one statement with ON CONFLICT
// (provider_message_id) DO NOTHING and returns the ids that actually landed.
// Rows without an id get a fresh ULID.
func (r *StagingRepo) InsertBatch(ctx domain.Context, rows []domain.StagingRow) ([]string, error) {
	tracer := otel.Tracer("repo.staging")
	ctx, span := tracer.Start(ctx, "staging.InsertBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", stagingTable),
		attribute.Int("rows", len(rows)),
	)
	if len(rows) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`INSERT INTO ` + stagingTable + ` (` + stagingColumns + `) VALUES `)
	for i, row := range rows {
		id := row.ID
		if id == "" {
			id = ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 12
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,'%s',NULL,NULL,NULL,NULL,NULL,FALSE,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
			string(domain.StatusAwaitRelevance), base+12)
		args = append(args,
			id, row.UserIDEnc, row.SubjectEnc, row.SenderEnc, row.BodyEnc, row.ReceivedAtEnc,
			row.TraceID, row.Provider, row.ProviderMessageID, row.ThreadID, row.HistoryID, now)
	}
	sb.WriteString(` ON CONFLICT (provider_message_id) DO NOTHING RETURNING id`)

	rs, err := r.Pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("op=staging.insert_batch: %w", err)
	}
	defer rs.Close()

	var inserted []string
	for rs.Next() {
		var id string
		if err := rs.Scan(&id); err != nil {
			return nil, fmt.Errorf("op=staging.insert_batch: scan: %w", err)
		}
		inserted = append(inserted, id)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("op=staging.insert_batch: rows: %w", err)
	}
	observability.RowsStagedTotal.Add(float64(len(inserted)))
	return inserted, nil
}

// GetByStatus loads the subset of ids currently in the expected status. Rows
// that moved on (or never existed) are silently absent from the result; a
// stage never observes rows outside its own state.
func (r *StagingRepo) GetByStatus(ctx domain.Context, ids []string, expected domain.EmailStatus) ([]domain.StagingRow, error) {
	tracer := otel.Tracer("repo.staging")
	ctx, span := tracer.Start(ctx, "staging.GetByStatus")
	defer span.End()
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + stagingColumns + ` FROM ` + stagingTable + ` WHERE id = ANY($1) AND status = $2`
	rs, err := r.Pool.Query(ctx, q, ids, string(expected))
	if err != nil {
		return nil, fmt.Errorf("op=staging.get_by_status: %w", err)
	}
	defer rs.Close()

	var out []domain.StagingRow
	for rs.Next() {
		var (
			row             domain.StagingRow
			stage, stageSec *string
			status          string
		)
		if err := rs.Scan(&row.ID, &row.UserIDEnc, &row.SubjectEnc, &row.SenderEnc, &row.BodyEnc,
			&row.ReceivedAtEnc, &row.TraceID, &row.Provider, &row.ProviderMessageID, &row.ThreadID,
			&row.HistoryID, &status, &stage, &stageSec, &row.ConfidenceScore,
			&row.ConfidenceScoreSecondary, &row.RelevanceConfidence, &row.NeedsReview, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=staging.get_by_status: scan: %w", err)
		}
		row.Status = domain.EmailStatus(status)
		if stage != nil {
			s := domain.Stage(*stage)
			row.AppStage = &s
		}
		if stageSec != nil {
			s := domain.Stage(*stageSec)
			row.AppStageSecondary = &s
		}
		out = append(out, row)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("op=staging.get_by_status: rows: %w", err)
	}
	return out, nil
}

// UpdateStatus moves every id from one status to another in one statement.
// Rows no longer in the from status are left alone; a replayed or stale task
// cannot move a row backwards through its lifecycle.
func (r *StagingRepo) UpdateStatus(ctx domain.Context, ids []string, from, to domain.EmailStatus) error {
	tracer := otel.Tracer("repo.staging")
	ctx, span := tracer.Start(ctx, "staging.UpdateStatus")
	defer span.End()
	if len(ids) == 0 {
		return nil
	}
	q := `UPDATE ` + stagingTable + ` SET status = $3 WHERE id = ANY($1) AND status = $2`
	if _, err := r.Pool.Exec(ctx, q, ids, string(from), string(to)); err != nil {
		return fmt.Errorf("op=staging.update_status: %w", err)
	}
	observability.RowsByStatusTotal.WithLabelValues(string(to)).Add(float64(len(ids)))
	return nil
}

// ApplyRelevance writes relevance confidences and advances each row from the
// expected status to AWAIT_CLASSIFICATION.
func (r *StagingRepo) ApplyRelevance(ctx domain.Context, updates []domain.RelevanceUpdate, from domain.EmailStatus) error {
	tracer := otel.Tracer("repo.staging")
	ctx, span := tracer.Start(ctx, "staging.ApplyRelevance")
	defer span.End()
	q := `UPDATE ` + stagingTable + ` SET relevance_confidence = $2, status = $3
	WHERE id = $1 AND status = $4`
	for _, u := range updates {
		_, err := r.Pool.Exec(ctx, q, u.RowID, u.Confidence,
			string(domain.StatusAwaitClassification), string(from))
		if err != nil {
			return fmt.Errorf("op=staging.apply_relevance: row %s: %w", u.RowID, err)
		}
	}
	observability.RowsByStatusTotal.WithLabelValues(string(domain.StatusAwaitClassification)).Add(float64(len(updates)))
	return nil
}

// ApplyClassification writes stage fields and advances each row from the
// expected status to AWAIT_TRANSFER.
func (r *StagingRepo) ApplyClassification(ctx domain.Context, updates []domain.ClassificationUpdate, from domain.EmailStatus) error {
	tracer := otel.Tracer("repo.staging")
	ctx, span := tracer.Start(ctx, "staging.ApplyClassification")
	defer span.End()
	q := `UPDATE ` + stagingTable + ` SET
		app_stage = $2, confidence_score = $3,
		app_stage_secondary = $4, confidence_score_secondary = $5,
		needs_review = $6, status = $7
	WHERE id = $1 AND status = $8`
	for _, u := range updates {
		_, err := r.Pool.Exec(ctx, q, u.RowID,
			string(u.AppStage), u.ConfidenceScore,
			string(u.AppStageSecondary), u.ConfidenceScoreSecondary,
			u.NeedsReview,
			string(domain.StatusAwaitTransfer), string(from))
		if err != nil {
			return fmt.Errorf("op=staging.apply_classification: row %s: %w", u.RowID, err)
		}
	}
	observability.RowsByStatusTotal.WithLabelValues(string(domain.StatusAwaitTransfer)).Add(float64(len(updates)))
	return nil
}

// MarkFailed parks rows still in the from status in FAILED_PERMANENTLY.
func (r *StagingRepo) MarkFailed(ctx domain.Context, ids []string, from domain.EmailStatus) error {
	if err := r.UpdateStatus(ctx, ids, from, domain.StatusFailedPermanently); err != nil {
		return fmt.Errorf("op=staging.mark_failed: %w", err)
	}
	return nil
}
