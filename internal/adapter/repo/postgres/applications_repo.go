package postgres

import (
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/appliedtrack/mailpipe/internal/domain"
)

// ApplicationRepo writes classified rows into public.job_applications.
type ApplicationRepo struct{ Pool PgxPool }

// NewApplicationRepo constructs an ApplicationRepo with the given pool.
func NewApplicationRepo(p PgxPool) *ApplicationRepo { return &ApplicationRepo{Pool: p} }

const applicationsTable = "public.job_applications"

// InsertIgnoreDuplicates inserts rows keyed by provider_message_id, ignoring
// ones already present, and reports how many landed. Replaying a transfer
// batch after a partial failure is therefore safe.
func (r *ApplicationRepo) InsertIgnoreDuplicates(ctx domain.Context, rows []domain.ApplicationRow) (int64, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.InsertIgnoreDuplicates")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", applicationsTable),
		attribute.Int("rows", len(rows)),
	)
	if len(rows) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`INSERT INTO ` + applicationsTable + ` (
		provider_message_id, user_uid, app_stage, stage_confidence,
		app_stage_secondary, stage_confidence_secondary, needs_review,
		provider_source, received_at, updated_at, is_archived, is_deleted,
		relevance_model_confidence) VALUES `)
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 13
		sb.WriteString("(")
		for j := 1; j <= 13; j++ {
			if j > 1 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, "$%d", base+j)
		}
		sb.WriteString(")")

		var stageSec *string
		if row.AppStageSecondary != nil {
			s := string(*row.AppStageSecondary)
			stageSec = &s
		}
		updatedAt := row.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		args = append(args,
			row.ProviderMessageID, row.UserUID, string(row.AppStage), row.StageConfidence,
			stageSec, row.StageConfidenceSecondary, row.NeedsReview,
			row.ProviderSource, row.ReceivedAt, updatedAt, row.IsArchived, row.IsDeleted,
			row.RelevanceConfidence)
	}
	sb.WriteString(` ON CONFLICT (provider_message_id) DO NOTHING`)

	tag, err := r.Pool.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("op=applications.insert: %w", err)
	}
	return tag.RowsAffected(), nil
}
