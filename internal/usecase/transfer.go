package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/appliedtrack/mailpipe/internal/domain"
	"github.com/appliedtrack/mailpipe/internal/observability"
)

// Transfer materializes classified staging rows into the canonical
// application table and purges them from staging.
type Transfer struct {
	Staging domain.StagingRepository
	Apps    domain.ApplicationRepository
	Cipher  domain.Cipher
}

// NewTransfer constructs the transfer stage.
func NewTransfer(staging domain.StagingRepository, apps domain.ApplicationRepository, cipher domain.Cipher) *Transfer {
	return &Transfer{Staging: staging, Apps: apps, Cipher: cipher}
}

// Transfer copies each AWAIT_TRANSFER row into job_applications and marks it
// PURGE. The insert's conflict target makes whole-batch replay after a
// partial failure safe: rows that already landed are no-ops.
func (t *Transfer) Transfer(ctx domain.Context, p domain.TransferTaskPayload) error {
	log := observability.LoggerFromContext(ctx)

	rows, err := t.Staging.GetByStatus(ctx, p.RowIDs, domain.StatusAwaitTransfer)
	if err != nil {
		return fmt.Errorf("op=transfer.load: %w", err)
	}
	if len(rows) == 0 {
		log.Info("transfer batch empty, rows already progressed")
		return nil
	}

	apps := make([]domain.ApplicationRow, 0, len(rows))
	done := make([]string, 0, len(rows))
	for _, row := range rows {
		app, err := t.buildApplication(row)
		if err != nil {
			log.Warn("row left in staging, cannot materialize",
				slog.String("row_id", row.ID), slog.Any("error", err))
			continue
		}
		apps = append(apps, app)
		done = append(done, row.ID)
	}
	if len(apps) == 0 {
		return nil
	}

	inserted, err := t.Apps.InsertIgnoreDuplicates(ctx, apps)
	if err != nil {
		return fmt.Errorf("op=transfer.insert: %w", err)
	}
	if err := t.Staging.UpdateStatus(ctx, done, domain.StatusAwaitTransfer, domain.StatusPurge); err != nil {
		return fmt.Errorf("op=transfer.purge: %w", err)
	}

	log.Info("transfer batch materialized",
		slog.Int("rows", len(done)),
		slog.Int64("inserted", inserted))
	return nil
}

func (t *Transfer) buildApplication(row domain.StagingRow) (domain.ApplicationRow, error) {
	if row.AppStage == nil || row.ConfidenceScore == nil {
		return domain.ApplicationRow{}, fmt.Errorf("row %s missing stage fields", row.ID)
	}
	uid, err := t.Cipher.Decrypt(row.UserIDEnc)
	if err != nil {
		return domain.ApplicationRow{}, fmt.Errorf("decrypt uid: %w", err)
	}
	var receivedAt time.Time
	if len(row.ReceivedAtEnc) > 0 {
		raw, err := t.Cipher.Decrypt(row.ReceivedAtEnc)
		if err != nil {
			return domain.ApplicationRow{}, fmt.Errorf("decrypt received_at: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			receivedAt = ts
		}
	}

	return domain.ApplicationRow{
		ProviderMessageID:        row.ProviderMessageID,
		UserUID:                  uid,
		AppStage:                 *row.AppStage,
		StageConfidence:          *row.ConfidenceScore,
		AppStageSecondary:        row.AppStageSecondary,
		StageConfidenceSecondary: row.ConfidenceScoreSecondary,
		NeedsReview:              row.NeedsReview,
		ProviderSource:           row.Provider,
		ReceivedAt:               receivedAt,
		UpdatedAt:                time.Now().UTC(),
		RelevanceConfidence:      row.RelevanceConfidence,
	}, nil
}
