package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/appliedtrack/mailpipe/internal/domain"
	"github.com/appliedtrack/mailpipe/internal/observability"
)

// Fetcher pulls message content from the provider under a per-user slot lock,
// encrypts it, stages it, and hands the new rows to the relevance stage.
type Fetcher struct {
	Locker   domain.SlotLocker
	Provider domain.MailProvider
	Cipher   domain.Cipher
	Staging  domain.StagingRepository
	Queue    domain.TaskQueue

	ProviderName   string
	PostBatchSleep time.Duration
}

// NewFetcher constructs a Fetcher.
func NewFetcher(locker domain.SlotLocker, provider domain.MailProvider, cipher domain.Cipher, staging domain.StagingRepository, queue domain.TaskQueue, postBatchSleep time.Duration) *Fetcher {
	return &Fetcher{
		Locker:         locker,
		Provider:       provider,
		Cipher:         cipher,
		Staging:        staging,
		Queue:          queue,
		ProviderName:   "gmail",
		PostBatchSleep: postBatchSleep,
	}
}

// Fetch processes one batch of message ids. domain.ErrLockBusy propagates to
// the worker, which reschedules the task without consuming retry budget.
// Transient provider failures propagate for broker redelivery; ids that hit a
// per-message transient error come back on a fresh fetch task.
func (f *Fetcher) Fetch(ctx domain.Context, p domain.FetchTaskPayload) error {
	log := observability.LoggerFromContext(ctx)

	uid, err := f.Cipher.Decrypt(p.UserIDEnc)
	if err != nil {
		return fmt.Errorf("op=fetch.decrypt_uid: %w", err)
	}
	release, err := f.Locker.Acquire(ctx, uid)
	if err != nil {
		return err
	}
	defer release()

	accessToken, err := f.Cipher.Decrypt(p.AccessTokenEnc)
	if err != nil {
		return fmt.Errorf("op=fetch.decrypt_token: %w", err)
	}

	res, err := f.Provider.BatchGetMessages(ctx, accessToken, p.MessageIDs)
	if err != nil {
		return fmt.Errorf("op=fetch.batch_get: %w", err)
	}
	if len(res.SkippedIDs) > 0 {
		log.Warn("messages skipped, gone or malformed at provider",
			slog.Int("count", len(res.SkippedIDs)))
	}

	// brief pause right after the provider batch to stay under quota
	if f.PostBatchSleep > 0 {
		select {
		case <-time.After(f.PostBatchSleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	rows := make([]domain.StagingRow, 0, len(res.Messages))
	for _, msg := range res.Messages {
		row, err := f.encryptRow(p, msg)
		if err != nil {
			log.Warn("message dropped, field encryption failed",
				slog.String("provider_message_id", msg.ProviderMessageID),
				slog.Any("error", err))
			continue
		}
		rows = append(rows, row)
	}

	insertedIDs, err := f.Staging.InsertBatch(ctx, rows)
	if err != nil {
		return fmt.Errorf("op=fetch.stage: %w", err)
	}
	if len(insertedIDs) > 0 {
		sp := domain.StageTaskPayload{TraceID: p.TraceID, RowIDs: insertedIDs, Attempt: 1}
		if err := f.Queue.EnqueueRelevance(ctx, sp, 0); err != nil {
			return fmt.Errorf("op=fetch.enqueue_relevance: %w", err)
		}
	}

	if len(res.RetryIDs) > 0 {
		retry := domain.FetchTaskPayload{
			MessageIDs:     res.RetryIDs,
			UserIDEnc:      p.UserIDEnc,
			AccessTokenEnc: p.AccessTokenEnc,
			TraceID:        p.TraceID,
		}
		delay := domain.FetchBackoff(1)
		if err := f.Queue.EnqueueFetch(ctx, retry, delay); err != nil {
			return fmt.Errorf("op=fetch.enqueue_retry: %w", err)
		}
		log.Info("transient provider errors, ids rescheduled",
			slog.Int("count", len(res.RetryIDs)),
			slog.Duration("delay", delay))
	}

	log.Info("fetch batch staged",
		slog.Int("requested", len(p.MessageIDs)),
		slog.Int("staged", len(insertedIDs)),
		slog.Int("retry", len(res.RetryIDs)),
		slog.Int("skipped", len(res.SkippedIDs)))
	return nil
}

func (f *Fetcher) encryptRow(p domain.FetchTaskPayload, msg domain.ParsedEmail) (domain.StagingRow, error) {
	subjectEnc, err := f.Cipher.Encrypt(msg.Subject)
	if err != nil {
		return domain.StagingRow{}, err
	}
	senderEnc, err := f.Cipher.Encrypt(msg.Sender)
	if err != nil {
		return domain.StagingRow{}, err
	}
	bodyEnc, err := f.Cipher.Encrypt(msg.BodyText)
	if err != nil {
		return domain.StagingRow{}, err
	}
	receivedAtEnc, err := f.Cipher.Encrypt(msg.ReceivedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return domain.StagingRow{}, err
	}
	return domain.StagingRow{
		UserIDEnc:         p.UserIDEnc,
		SubjectEnc:        subjectEnc,
		SenderEnc:         senderEnc,
		BodyEnc:           bodyEnc,
		ReceivedAtEnc:     receivedAtEnc,
		TraceID:           p.TraceID,
		Provider:          f.ProviderName,
		ProviderMessageID: msg.ProviderMessageID,
		ThreadID:          msg.ThreadID,
		HistoryID:         msg.HistoryID,
		Status:            domain.StatusAwaitRelevance,
	}, nil
}
