// Package usecase implements the pipeline stages: dispatch, fetch, relevance,
// classification, NER and transfer. Each stage is a synchronous unit of work
// invoked by the queue worker; all cross-stage flow goes back through the
// broker.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/appliedtrack/mailpipe/internal/domain"
	"github.com/appliedtrack/mailpipe/internal/observability"
)

// Dispatcher starts a mailbox sync: it turns one user's consent into fetch
// tasks covering every message id in the sync window.
type Dispatcher struct {
	Creds    domain.CredentialRepository
	Provider domain.MailProvider
	Cipher   domain.Cipher
	Queue    domain.TaskQueue

	EmailsPerBatch int
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(creds domain.CredentialRepository, provider domain.MailProvider, cipher domain.Cipher, queue domain.TaskQueue, emailsPerBatch int) *Dispatcher {
	return &Dispatcher{Creds: creds, Provider: provider, Cipher: cipher, Queue: queue, EmailsPerBatch: emailsPerBatch}
}

// Dispatch lists the user's message ids newer than the window start and fans
// them out in EmailsPerBatch chunks. A user without a usable credential is
// skipped silently; sync is consent-driven.
func (d *Dispatcher) Dispatch(ctx domain.Context, p domain.SyncTaskPayload) error {
	log := observability.LoggerFromContext(ctx)

	has, err := d.Creds.HasRefreshToken(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("op=dispatch.credential_check: %w", err)
	}
	if !has {
		log.Info("sync skipped, no refresh credential on file")
		return nil
	}

	refreshEnc, err := d.Creds.RefreshToken(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNoCredential) {
			log.Info("sync skipped, credential vanished")
			return nil
		}
		return fmt.Errorf("op=dispatch.load_credential: %w", err)
	}
	refreshToken, err := d.Cipher.Decrypt(refreshEnc)
	if err != nil {
		return fmt.Errorf("op=dispatch.decrypt_credential: %w", err)
	}

	accessToken, err := d.Provider.ExchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrNoCredential) {
			// grant revoked; retrying cannot help
			log.Warn("sync aborted, refresh grant rejected")
			return nil
		}
		return fmt.Errorf("op=dispatch.token_exchange: %w", err)
	}

	ids, err := d.Provider.ListMessageIDs(ctx, accessToken, p.StartDate)
	if err != nil {
		return fmt.Errorf("op=dispatch.list: %w", err)
	}
	if len(ids) == 0 {
		log.Info("sync window empty")
		return nil
	}

	// the user id and access token travel between stages as ciphertext only
	userIDEnc, err := d.Cipher.Encrypt(p.UserID)
	if err != nil {
		return fmt.Errorf("op=dispatch.encrypt: %w", err)
	}
	accessTokenEnc, err := d.Cipher.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("op=dispatch.encrypt: %w", err)
	}

	batches := chunk(ids, d.EmailsPerBatch)
	for _, batch := range batches {
		fp := domain.FetchTaskPayload{
			MessageIDs:     batch,
			UserIDEnc:      userIDEnc,
			AccessTokenEnc: accessTokenEnc,
			TraceID:        p.TraceID,
		}
		if err := d.Queue.EnqueueFetch(ctx, fp, 0); err != nil {
			return fmt.Errorf("op=dispatch.enqueue_fetch: %w", err)
		}
	}
	log.Info("sync dispatched",
		slog.Int("message_ids", len(ids)),
		slog.Int("batches", len(batches)))
	return nil
}

// chunk splits ids into slices of at most size elements.
func chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
