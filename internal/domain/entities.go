// Package domain holds the core entities, ports and error taxonomy of the
// mail-processing pipeline. Adapters (queue, postgres, gmail, models) depend on
// this package, never the other way around.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockBusy          = errors.New("lock busy")
	ErrDecrypt           = errors.New("decrypt failed")
	ErrInference         = errors.New("model inference failed")
	ErrProviderGone      = errors.New("provider message gone")
	ErrNoCredential      = errors.New("no credential on file")
	ErrInternal          = errors.New("internal error")
)

// EmailStatus is the staging-row lifecycle state. Transitions are monotonic
// along the DAG: AWAIT_RELEVANCE -> {AWAIT_CLASSIFICATION, PURGE, RETRY,
// FAILED_PERMANENTLY}; AWAIT_CLASSIFICATION -> {AWAIT_TRANSFER, RETRY,
// FAILED_PERMANENTLY}; AWAIT_TRANSFER -> {PURGE, FAILED_PERMANENTLY}.
// A row with an outstanding retry task sits in RETRY, owned by that task;
// every status write is guarded on the writer's expected status so a stale
// redelivery can never move a row backwards.
type EmailStatus string

const (
	StatusAwaitRelevance      EmailStatus = "AWAIT_RELEVANCE"
	StatusAwaitClassification EmailStatus = "AWAIT_CLASSIFICATION"
	StatusAwaitTransfer       EmailStatus = "AWAIT_TRANSFER"
	StatusRetry               EmailStatus = "RETRY"
	StatusPurge               EmailStatus = "PURGE"
	StatusFailedPermanently   EmailStatus = "FAILED_PERMANENTLY"
)

// Stage is one of the five application stages written to the canonical table.
type Stage string

const (
	StageApplied   Stage = "Applied"
	StageInterview Stage = "Interview"
	StageOffer     Stage = "Offer"
	StageAccepted  Stage = "Accepted"
	StageRejected  Stage = "Rejected"
)

// ClassifierLabels is the fixed candidate label set submitted to the zero-shot
// classifier, in taxonomy order.
var ClassifierLabels = []string{"applied", "interview", "offer", "accepted", "rejected"}

var stageByLabel = map[string]Stage{
	"applied":   StageApplied,
	"interview": StageInterview,
	"offer":     StageOffer,
	"accepted":  StageAccepted,
	"rejected":  StageRejected,
}

// StageFromLabel maps a lowercase classifier label to its Stage.
func StageFromLabel(label string) (Stage, bool) {
	s, ok := stageByLabel[label]
	return s, ok
}

// StagingRow is one ingested message in internal_staging.email_staging.
// Sensitive fields are ciphertext at rest; plaintext exists only inside a
// worker while a stage processes the row.
type StagingRow struct {
	ID                       string
	UserIDEnc                []byte
	SubjectEnc               []byte
	SenderEnc                []byte
	BodyEnc                  []byte
	ReceivedAtEnc            []byte
	TraceID                  string
	Provider                 string
	ProviderMessageID        string
	ThreadID                 string
	HistoryID                string
	Status                   EmailStatus
	AppStage                 *Stage
	AppStageSecondary        *Stage
	ConfidenceScore          *int
	ConfidenceScoreSecondary *int
	RelevanceConfidence      *int
	NeedsReview              bool
	CreatedAt                time.Time
}

// ApplicationRow is one classified message in public.job_applications, keyed
// by ProviderMessageID so transfer replays are idempotent.
type ApplicationRow struct {
	ProviderMessageID        string
	UserUID                  string
	AppStage                 Stage
	StageConfidence          int
	AppStageSecondary        *Stage
	StageConfidenceSecondary *int
	NeedsReview              bool
	ProviderSource           string
	ReceivedAt               time.Time
	UpdatedAt                time.Time
	IsArchived               bool
	IsDeleted                bool
	RelevanceConfidence      *int
}

// RelevanceUpdate carries one row's relevance probability (integer percent)
// back to staging alongside the transition to AWAIT_CLASSIFICATION.
type RelevanceUpdate struct {
	RowID      string
	Confidence int
}

// ClassificationUpdate carries one row's classifier output back to staging.
type ClassificationUpdate struct {
	RowID                    string
	AppStage                 Stage
	ConfidenceScore          int
	AppStageSecondary        Stage
	ConfidenceScoreSecondary int
	NeedsReview              bool
}

// ParsedEmail is a provider message after payload extraction, before
// encryption and staging.
type ParsedEmail struct {
	ProviderMessageID string
	ThreadID          string
	HistoryID         string
	ReceivedAt        time.Time
	Subject           string
	Sender            string
	Recipient         string
	BodyText          string
}

// BatchResult pairs a batch-get's outcomes deterministically by provider
// message id: Messages parsed fine, RetryIDs hit transient errors (429/5xx),
// SkippedIDs vanished or failed permanently.
type BatchResult struct {
	Messages   []ParsedEmail
	RetryIDs   []string
	SkippedIDs []string
}

// Repositories (ports)

type StagingRepository interface {
	// InsertBatch inserts rows with ON CONFLICT (provider_message_id) DO
	// NOTHING and returns the ids actually inserted.
	InsertBatch(ctx Context, rows []StagingRow) ([]string, error)
	// GetByStatus loads rows among ids whose status matches expected. A stage
	// never admits rows outside its expected status.
	GetByStatus(ctx Context, ids []string, expected EmailStatus) ([]StagingRow, error)
	// UpdateStatus moves ids from one status to another; rows not in the from
	// status are left alone, keeping the lifecycle monotonic under replays.
	UpdateStatus(ctx Context, ids []string, from, to EmailStatus) error
	// ApplyRelevance writes relevance confidences and moves rows from the
	// expected status to AWAIT_CLASSIFICATION.
	ApplyRelevance(ctx Context, updates []RelevanceUpdate, from EmailStatus) error
	// ApplyClassification writes stage fields and moves rows from the expected
	// status to AWAIT_TRANSFER.
	ApplyClassification(ctx Context, updates []ClassificationUpdate, from EmailStatus) error
	// MarkFailed parks rows still in the from status in FAILED_PERMANENTLY.
	MarkFailed(ctx Context, ids []string, from EmailStatus) error
}

type ApplicationRepository interface {
	// InsertIgnoreDuplicates inserts rows idempotently on the
	// provider_message_id conflict target and reports how many landed.
	InsertIgnoreDuplicates(ctx Context, rows []ApplicationRow) (int64, error)
}

type CredentialRepository interface {
	HasRefreshToken(ctx Context, uid string) (bool, error)
	// RefreshToken returns the stored refresh credential ciphertext.
	RefreshToken(ctx Context, uid string) ([]byte, error)
}

// TaskQueue (port) enqueues typed stage tasks onto the broker, optionally with
// a countdown before first delivery.
type TaskQueue interface {
	EnqueueSync(ctx Context, p SyncTaskPayload) error
	EnqueueFetch(ctx Context, p FetchTaskPayload, delay time.Duration) error
	EnqueueRelevance(ctx Context, p StageTaskPayload, delay time.Duration) error
	EnqueueClassification(ctx Context, p StageTaskPayload, delay time.Duration) error
	EnqueueNER(ctx Context, p StageTaskPayload) error
	EnqueueTransfer(ctx Context, p TransferTaskPayload) error
}

// Cipher is the field encryption primitive. decrypt(encrypt(x)) == x.
type Cipher interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(ciphertext []byte) (string, error)
}

// SlotLocker caps concurrent provider work per user. Acquire returns
// ErrLockBusy when all slots are taken; the caller reschedules instead of
// blocking. release is safe to call on every exit path.
type SlotLocker interface {
	Acquire(ctx Context, uid string) (release func(), err error)
}

// MailProvider is the remote mail API surface used by the pipeline.
type MailProvider interface {
	ExchangeRefreshToken(ctx Context, refreshToken string) (accessToken string, err error)
	ListMessageIDs(ctx Context, accessToken string, after time.Time) ([]string, error)
	BatchGetMessages(ctx Context, accessToken string, ids []string) (BatchResult, error)
}

// RelevanceModel scores job-relatedness of texts; one probability per input.
type RelevanceModel interface {
	Score(ctx Context, texts []string) ([]float64, error)
}

// Prediction is a distribution over candidate labels, sorted descending.
type Prediction struct {
	Labels []string
	Scores []float64
}

// ZeroShotClassifier classifies free-form texts against candidate labels with
// a hypothesis template; one prediction per input, in order.
type ZeroShotClassifier interface {
	Classify(ctx Context, texts []string, labels []string, hypothesisTemplate string) ([]Prediction, error)
}

// Entity is a recognized named-entity span.
type Entity struct {
	Text  string
	Label string
	Start int
	End   int
}

// EntityRecognizer runs NER over a batch of texts.
type EntityRecognizer interface {
	Recognize(ctx Context, texts []string) ([][]Entity, error)
}

// Context aliases std context; kept so domain signatures read uniformly.
type Context = context.Context
