package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appliedtrack/mailpipe/internal/domain"
)

func awaitClassificationRow(staging *fakeStaging, msgID, subject, body string) string {
	return staging.seed(domain.StagingRow{
		UserIDEnc:         enc("u1"),
		SubjectEnc:        enc(subject),
		SenderEnc:         enc("jobs@example.com"),
		BodyEnc:           enc(body),
		ReceivedAtEnc:     enc("2025-05-02T09:30:00Z"),
		Provider:          "gmail",
		ProviderMessageID: msgID,
		Status:            domain.StatusAwaitClassification,
	})
}

func newClassifier(staging *fakeStaging, model domain.ZeroShotClassifier, queue *fakeQueue) *Classifier {
	return NewClassifier(staging, fakeCipher{}, model, queue, 0.6, 1, 3)
}

func TestClassifyConfidentPrediction(t *testing.T) {
	staging := newFakeStaging()
	id := awaitClassificationRow(staging, "m1", "Update on your candidacy", "We look forward to next steps.")

	model := &fakeZeroShot{pred: prediction("applied", 0.82, "interview", 0.08, "rejected", 0.05, "offer", 0.03, "accepted", 0.02)}
	queue := &fakeQueue{}
	c := newClassifier(staging, model, queue)

	err := c.Process(t.Context(), domain.StageTaskPayload{TraceID: "trace-1", RowIDs: []string{id}, Attempt: 1})
	require.NoError(t, err)

	row := staging.rows[id]
	assert.Equal(t, domain.StatusAwaitTransfer, row.Status)
	require.NotNil(t, row.AppStage)
	assert.Equal(t, domain.StageApplied, *row.AppStage)
	assert.Equal(t, 82, *row.ConfidenceScore)
	assert.Equal(t, domain.StageInterview, *row.AppStageSecondary)
	assert.Equal(t, 8, *row.ConfidenceScoreSecondary)
	assert.False(t, row.NeedsReview)

	require.Len(t, queue.transfers, 1)
	assert.Equal(t, []string{id}, queue.transfers[0].RowIDs)
	assert.Equal(t, "trace-1", queue.transfers[0].TraceID)
}

func TestClassifyHeuristicOverridesToSecondLabel(t *testing.T) {
	staging := newFakeStaging()
	id := awaitClassificationRow(staging, "m1", "Re: software engineer",
		"Good news, your application received a first pass.")

	// model leans interview but the body carries an applied-stage phrase
	model := &fakeZeroShot{pred: prediction("interview", 0.62, "applied", 0.55, "offer", 0.1, "rejected", 0.05, "accepted", 0.02)}
	queue := &fakeQueue{}
	c := newClassifier(staging, model, queue)

	err := c.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: []string{id}, Attempt: 1})
	require.NoError(t, err)

	row := staging.rows[id]
	assert.Equal(t, domain.StageApplied, *row.AppStage)
	assert.Equal(t, 55, *row.ConfidenceScore)
	assert.Equal(t, domain.StageInterview, *row.AppStageSecondary)
	assert.Equal(t, 62, *row.ConfidenceScoreSecondary)
	assert.True(t, row.NeedsReview)
}

func TestClassifyHeuristicAgreesWithTop(t *testing.T) {
	staging := newFakeStaging()
	id := awaitClassificationRow(staging, "m1", "Interview confirmed for Tuesday", "See you then.")

	model := &fakeZeroShot{pred: prediction("interview", 0.88, "applied", 0.06, "offer", 0.03, "rejected", 0.02, "accepted", 0.01)}
	queue := &fakeQueue{}
	c := newClassifier(staging, model, queue)

	err := c.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: []string{id}, Attempt: 1})
	require.NoError(t, err)

	row := staging.rows[id]
	assert.Equal(t, domain.StageInterview, *row.AppStage)
	assert.False(t, row.NeedsReview)
}

func TestClassifyHeuristicMatchesNeitherLabel(t *testing.T) {
	staging := newFakeStaging()
	id := awaitClassificationRow(staging, "m1", "Your offer letter", "Attached is the paperwork.")

	// heuristic says offer; the model's top two disagree
	model := &fakeZeroShot{pred: prediction("applied", 0.8, "interview", 0.1, "offer", 0.05, "rejected", 0.03, "accepted", 0.02)}
	queue := &fakeQueue{}
	c := newClassifier(staging, model, queue)

	err := c.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: []string{id}, Attempt: 1})
	require.NoError(t, err)

	row := staging.rows[id]
	assert.Equal(t, domain.StageApplied, *row.AppStage)
	assert.True(t, row.NeedsReview)
}

func TestClassifyNarrowGapNeedsReview(t *testing.T) {
	staging := newFakeStaging()
	id := awaitClassificationRow(staging, "m1", "Congratulations", "Great news about your future with us.")

	model := &fakeZeroShot{pred: prediction("offer", 0.51, "accepted", 0.49, "applied", 0.0, "interview", 0.0, "rejected", 0.0)}
	queue := &fakeQueue{}
	c := newClassifier(staging, model, queue)

	err := c.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: []string{id}, Attempt: 1})
	require.NoError(t, err)

	row := staging.rows[id]
	assert.Equal(t, domain.StageOffer, *row.AppStage)
	assert.Equal(t, 51, *row.ConfidenceScore)
	assert.True(t, row.NeedsReview)
}

func TestClassifyLowTopScoreNeedsReview(t *testing.T) {
	staging := newFakeStaging()
	id := awaitClassificationRow(staging, "m1", "Checking in", "A quick note about timing.")

	model := &fakeZeroShot{pred: prediction("interview", 0.45, "applied", 0.2, "offer", 0.15, "rejected", 0.12, "accepted", 0.08)}
	queue := &fakeQueue{}
	c := newClassifier(staging, model, queue)

	err := c.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: []string{id}, Attempt: 1})
	require.NoError(t, err)

	row := staging.rows[id]
	assert.Equal(t, domain.StageInterview, *row.AppStage)
	assert.True(t, row.NeedsReview)
}

func TestClassifyFailedRowsRetryWhileOthersAdvance(t *testing.T) {
	staging := newFakeStaging()
	good := awaitClassificationRow(staging, "m1", "Status", "All fine here.")
	bad := awaitClassificationRow(staging, "m2", "Status", "trigger-failure inside body.")

	model := &fakeZeroShot{
		pred:   prediction("applied", 0.9, "interview", 0.05, "offer", 0.03, "rejected", 0.01, "accepted", 0.01),
		failOn: "trigger-failure",
	}
	queue := &fakeQueue{}
	c := newClassifier(staging, model, queue)

	err := c.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: []string{good, bad}, Attempt: 1})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusAwaitTransfer, staging.statusOf(good))
	assert.Equal(t, domain.StatusRetry, staging.statusOf(bad))

	require.Len(t, queue.transfers, 1)
	assert.Equal(t, []string{good}, queue.transfers[0].RowIDs)
	require.Len(t, queue.classifications, 1)
	assert.Equal(t, []string{bad}, queue.classifications[0].RowIDs)
	assert.Equal(t, 2, queue.classifications[0].Attempt)
	assert.Equal(t, time.Minute, queue.classifyDelays[0])
}

func TestClassifyRetryReadsRetryRows(t *testing.T) {
	staging := newFakeStaging()
	id := staging.seed(domain.StagingRow{
		UserIDEnc:         enc("u1"),
		SubjectEnc:        enc("Status"),
		SenderEnc:         enc("jobs@example.com"),
		BodyEnc:           enc("All fine here."),
		ProviderMessageID: "m1",
		Status:            domain.StatusRetry,
	})

	model := &fakeZeroShot{pred: prediction("applied", 0.9, "interview", 0.05, "offer", 0.03, "rejected", 0.01, "accepted", 0.01)}
	queue := &fakeQueue{}
	c := newClassifier(staging, model, queue)

	err := c.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: []string{id}, Attempt: 2})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusAwaitTransfer, staging.statusOf(id))
	require.Len(t, queue.transfers, 1)
}

func TestClassifyBatchesDocumentsByBatchSize(t *testing.T) {
	staging := newFakeStaging()
	ids := []string{
		awaitClassificationRow(staging, "m1", "Status", "one"),
		awaitClassificationRow(staging, "m2", "Status", "two"),
		awaitClassificationRow(staging, "m3", "Status", "three"),
	}

	model := &fakeZeroShot{pred: prediction("applied", 0.9, "interview", 0.05, "offer", 0.03, "rejected", 0.01, "accepted", 0.01)}
	queue := &fakeQueue{}
	c := newClassifier(staging, model, queue)
	c.BatchSize = 2

	err := c.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: ids, Attempt: 1})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 1}, model.batches)
	for _, id := range ids {
		assert.Equal(t, domain.StatusAwaitTransfer, staging.statusOf(id))
	}
}

func TestClassifyFailedChunkRetriesWhole(t *testing.T) {
	staging := newFakeStaging()
	a := awaitClassificationRow(staging, "m1", "Status", "fine")
	b := awaitClassificationRow(staging, "m2", "Status", "trigger-failure here")

	model := &fakeZeroShot{
		pred:   prediction("applied", 0.9, "interview", 0.05, "offer", 0.03, "rejected", 0.01, "accepted", 0.01),
		failOn: "trigger-failure",
	}
	queue := &fakeQueue{}
	c := newClassifier(staging, model, queue)
	c.BatchSize = 2

	err := c.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: []string{a, b}, Attempt: 1})
	require.NoError(t, err)

	// one row poisons the chunk; both come back on the retry task
	assert.Equal(t, domain.StatusRetry, staging.statusOf(a))
	assert.Equal(t, domain.StatusRetry, staging.statusOf(b))
	require.Len(t, queue.classifications, 1)
	assert.ElementsMatch(t, []string{a, b}, queue.classifications[0].RowIDs)
	assert.Empty(t, queue.transfers)
}

func TestClassifyExhaustedAttemptsFailRows(t *testing.T) {
	staging := newFakeStaging()
	id := staging.seed(domain.StagingRow{
		UserIDEnc:         enc("u1"),
		SubjectEnc:        enc("Status"),
		SenderEnc:         enc("jobs@example.com"),
		BodyEnc:           enc("body"),
		ProviderMessageID: "m1",
		Status:            domain.StatusRetry,
	})

	model := &fakeZeroShot{pred: prediction("applied", 0.9, "interview", 0.05)}
	queue := &fakeQueue{}
	c := newClassifier(staging, model, queue)

	err := c.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: []string{id}, Attempt: 4})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailedPermanently, staging.statusOf(id))
	assert.Empty(t, model.batches)
	assert.Empty(t, queue.transfers)
	assert.Empty(t, queue.classifications)
}

func TestClassifyExhaustionLeavesProgressedRowsAlone(t *testing.T) {
	staging := newFakeStaging()
	id := staging.seed(domain.StagingRow{ProviderMessageID: "m1", Status: domain.StatusPurge})

	model := &fakeZeroShot{pred: prediction("applied", 0.9, "interview", 0.05)}
	queue := &fakeQueue{}
	c := newClassifier(staging, model, queue)

	// a stale exhausted delivery lands after the row already purged
	err := c.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: []string{id}, Attempt: 4})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPurge, staging.statusOf(id))
	assert.Empty(t, model.batches)
}

func TestClassifyEmptyBatchIsNoop(t *testing.T) {
	staging := newFakeStaging()
	id := staging.seed(domain.StagingRow{ProviderMessageID: "m1", Status: domain.StatusPurge})

	model := &fakeZeroShot{pred: prediction("applied", 0.9, "interview", 0.05)}
	queue := &fakeQueue{}
	c := newClassifier(staging, model, queue)

	err := c.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: []string{id}, Attempt: 1})
	require.NoError(t, err)
	assert.Empty(t, model.batches)
	assert.Empty(t, queue.transfers)
}
