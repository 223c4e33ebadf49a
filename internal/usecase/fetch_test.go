package usecase

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appliedtrack/mailpipe/internal/domain"
)

func parsedEmail(id string) domain.ParsedEmail {
	return domain.ParsedEmail{
		ProviderMessageID: id,
		ThreadID:          "t-" + id,
		ReceivedAt:        time.Date(2025, 5, 2, 9, 30, 0, 0, time.UTC),
		Subject:           "Your application",
		Sender:            "jobs@example.com",
		BodyText:          "Thanks for applying.",
	}
}

func fetchPayload(ids ...string) domain.FetchTaskPayload {
	return domain.FetchTaskPayload{
		MessageIDs:     ids,
		UserIDEnc:      enc("u1"),
		AccessTokenEnc: enc("at-123"),
		TraceID:        "trace-1",
	}
}

func TestFetchStagesMessagesAndEnqueuesRelevance(t *testing.T) {
	provider := &fakeProvider{batch: domain.BatchResult{
		Messages: []domain.ParsedEmail{parsedEmail("m1"), parsedEmail("m2")},
	}}
	staging := newFakeStaging()
	queue := &fakeQueue{}
	f := NewFetcher(newFakeLocker(2), provider, fakeCipher{}, staging, queue, 0)

	err := f.Fetch(t.Context(), fetchPayload("m1", "m2"))
	require.NoError(t, err)

	require.Len(t, queue.relevances, 1)
	assert.Len(t, queue.relevances[0].RowIDs, 2)
	assert.Equal(t, 1, queue.relevances[0].Attempt)
	assert.Equal(t, "trace-1", queue.relevances[0].TraceID)
	for _, id := range queue.relevances[0].RowIDs {
		assert.Equal(t, domain.StatusAwaitRelevance, staging.statusOf(id))
	}

	row := staging.rows[queue.relevances[0].RowIDs[0]]
	assert.Equal(t, enc("Your application"), row.SubjectEnc)
	assert.Equal(t, enc("jobs@example.com"), row.SenderEnc)
	assert.Equal(t, enc("Thanks for applying."), row.BodyEnc)
	assert.Equal(t, enc("2025-05-02T09:30:00Z"), row.ReceivedAtEnc)
	assert.Equal(t, "gmail", row.Provider)
}

func TestFetchSplitsTransientIDsOntoRetryTask(t *testing.T) {
	var msgs []domain.ParsedEmail
	for i := 0; i < 7; i++ {
		msgs = append(msgs, parsedEmail("ok"+strconv.Itoa(i)))
	}
	provider := &fakeProvider{batch: domain.BatchResult{
		Messages: msgs,
		RetryIDs: []string{"r1", "r2", "r3"},
	}}
	staging := newFakeStaging()
	queue := &fakeQueue{}
	f := NewFetcher(newFakeLocker(2), provider, fakeCipher{}, staging, queue, 0)

	err := f.Fetch(t.Context(), fetchPayload("x"))
	require.NoError(t, err)

	require.Len(t, queue.relevances, 1)
	assert.Len(t, queue.relevances[0].RowIDs, 7)

	require.Len(t, queue.fetches, 1)
	assert.Equal(t, []string{"r1", "r2", "r3"}, queue.fetches[0].MessageIDs)
	assert.Equal(t, enc("u1"), queue.fetches[0].UserIDEnc)
	// 2s base plus jitter in [0.1, 0.7)
	delay := queue.fetchDelays[0]
	assert.GreaterOrEqual(t, delay, 2100*time.Millisecond)
	assert.Less(t, delay, 2700*time.Millisecond)
}

func TestFetchPropagatesLockBusy(t *testing.T) {
	locker := newFakeLocker(1)
	_, err := locker.Acquire(t.Context(), "u1")
	require.NoError(t, err)

	provider := &fakeProvider{batch: domain.BatchResult{}}
	queue := &fakeQueue{}
	f := NewFetcher(locker, provider, fakeCipher{}, newFakeStaging(), queue, 0)

	err = f.Fetch(t.Context(), fetchPayload("m1"))
	require.ErrorIs(t, err, domain.ErrLockBusy)
	assert.Zero(t, provider.batchCalls)
}

func TestFetchReleasesSlotOnFailure(t *testing.T) {
	locker := newFakeLocker(1)
	provider := &fakeProvider{batchErr: domain.ErrRateLimited}
	f := NewFetcher(locker, provider, fakeCipher{}, newFakeStaging(), &fakeQueue{}, 0)

	err := f.Fetch(t.Context(), fetchPayload("m1"))
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Zero(t, locker.held["u1"])
}

func TestFetchDuplicateMessagesEnqueueNothing(t *testing.T) {
	provider := &fakeProvider{batch: domain.BatchResult{
		Messages: []domain.ParsedEmail{parsedEmail("m1")},
	}}
	staging := newFakeStaging()
	queue := &fakeQueue{}
	f := NewFetcher(newFakeLocker(2), provider, fakeCipher{}, staging, queue, 0)

	require.NoError(t, f.Fetch(t.Context(), fetchPayload("m1")))
	require.NoError(t, f.Fetch(t.Context(), fetchPayload("m1")))

	// second run hit the conflict target; only the first staged anything
	assert.Len(t, queue.relevances, 1)
	assert.Len(t, staging.rows, 1)
}

func TestFetchQuotaPausePrecedesStaging(t *testing.T) {
	provider := &fakeProvider{batch: domain.BatchResult{
		Messages: []domain.ParsedEmail{parsedEmail("m1")},
	}}
	staging := newFakeStaging()
	queue := &fakeQueue{}
	f := NewFetcher(newFakeLocker(2), provider, fakeCipher{}, staging, queue, 500*time.Millisecond)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	// the pause sits between the provider call and staging, so a canceled
	// context bails out before anything is written
	err := f.Fetch(ctx, fetchPayload("m1"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, provider.batchCalls)
	assert.Empty(t, staging.rows)
	assert.Empty(t, queue.relevances)
}

func TestFetchSkippedIDsAreDropped(t *testing.T) {
	provider := &fakeProvider{batch: domain.BatchResult{
		SkippedIDs: []string{"gone1", "gone2"},
	}}
	staging := newFakeStaging()
	queue := &fakeQueue{}
	f := NewFetcher(newFakeLocker(2), provider, fakeCipher{}, staging, queue, 0)

	err := f.Fetch(t.Context(), fetchPayload("gone1", "gone2"))
	require.NoError(t, err)
	assert.Empty(t, queue.relevances)
	assert.Empty(t, queue.fetches)
	assert.Empty(t, staging.rows)
}
