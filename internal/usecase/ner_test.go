package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appliedtrack/mailpipe/internal/domain"
)

// fakeRecognizer returns the scripted entity list for every text, or errors.
type fakeRecognizer struct {
	entities []domain.Entity
	err      error
	calls    [][]string
}

func (f *fakeRecognizer) Recognize(_ domain.Context, texts []string) ([][]domain.Entity, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]domain.Entity, len(texts))
	for i := range out {
		out[i] = f.entities
	}
	return out, nil
}

func TestNERSendsSubjectAndBodyPerRow(t *testing.T) {
	staging := newFakeStaging()
	id := awaitClassificationRow(staging, "m1", "Interview at Acme", "See you in Denver.")

	model := &fakeRecognizer{entities: []domain.Entity{{Text: "Acme", Label: "ORG"}}}
	queue := &fakeQueue{}
	n := NewNER(staging, fakeCipher{}, model, queue, 3)

	err := n.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: []string{id}, Attempt: 1})
	require.NoError(t, err)

	require.Len(t, model.calls, 1)
	assert.Equal(t, []string{"Interview at Acme", "See you in Denver."}, model.calls[0])
	assert.Empty(t, queue.ners)
}

func TestNERSkipsRowsClassifierAlreadyMoved(t *testing.T) {
	staging := newFakeStaging()
	id := staging.seed(domain.StagingRow{
		ProviderMessageID: "m1",
		SubjectEnc:        enc("s"),
		BodyEnc:           enc("b"),
		Status:            domain.StatusAwaitTransfer,
	})

	model := &fakeRecognizer{}
	n := NewNER(staging, fakeCipher{}, model, &fakeQueue{}, 3)

	err := n.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: []string{id}, Attempt: 1})
	require.NoError(t, err)
	assert.Empty(t, model.calls)
}

func TestNERInferenceFailureReschedules(t *testing.T) {
	staging := newFakeStaging()
	id := awaitClassificationRow(staging, "m1", "s", "b")

	model := &fakeRecognizer{err: errScripted}
	queue := &fakeQueue{}
	n := NewNER(staging, fakeCipher{}, model, queue, 3)

	err := n.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: []string{id}, Attempt: 1})
	require.NoError(t, err)

	require.Len(t, queue.ners, 1)
	assert.Equal(t, []string{id}, queue.ners[0].RowIDs)
	assert.Equal(t, 2, queue.ners[0].Attempt)
	// the row's status belongs to the classifier and stays untouched
	assert.Equal(t, domain.StatusAwaitClassification, staging.statusOf(id))
}

func TestNERExhaustedAttemptsDropBatchQuietly(t *testing.T) {
	staging := newFakeStaging()
	id := awaitClassificationRow(staging, "m1", "s", "b")

	model := &fakeRecognizer{err: errScripted}
	queue := &fakeQueue{}
	n := NewNER(staging, fakeCipher{}, model, queue, 3)

	err := n.Process(t.Context(), domain.StageTaskPayload{TraceID: "t", RowIDs: []string{id}, Attempt: 4})
	require.NoError(t, err)

	assert.Empty(t, model.calls)
	assert.Empty(t, queue.ners)
	assert.Equal(t, domain.StatusAwaitClassification, staging.statusOf(id))
}
