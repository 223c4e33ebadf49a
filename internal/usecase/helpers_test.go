package usecase

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/appliedtrack/mailpipe/internal/domain"
)

// fakeCipher is a reversible marker cipher for tests.
type fakeCipher struct{}

func (fakeCipher) Encrypt(plaintext string) ([]byte, error) {
	return []byte("enc:" + plaintext), nil
}

func (fakeCipher) Decrypt(ciphertext []byte) (string, error) {
	s := string(ciphertext)
	if !strings.HasPrefix(s, "enc:") {
		return "", domain.ErrDecrypt
	}
	return strings.TrimPrefix(s, "enc:"), nil
}

func enc(s string) []byte { return []byte("enc:" + s) }

// fakeStaging is an in-memory StagingRepository.
type fakeStaging struct {
	mu     sync.Mutex
	rows   map[string]*domain.StagingRow
	nextID int
}

func newFakeStaging() *fakeStaging {
	return &fakeStaging{rows: map[string]*domain.StagingRow{}}
}

func (f *fakeStaging) InsertBatch(_ domain.Context, rows []domain.StagingRow) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var inserted []string
	for _, row := range rows {
		dup := false
		for _, existing := range f.rows {
			if existing.ProviderMessageID == row.ProviderMessageID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		f.nextID++
		r := row
		r.ID = "row-" + strconv.Itoa(f.nextID)
		r.Status = domain.StatusAwaitRelevance
		f.rows[r.ID] = &r
		inserted = append(inserted, r.ID)
	}
	return inserted, nil
}

func (f *fakeStaging) GetByStatus(_ domain.Context, ids []string, expected domain.EmailStatus) ([]domain.StagingRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.StagingRow
	for _, id := range ids {
		if row, ok := f.rows[id]; ok && row.Status == expected {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeStaging) UpdateStatus(_ domain.Context, ids []string, from, to domain.EmailStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if row, ok := f.rows[id]; ok && row.Status == from {
			row.Status = to
		}
	}
	return nil
}

func (f *fakeStaging) ApplyRelevance(_ domain.Context, updates []domain.RelevanceUpdate, from domain.EmailStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range updates {
		row, ok := f.rows[u.RowID]
		if !ok || row.Status != from {
			continue
		}
		conf := u.Confidence
		row.RelevanceConfidence = &conf
		row.Status = domain.StatusAwaitClassification
	}
	return nil
}

func (f *fakeStaging) ApplyClassification(_ domain.Context, updates []domain.ClassificationUpdate, from domain.EmailStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range updates {
		row, ok := f.rows[u.RowID]
		if !ok || row.Status != from {
			continue
		}
		stage, sec := u.AppStage, u.AppStageSecondary
		conf, secConf := u.ConfidenceScore, u.ConfidenceScoreSecondary
		row.AppStage = &stage
		row.AppStageSecondary = &sec
		row.ConfidenceScore = &conf
		row.ConfidenceScoreSecondary = &secConf
		row.NeedsReview = u.NeedsReview
		row.Status = domain.StatusAwaitTransfer
	}
	return nil
}

func (f *fakeStaging) MarkFailed(ctx domain.Context, ids []string, from domain.EmailStatus) error {
	return f.UpdateStatus(ctx, ids, from, domain.StatusFailedPermanently)
}

func (f *fakeStaging) rowOf(id string) domain.StagingRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		return *row
	}
	return domain.StagingRow{}
}

func (f *fakeStaging) statusOf(id string) domain.EmailStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		return row.Status
	}
	return ""
}

func (f *fakeStaging) seed(row domain.StagingRow) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if row.ID == "" {
		row.ID = "row-" + strconv.Itoa(f.nextID)
	}
	f.rows[row.ID] = &row
	return row.ID
}

// fakeApps is an in-memory ApplicationRepository keyed by provider message id.
type fakeApps struct {
	mu   sync.Mutex
	rows map[string]domain.ApplicationRow
}

func newFakeApps() *fakeApps { return &fakeApps{rows: map[string]domain.ApplicationRow{}} }

func (f *fakeApps) InsertIgnoreDuplicates(_ domain.Context, rows []domain.ApplicationRow) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, row := range rows {
		if _, ok := f.rows[row.ProviderMessageID]; ok {
			continue
		}
		f.rows[row.ProviderMessageID] = row
		n++
	}
	return n, nil
}

// fakeQueue records every enqueue.
type fakeQueue struct {
	mu              sync.Mutex
	syncs           []domain.SyncTaskPayload
	fetches         []domain.FetchTaskPayload
	fetchDelays     []time.Duration
	relevances      []domain.StageTaskPayload
	relevanceDelays []time.Duration
	classifications []domain.StageTaskPayload
	classifyDelays  []time.Duration
	ners            []domain.StageTaskPayload
	transfers       []domain.TransferTaskPayload
}

func (f *fakeQueue) EnqueueSync(_ domain.Context, p domain.SyncTaskPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, p)
	return nil
}

func (f *fakeQueue) EnqueueFetch(_ domain.Context, p domain.FetchTaskPayload, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, p)
	f.fetchDelays = append(f.fetchDelays, delay)
	return nil
}

func (f *fakeQueue) EnqueueRelevance(_ domain.Context, p domain.StageTaskPayload, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relevances = append(f.relevances, p)
	f.relevanceDelays = append(f.relevanceDelays, delay)
	return nil
}

func (f *fakeQueue) EnqueueClassification(_ domain.Context, p domain.StageTaskPayload, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classifications = append(f.classifications, p)
	f.classifyDelays = append(f.classifyDelays, delay)
	return nil
}

func (f *fakeQueue) EnqueueNER(_ domain.Context, p domain.StageTaskPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ners = append(f.ners, p)
	return nil
}

func (f *fakeQueue) EnqueueTransfer(_ domain.Context, p domain.TransferTaskPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, p)
	return nil
}

// fakeCreds is a static CredentialRepository.
type fakeCreds struct {
	tokens map[string][]byte
}

func (f *fakeCreds) HasRefreshToken(_ domain.Context, uid string) (bool, error) {
	_, ok := f.tokens[uid]
	return ok, nil
}

func (f *fakeCreds) RefreshToken(_ domain.Context, uid string) ([]byte, error) {
	t, ok := f.tokens[uid]
	if !ok {
		return nil, domain.ErrNoCredential
	}
	return t, nil
}

// fakeProvider is a scripted MailProvider.
type fakeProvider struct {
	accessToken string
	exchangeErr error
	listIDs     []string
	listErr     error
	batch       domain.BatchResult
	batchErr    error

	listCalls  int
	batchCalls int
}

func (f *fakeProvider) ExchangeRefreshToken(_ domain.Context, _ string) (string, error) {
	if f.exchangeErr != nil {
		return "", f.exchangeErr
	}
	return f.accessToken, nil
}

func (f *fakeProvider) ListMessageIDs(_ domain.Context, _ string, _ time.Time) ([]string, error) {
	f.listCalls++
	return f.listIDs, f.listErr
}

func (f *fakeProvider) BatchGetMessages(_ domain.Context, _ string, _ []string) (domain.BatchResult, error) {
	f.batchCalls++
	if f.batchErr != nil {
		return domain.BatchResult{}, f.batchErr
	}
	return f.batch, nil
}

// fakeLocker hands out up to n slots per user.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]int
	max  int
}

func newFakeLocker(max int) *fakeLocker { return &fakeLocker{held: map[string]int{}, max: max} }

func (f *fakeLocker) Acquire(_ domain.Context, uid string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[uid] >= f.max {
		return nil, domain.ErrLockBusy
	}
	f.held[uid]++
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.held[uid]--
		})
	}, nil
}

// fakeRelevance scores by scripted map with a default.
type fakeRelevance struct {
	scores map[string]float64
	def    float64
	err    error
	calls  [][]string
}

func (f *fakeRelevance) Score(_ domain.Context, texts []string) ([]float64, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(texts))
	for i, t := range texts {
		out[i] = f.def
		for marker, score := range f.scores {
			if strings.Contains(t, marker) {
				out[i] = score
				break
			}
		}
	}
	return out, nil
}

// fakeZeroShot returns the scripted prediction for every text, or errors for
// any batch containing failOn. batches records the size of each call.
type fakeZeroShot struct {
	pred    domain.Prediction
	failOn  string
	batches []int
}

func (f *fakeZeroShot) Classify(_ domain.Context, texts []string, _ []string, _ string) ([]domain.Prediction, error) {
	f.batches = append(f.batches, len(texts))
	out := make([]domain.Prediction, len(texts))
	for i, text := range texts {
		if f.failOn != "" && strings.Contains(text, f.failOn) {
			return nil, fmt.Errorf("scripted failure: %w", domain.ErrInference)
		}
		out[i] = f.pred
	}
	return out, nil
}

var errScripted = errors.New("scripted")

func prediction(pairs ...any) domain.Prediction {
	var p domain.Prediction
	for i := 0; i < len(pairs); i += 2 {
		p.Labels = append(p.Labels, pairs[i].(string))
		p.Scores = append(p.Scores, pairs[i+1].(float64))
	}
	return p
}
