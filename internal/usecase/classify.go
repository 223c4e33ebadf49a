package usecase

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/appliedtrack/mailpipe/internal/domain"
	"github.com/appliedtrack/mailpipe/internal/observability"
	"github.com/appliedtrack/mailpipe/pkg/textx"
)

// HypothesisTemplate is the fixed zero-shot template; {} is replaced with a
// candidate label by the model service.
const HypothesisTemplate = "This email is a {}."

// Classifier assigns an application stage to each relevant row and moves it
// to AWAIT_TRANSFER.
type Classifier struct {
	Staging domain.StagingRepository
	Cipher  domain.Cipher
	Model   domain.ZeroShotClassifier
	Queue   domain.TaskQueue

	ConfidenceThreshold float64
	BatchSize           int
	MaxRetries          int
}

// NewClassifier constructs the classification stage.
func NewClassifier(staging domain.StagingRepository, cipher domain.Cipher, model domain.ZeroShotClassifier, queue domain.TaskQueue, confidenceThreshold float64, batchSize, maxRetries int) *Classifier {
	return &Classifier{
		Staging:             staging,
		Cipher:              cipher,
		Model:               model,
		Queue:               queue,
		ConfidenceThreshold: confidenceThreshold,
		BatchSize:           batchSize,
		MaxRetries:          maxRetries,
	}
}

// heuristicPhrases maps unambiguous keyword phrases to a stage label. First
// match in order wins, so more specific phrases sit above generic ones.
var heuristicPhrases = []struct {
	phrase string
	label  string
}{
	{"application received", "applied"},
	{"we received your application", "applied"},
	{"thank you for applying", "applied"},
	{"your application has been submitted", "applied"},
	{"schedule your interview", "interview"},
	{"interview confirmed", "interview"},
	{"phone screen", "interview"},
	{"please share your availability", "interview"},
	{"offer letter", "offer"},
	{"pleased to offer", "offer"},
	{"compensation package", "offer"},
	{"welcome aboard", "accepted"},
	{"your start date", "accepted"},
	{"onboarding", "accepted"},
	{"not selected", "rejected"},
	{"not moving forward", "rejected"},
	{"pursue other candidates", "rejected"},
	{"position has been filled", "rejected"},
}

// heuristicLabel returns the first matching phrase label, or "".
func heuristicLabel(text string) string {
	for _, h := range heuristicPhrases {
		if strings.Contains(text, h.phrase) {
			return h.label
		}
	}
	return ""
}

// Process classifies one batch of rows. Documents go to the model in chunks
// of BatchSize; a failed chunk collects into a retry set, successful rows get
// their stage fields written and move to AWAIT_TRANSFER in one conditional
// update.
func (c *Classifier) Process(ctx domain.Context, p domain.StageTaskPayload) error {
	log := observability.LoggerFromContext(ctx)
	expected := stageStatus(p.Attempt, domain.StatusAwaitClassification)

	if p.Attempt > c.MaxRetries {
		log.Error("classification retries exhausted", slog.Int("rows", len(p.RowIDs)))
		if err := c.Staging.MarkFailed(ctx, p.RowIDs, domain.StatusRetry); err != nil {
			return fmt.Errorf("op=classify.mark_failed: %w", err)
		}
		return nil
	}

	rows, err := c.Staging.GetByStatus(ctx, p.RowIDs, expected)
	if err != nil {
		return fmt.Errorf("op=classify.load: %w", err)
	}
	if len(rows) == 0 {
		log.Info("classification batch empty, rows already progressed")
		return nil
	}

	ids := make([]string, 0, len(rows))
	docs := make([]string, 0, len(rows))
	for _, row := range rows {
		doc, err := c.composeDocument(row)
		if err != nil {
			log.Warn("row omitted, decrypt failed",
				slog.String("row_id", row.ID), slog.Any("error", err))
			continue
		}
		ids = append(ids, row.ID)
		docs = append(docs, doc)
	}

	batch := c.BatchSize
	if batch < 1 {
		batch = 1
	}

	var (
		updates  []domain.ClassificationUpdate
		done     []string
		retrySet []string
	)
	for start := 0; start < len(docs); start += batch {
		end := start + batch
		if end > len(docs) {
			end = len(docs)
		}
		preds, err := c.Model.Classify(ctx, docs[start:end], domain.ClassifierLabels, HypothesisTemplate)
		if err != nil {
			retrySet = append(retrySet, ids[start:end]...)
			continue
		}
		for i, pred := range preds {
			update, err := c.decide(ids[start+i], docs[start+i], pred)
			if err != nil {
				log.Warn("row omitted, unusable prediction",
					slog.String("row_id", ids[start+i]), slog.Any("error", err))
				continue
			}
			updates = append(updates, update)
			done = append(done, ids[start+i])
		}
	}

	if len(updates) > 0 {
		if err := c.Staging.ApplyClassification(ctx, updates, expected); err != nil {
			return fmt.Errorf("op=classify.apply: %w", err)
		}
		tp := domain.TransferTaskPayload{TraceID: p.TraceID, RowIDs: done}
		if err := c.Queue.EnqueueTransfer(ctx, tp); err != nil {
			return fmt.Errorf("op=classify.enqueue_transfer: %w", err)
		}
	}

	if len(retrySet) > 0 {
		if err := c.Staging.UpdateStatus(ctx, retrySet, expected, domain.StatusRetry); err != nil {
			return fmt.Errorf("op=classify.mark_retry: %w", err)
		}
		next := domain.StageTaskPayload{TraceID: p.TraceID, RowIDs: retrySet, Attempt: p.Attempt + 1}
		if err := c.Queue.EnqueueClassification(ctx, next, domain.StageRetryCountdown(p.Attempt)); err != nil {
			return fmt.Errorf("op=classify.enqueue_retry: %w", err)
		}
	}

	log.Info("classification batch processed",
		slog.Int("classified", len(done)),
		slog.Int("retry", len(retrySet)))
	return nil
}

// composeDocument decrypts and normalizes the row's fields into the model
// input document.
func (c *Classifier) composeDocument(row domain.StagingRow) (string, error) {
	subject, err := c.Cipher.Decrypt(row.SubjectEnc)
	if err != nil {
		return "", fmt.Errorf("subject: %w", err)
	}
	sender, err := c.Cipher.Decrypt(row.SenderEnc)
	if err != nil {
		return "", fmt.Errorf("sender: %w", err)
	}
	body, err := c.Cipher.Decrypt(row.BodyEnc)
	if err != nil {
		return "", fmt.Errorf("body: %w", err)
	}
	return fmt.Sprintf("Subject: %s\nFrom: %s\nBody: %s",
		textx.NormalizeForClassifier(subject),
		textx.NormalizeForClassifier(sender),
		textx.NormalizeForClassifier(body)), nil
}

// decide applies the heuristic overlay to the model prediction:
//
//	heuristic matches second label  -> swap, needs_review
//	heuristic matches neither label -> keep top, needs_review
//	otherwise                       -> keep top, needs_review only on low
//	                                   confidence or a narrow gap
func (c *Classifier) decide(rowID, doc string, pred domain.Prediction) (domain.ClassificationUpdate, error) {
	if len(pred.Labels) < 2 || len(pred.Scores) < 2 {
		return domain.ClassificationUpdate{}, fmt.Errorf("prediction too short: %w", domain.ErrInference)
	}
	topLabel, topScore := pred.Labels[0], pred.Scores[0]
	secondLabel, secondScore := pred.Labels[1], pred.Scores[1]

	finalLabel, finalScore := topLabel, topScore
	otherLabel, otherScore := secondLabel, secondScore

	lowConfidence := topScore < c.ConfidenceThreshold || topScore-secondScore < 0.1
	needsReview := lowConfidence

	switch h := heuristicLabel(doc); h {
	case "", topLabel:
		// model and heuristic agree (or no signal); confidence rule decides
	case secondLabel:
		finalLabel, finalScore = secondLabel, secondScore
		otherLabel, otherScore = topLabel, topScore
		needsReview = true
	default:
		needsReview = true
	}

	stage, ok := domain.StageFromLabel(finalLabel)
	if !ok {
		return domain.ClassificationUpdate{}, fmt.Errorf("unknown label %q: %w", finalLabel, domain.ErrInference)
	}
	secondary, ok := domain.StageFromLabel(otherLabel)
	if !ok {
		return domain.ClassificationUpdate{}, fmt.Errorf("unknown label %q: %w", otherLabel, domain.ErrInference)
	}

	return domain.ClassificationUpdate{
		RowID:                    rowID,
		AppStage:                 stage,
		ConfidenceScore:          percent(finalScore),
		AppStageSecondary:        secondary,
		ConfidenceScoreSecondary: percent(otherScore),
		NeedsReview:              needsReview,
	}, nil
}

// percent converts a probability to an integer percentage.
func percent(score float64) int {
	return int(math.Round(score * 100))
}
