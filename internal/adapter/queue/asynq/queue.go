// Package asynqadp binds the pipeline's stage tasks to the asynq broker:
// typed enqueues on named queues, countdown delivery, and the worker mux.
package asynqadp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/appliedtrack/mailpipe/internal/domain"
)

// Task type names double as routing keys; each stage consumes exactly one.
const (
	TaskInitialSync    = "gmail_initial_sync"
	TaskFetchContent   = "gmail_fetch_content"
	TaskRelevance      = "relevance_model"
	TaskClassification = "classification_model"
	TaskNER            = "ner_model"
	TaskTransfer       = "staging_to_job_apps"
)

// Queue names, one per stage.
const (
	QueueInitialSync    = "gmail_initial_sync_queue"
	QueueFetchContent   = "gmail_fetch_content_queue"
	QueueRelevance      = "relevance_model_queue"
	QueueClassification = "classification_model_queue"
	QueueNER            = "ner_model_queue"
	QueueTransfer       = "staging_to_job_apps_queue"
)

// brokerMaxRetry bounds broker-level redelivery of infrastructure failures.
// Stage-level retry budgets travel in the payload instead.
const brokerMaxRetry = 5

// Queue implements domain.TaskQueue on an asynq client.
type Queue struct{ client *asynq.Client }

// New connects an enqueue-only client to the broker URL.
func New(redisURL string) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=queue.new: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt)}, nil
}

// Close releases the broker connection.
func (q *Queue) Close() error { return q.client.Close() }

func (q *Queue) enqueue(ctx domain.Context, taskType, queue string, payload any, delay time.Duration) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=queue.enqueue: encode %s: %w", taskType, err)
	}
	opts := []asynq.Option{asynq.Queue(queue), asynq.MaxRetry(brokerMaxRetry)}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	if _, err := q.client.EnqueueContext(ctx, asynq.NewTask(taskType, b), opts...); err != nil {
		return fmt.Errorf("op=queue.enqueue: %s: %w", taskType, err)
	}
	return nil
}

// EnqueueSync starts an ingest for one user.
func (q *Queue) EnqueueSync(ctx domain.Context, p domain.SyncTaskPayload) error {
	return q.enqueue(ctx, TaskInitialSync, QueueInitialSync, p, 0)
}

// EnqueueFetch delivers one message-id batch to the fetch stage, optionally
// after a countdown.
func (q *Queue) EnqueueFetch(ctx domain.Context, p domain.FetchTaskPayload, delay time.Duration) error {
	return q.enqueue(ctx, TaskFetchContent, QueueFetchContent, p, delay)
}

// EnqueueRelevance delivers row ids to the relevance stage.
func (q *Queue) EnqueueRelevance(ctx domain.Context, p domain.StageTaskPayload, delay time.Duration) error {
	return q.enqueue(ctx, TaskRelevance, QueueRelevance, p, delay)
}

// EnqueueClassification delivers row ids to the classification stage.
func (q *Queue) EnqueueClassification(ctx domain.Context, p domain.StageTaskPayload, delay time.Duration) error {
	return q.enqueue(ctx, TaskClassification, QueueClassification, p, delay)
}

// EnqueueNER delivers row ids to the NER stage.
func (q *Queue) EnqueueNER(ctx domain.Context, p domain.StageTaskPayload) error {
	return q.enqueue(ctx, TaskNER, QueueNER, p, 0)
}

// EnqueueTransfer delivers classified row ids to the transfer stage.
func (q *Queue) EnqueueTransfer(ctx domain.Context, p domain.TransferTaskPayload) error {
	return q.enqueue(ctx, TaskTransfer, QueueTransfer, p, 0)
}
