package asynqadp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/appliedtrack/mailpipe/internal/domain"
	"github.com/appliedtrack/mailpipe/internal/observability"
)

// Stage handlers consumed by the worker. Each maps to one usecase.
type (
	// Dispatcher runs the initial-sync stage.
	Dispatcher interface {
		Dispatch(ctx domain.Context, p domain.SyncTaskPayload) error
	}
	// Fetcher runs the content-fetch stage.
	Fetcher interface {
		Fetch(ctx domain.Context, p domain.FetchTaskPayload) error
	}
	// StageProcessor runs one of the model stages over staged rows.
	StageProcessor interface {
		Process(ctx domain.Context, p domain.StageTaskPayload) error
	}
	// Transferrer runs the staging-to-applications stage.
	Transferrer interface {
		Transfer(ctx domain.Context, p domain.TransferTaskPayload) error
	}
)

// Worker hosts the asynq server and routes each task type to its stage.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// WorkerDeps collects the stage handlers plus the queue used for lock-busy
// fetch reschedules.
type WorkerDeps struct {
	Dispatch   Dispatcher
	Fetch      Fetcher
	Relevance  StageProcessor
	Classify   StageProcessor
	NER        StageProcessor
	Transfer   Transferrer
	Queue      domain.TaskQueue
}

// NewWorker builds the consumer. Fetch-queue redeliveries use the provider
// backoff curve; everything else keeps asynq's default.
func NewWorker(redisURL string, concurrency int, deps WorkerDeps) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=worker.new: %w", err)
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueInitialSync:    1,
			QueueFetchContent:   2,
			QueueRelevance:      2,
			QueueClassification: 2,
			QueueNER:            1,
			QueueTransfer:       2,
		},
		RetryDelayFunc: func(n int, _ error, task *asynq.Task) time.Duration {
			if task.Type() == TaskFetchContent || task.Type() == TaskInitialSync {
				return domain.FetchBackoff(n)
			}
			return asynq.DefaultRetryDelayFunc(n, nil, task)
		},
	})

	w := &Worker{server: srv, mux: asynq.NewServeMux()}
	validate := validator.New()

	w.mux.HandleFunc(TaskInitialSync, stageHandler("dispatch", validate, func(ctx context.Context, p domain.SyncTaskPayload) error {
		return deps.Dispatch.Dispatch(withTrace(ctx, p.TraceID), p)
	}))
	w.mux.HandleFunc(TaskFetchContent, stageHandler("fetch", validate, func(ctx context.Context, p domain.FetchTaskPayload) error {
		ctx = withTrace(ctx, p.TraceID)
		err := deps.Fetch.Fetch(ctx, p)
		if errors.Is(err, domain.ErrLockBusy) {
			// no free slot is not a failure; reschedule without touching
			// the broker retry count
			retried, _ := asynq.GetRetryCount(ctx)
			delay := domain.FetchBackoff(retried + 1)
			observability.LoggerFromContext(ctx).Info("fetch rescheduled, user slots busy",
				slog.Duration("delay", delay))
			return deps.Queue.EnqueueFetch(ctx, p, delay)
		}
		return err
	}))
	w.mux.HandleFunc(TaskRelevance, stageHandler("relevance", validate, func(ctx context.Context, p domain.StageTaskPayload) error {
		return deps.Relevance.Process(withTrace(ctx, p.TraceID), p)
	}))
	w.mux.HandleFunc(TaskClassification, stageHandler("classification", validate, func(ctx context.Context, p domain.StageTaskPayload) error {
		return deps.Classify.Process(withTrace(ctx, p.TraceID), p)
	}))
	w.mux.HandleFunc(TaskNER, stageHandler("ner", validate, func(ctx context.Context, p domain.StageTaskPayload) error {
		return deps.NER.Process(withTrace(ctx, p.TraceID), p)
	}))
	w.mux.HandleFunc(TaskTransfer, stageHandler("transfer", validate, func(ctx context.Context, p domain.TransferTaskPayload) error {
		return deps.Transfer.Transfer(withTrace(ctx, p.TraceID), p)
	}))

	return w, nil
}

// Start begins consuming; it returns once the server is running.
func (w *Worker) Start(context.Context) error { return w.server.Start(w.mux) }

// Stop drains in-flight tasks and shuts the server down.
func (w *Worker) Stop() { w.server.Shutdown() }

// stageHandler decodes and validates the payload, times the stage, and
// records the outcome. A payload that fails validation is dropped rather than
// redelivered forever.
func stageHandler[P any](stage string, validate *validator.Validate, fn func(ctx context.Context, p P) error) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p P
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			observability.TasksProcessedTotal.WithLabelValues(stage, "invalid").Inc()
			return fmt.Errorf("op=worker.%s: decode: %v: %w", stage, err, asynq.SkipRetry)
		}
		if err := validate.Struct(p); err != nil {
			observability.TasksProcessedTotal.WithLabelValues(stage, "invalid").Inc()
			return fmt.Errorf("op=worker.%s: validate: %v: %w", stage, err, asynq.SkipRetry)
		}

		start := time.Now()
		err := fn(ctx, p)
		observability.TaskDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
		if err != nil {
			observability.TasksProcessedTotal.WithLabelValues(stage, "error").Inc()
			return fmt.Errorf("op=worker.%s: %w", stage, err)
		}
		observability.TasksProcessedTotal.WithLabelValues(stage, "ok").Inc()
		return nil
	}
}

func withTrace(ctx context.Context, traceID string) context.Context {
	return observability.ContextWithTraceID(ctx, traceID)
}
