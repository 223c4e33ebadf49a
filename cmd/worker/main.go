// Package main provides the pipeline worker entry point. The worker consumes
// stage tasks from the broker and runs the ingest, relevance, classification,
// NER and transfer stages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/appliedtrack/mailpipe/internal/adapter/fieldcrypt"
	"github.com/appliedtrack/mailpipe/internal/adapter/gmail"
	"github.com/appliedtrack/mailpipe/internal/adapter/model"
	asynqadp "github.com/appliedtrack/mailpipe/internal/adapter/queue/asynq"
	"github.com/appliedtrack/mailpipe/internal/adapter/repo/postgres"
	"github.com/appliedtrack/mailpipe/internal/config"
	"github.com/appliedtrack/mailpipe/internal/domain"
	"github.com/appliedtrack/mailpipe/internal/observability"
	"github.com/appliedtrack/mailpipe/internal/redact"
	"github.com/appliedtrack/mailpipe/internal/service/slotlock"
	"github.com/appliedtrack/mailpipe/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Metrics live on a dedicated port so the scrape target survives broker
	// hiccups.
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpt, err := redis.ParseURL(cfg.BrokerURL)
	if err != nil {
		slog.Error("broker url invalid", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpt)
	defer func() { _ = rdb.Close() }()

	cipher, err := fieldcrypt.New(cfg.EncryptionKey)
	if err != nil {
		slog.Error("encryption key invalid", slog.Any("error", err))
		os.Exit(1)
	}

	stagingRepo := postgres.NewStagingRepo(pool)
	appRepo := postgres.NewApplicationRepo(pool)
	credRepo := postgres.NewCredentialRepo(pool)

	provider := gmail.NewClient(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.ProviderHTTPTimeout)
	locker := slotlock.New(rdb, cfg.MaxSlotsPerUser, cfg.SlotTTL)

	relevanceModel, classifierModel, nerModel := buildModels(cfg)

	queue, err := asynqadp.New(cfg.BrokerURL)
	if err != nil {
		slog.Error("queue client init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = queue.Close() }()

	deps := asynqadp.WorkerDeps{
		Dispatch:  usecase.NewDispatcher(credRepo, provider, cipher, queue, cfg.EmailsPerBatch),
		Fetch:     usecase.NewFetcher(locker, provider, cipher, stagingRepo, queue, cfg.PostBatchSleep),
		Relevance: usecase.NewRelevance(stagingRepo, cipher, redact.New(nerModel), relevanceModel, queue, cfg.RelevanceThreshold, cfg.RelevanceInputCap, cfg.MaxRetries),
		Classify:  usecase.NewClassifier(stagingRepo, cipher, classifierModel, queue, cfg.ClassificationThreshold, cfg.ClassifierBatchSize, cfg.MaxRetries),
		NER:       usecase.NewNER(stagingRepo, cipher, nerModel, queue, cfg.MaxRetries),
		Transfer:  usecase.NewTransfer(stagingRepo, appRepo, cipher),
		Queue:     queue,
	}

	worker, err := asynqadp.NewWorker(cfg.BrokerURL, cfg.WorkerConcurrency, deps)
	if err != nil {
		slog.Error("worker init failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := worker.Start(ctx); err != nil {
		slog.Error("worker start failed", slog.Any("error", err))
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down worker")
	worker.Stop()
}

// buildModels wires the inference clients. An empty endpoint selects the
// deterministic stub so dev runs need no model servers.
func buildModels(cfg config.Config) (domain.RelevanceModel, domain.ZeroShotClassifier, domain.EntityRecognizer) {
	var (
		relevance  domain.RelevanceModel     = model.StubRelevance{}
		classifier domain.ZeroShotClassifier = model.StubClassifier{}
		ner        domain.EntityRecognizer   = model.StubRecognizer{}
	)
	if cfg.RelevanceModelURL != "" {
		relevance = model.NewRelevanceClient(cfg.RelevanceModelURL, cfg.ModelTimeout)
	}
	if cfg.ClassifierModelURL != "" {
		classifier = model.NewZeroShotClient(cfg.ClassifierModelURL, cfg.ModelTimeout)
	}
	if cfg.NERModelURL != "" {
		ner = model.NewNERClient(cfg.NERModelURL, cfg.ModelTimeout)
	}
	return relevance, classifier, ner
}
