// Package main provides syncctl, a small operator CLI that enqueues an
// initial-sync task for one user.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"

	asynqadp "github.com/appliedtrack/mailpipe/internal/adapter/queue/asynq"
	"github.com/appliedtrack/mailpipe/internal/config"
	"github.com/appliedtrack/mailpipe/internal/domain"
)

func main() {
	uid := flag.String("uid", "", "user id to sync (required)")
	daysBack := flag.Int("days-back", 30, "sync window size in days")
	flag.Parse()

	if *uid == "" {
		log.Fatal("missing -uid")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	queue, err := asynqadp.New(cfg.BrokerURL)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = queue.Close() }()

	p := domain.SyncTaskPayload{
		UserID:    *uid,
		TraceID:   uuid.NewString(),
		StartDate: time.Now().UTC().AddDate(0, 0, -*daysBack),
	}
	if err := queue.EnqueueSync(context.Background(), p); err != nil {
		log.Fatal(err)
	}
	log.Printf("sync enqueued user=%s trace=%s window_start=%s",
		p.UserID, p.TraceID, p.StartDate.Format(time.RFC3339))
}
