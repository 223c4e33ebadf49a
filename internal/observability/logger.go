// Package observability provides logging, metrics, and tracing for the
// pipeline workers.
package observability

import (
	"log/slog"
	"os"

	"github.com/appliedtrack/mailpipe/internal/config"
)

// SetupLogger configures a slog logger with environment fields. Dev gets a
// human-readable text handler at debug level, everything else JSON at info.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	var h slog.Handler
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}
