package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/requestnet/internal/doctor"
	"github.com/mattjoyce/requestnet/internal/feed"
	"github.com/mattjoyce/requestnet/internal/ledger"
	"github.com/mattjoyce/requestnet/internal/lock"
	"github.com/mattjoyce/requestnet/internal/log"
	"github.com/mattjoyce/requestnet/internal/metrics"
	"github.com/mattjoyce/requestnet/internal/server"
	"github.com/mattjoyce/requestnet/internal/storage"
	"github.com/mattjoyce/requestnet/pkg/dispatch"
	"github.com/mattjoyce/requestnet/pkg/schema"
	"github.com/mattjoyce/requestnet/pkg/webhook"
)

const feedCapacity = 256

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	listen := fs.String("listen", "", "Override webhook.listen")
	dbPath := fs.String("db", "", "Override state.path")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Webhook.Listen = *listen
	}
	if *dbPath != "" {
		cfg.State.Path = *dbPath
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("requestnet starting", "version", version, "config", cfg.SourcePath)

	report := doctor.New(cfg).Validate()
	for _, w := range report.Warnings {
		logger.Warn("config warning", "category", w.Category, "field", w.Field, "message", w.Message)
	}
	if !report.Valid {
		for _, e := range report.Errors {
			logger.Error("config error", "category", e.Category, "field", e.Field, "message", e.Message)
		}
		return 1
	}

	if lockPath := lock.PathFor(cfg.State.Path); lockPath != "" {
		pidLock, err := lock.Acquire(lockPath)
		if err != nil {
			logger.Error("failed to acquire state lock (another receiver may be running)", "path", lockPath, "error", err)
			return 1
		}
		defer pidLock.Release()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()

	registry := schema.Default()
	led := ledger.New(db)
	disp := dispatch.New(dispatch.WithLogger(log.WithComponent("dispatch")))
	registerLogHandlers(disp, registry)

	srv, err := server.New(*cfg, server.Deps{
		Dispatcher: disp,
		Recorder:   led,
		Feed:       feed.New(feedCapacity),
		Metrics:    metrics.New(),
		Registry:   registry,
		Logger:     log.Get(),
	})
	if err != nil {
		logger.Error("failed to build receiver", "error", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		pruneLog := log.WithComponent("ledger")
		return led.RunPruner(gctx, cfg.State.Retention, cfg.State.PruneInterval, func(n int64, err error) {
			if err != nil {
				pruneLog.Error("ledger prune failed", "error", err)
				return
			}
			pruneLog.Info("pruned old deliveries", "count", n, "retention", cfg.State.Retention)
		})
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("receiver stopped with error", "error", err)
		return 1
	}
	logger.Info("requestnet stopped")
	return 0
}

// registerLogHandlers logs every known event so a bare receiver still
// leaves a trace of what it accepted.
func registerLogHandlers(d *dispatch.Dispatcher, reg *schema.Registry) {
	for _, name := range reg.Events() {
		l := log.WithEvent(name)
		d.On(name, func(ctx context.Context, ev *webhook.ParsedEvent) error {
			l.Info("webhook event received",
				slog.Bool("verified", ev.Verified()),
				slog.String("fingerprint", ev.Fingerprint()),
			)
			return nil
		})
	}
}
