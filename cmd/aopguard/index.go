package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Strob0t/aopguard/internal/adapter/filestore"
	cfnats "github.com/Strob0t/aopguard/internal/adapter/nats"
	"github.com/Strob0t/aopguard/internal/adapter/postgres"
	"github.com/Strob0t/aopguard/internal/config"
	"github.com/Strob0t/aopguard/internal/logger"
	"github.com/Strob0t/aopguard/internal/port/messagequeue"
	"github.com/Strob0t/aopguard/internal/service"
)

// indexSubject matches audit.records.<KIND> but not the .dlq subjects below it.
const indexSubject = messagequeue.SubjectAuditRecords + ".*"

// runIndex consumes record announcements from NATS and mirrors the records
// into the Postgres index until interrupted. It lets serve run with the
// Postgres sink disabled while the index is still kept current.
func runIndex(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, _, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !cfg.NATS.Enabled || !cfg.Postgres.Enabled {
		return errors.New("index requires nats.enabled and postgres.enabled")
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	indexer := service.NewRecordIndexer(filestore.Open(cfg.Audit.StorageDir), postgres.NewIndex(pool))
	cancel, err := queue.Subscribe(ctx, indexSubject, indexer.Handle)
	if err != nil {
		return err
	}
	defer cancel()

	slog.Info("indexing audit records", "subject", indexSubject, "audit_dir", cfg.Audit.StorageDir)
	<-ctx.Done()
	slog.Info("shutting down indexer")
	return nil
}
