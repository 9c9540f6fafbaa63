package main

import (
	"context"
	"fmt"
	"log/slog"

	cfhttp "github.com/Strob0t/aopguard/internal/adapter/http"
	"github.com/Strob0t/aopguard/internal/adapter/filestore"
	"github.com/Strob0t/aopguard/internal/adapter/jsonschema"
	cfnats "github.com/Strob0t/aopguard/internal/adapter/nats"
	"github.com/Strob0t/aopguard/internal/adapter/natskv"
	cfotel "github.com/Strob0t/aopguard/internal/adapter/otel"
	"github.com/Strob0t/aopguard/internal/adapter/postgres"
	"github.com/Strob0t/aopguard/internal/adapter/ristretto"
	"github.com/Strob0t/aopguard/internal/adapter/tiered"
	"github.com/Strob0t/aopguard/internal/config"
	"github.com/Strob0t/aopguard/internal/port/auditstore"
	"github.com/Strob0t/aopguard/internal/port/cache"
	"github.com/Strob0t/aopguard/internal/port/schemavalidator"
	"github.com/Strob0t/aopguard/internal/resilience"
	"github.com/Strob0t/aopguard/internal/service"
)

// app holds the wired services and the infrastructure they run on.
type app struct {
	cfg *config.Config

	store      *filestore.Store
	router     *service.VersionRouter
	guardRails *service.GuardRailEngine
	auditor    *service.RepoAuditor
	metrics    *cfotel.Metrics

	sinks    []auditstore.Sink
	sessions auditstore.SessionLister
	probes   map[string]cfhttp.Probe

	closers []func()
}

// buildApp wires the record store, its cache tiers, the optional NATS and
// Postgres mirrors and the three services. Optional backends are only
// contacted when enabled in cfg.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, probes: map[string]cfhttp.Probe{}}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	a.metrics = metrics

	// --- Record-file cache: L1 in-process, L2 NATS KV when enabled ---
	l1, err := ristretto.NewMB(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	a.closers = append(a.closers, l1.Close)
	var recordCache cache.Cache = l1

	var publisher *cfnats.Publisher
	if cfg.NATS.Enabled {
		queue, err := cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		a.closers = append(a.closers, func() { _ = queue.Drain() })
		slog.Info("nats connected", "url", cfg.NATS.URL)

		kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("nats kv: %w", err)
		}
		recordCache = tiered.New(l1, natskv.New(kv), cfg.Cache.L2TTL)

		publisher = cfnats.NewPublisher(queue)
		a.addSink("nats", publisher)
		a.probes["nats"] = func(context.Context) error {
			if !queue.IsConnected() {
				return fmt.Errorf("not connected")
			}
			return nil
		}
	}

	// --- Postgres companion index ---
	if cfg.Postgres.Enabled {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected, migrations applied")

		idx := postgres.NewIndex(pool)
		a.addSink("postgres", idx)
		a.sessions = idx
		a.probes["postgres"] = idx.Ping
	}

	// --- Services ---
	store, err := filestore.New(cfg.Audit.StorageDir, filestore.WithCache(recordCache, cfg.Cache.L2TTL))
	if err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	a.store = store

	a.router = service.NewVersionRouter()
	a.router.SetMetrics(metrics)
	if publisher != nil {
		a.router.SetFallbackNotifier(publisher)
	}

	a.guardRails = service.NewGuardRailEngine()
	a.guardRails.SetMetrics(metrics)

	var schemas schemavalidator.Validator
	if cfg.Audit.SchemaDir != "" {
		schemas = jsonschema.NewValidator(cfg.Audit.SchemaDir)
	}
	a.auditor = service.NewRepoAuditor(store, schemas)
	a.auditor.SetMetrics(metrics)
	return nil
}

// addSink registers a record mirror behind a circuit breaker and reports the
// breaker on the health endpoint as "<name>_sink".
func (a *app) addSink(name string, sink auditstore.Sink) {
	guarded := resilience.GuardSink(name, sink, a.cfg.Audit.SinkMaxFailures, a.cfg.Audit.SinkCooldown)
	a.sinks = append(a.sinks, guarded)
	a.probes[name+"_sink"] = func(context.Context) error {
		if st := guarded.State(); st != "closed" {
			return fmt.Errorf("circuit %s, %d records not mirrored", st, guarded.Skipped())
		}
		return nil
	}
}

// loggerOptions configure AuditLoggers created on behalf of callers.
func (a *app) loggerOptions() []service.AuditLoggerOption {
	return []service.AuditLoggerOption{
		service.WithSinks(a.sinks...),
		service.WithOrchestrator(a.cfg.Audit.Orchestrator),
		service.WithLoggerMetrics(a.metrics),
	}
}

// Close releases infrastructure in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
