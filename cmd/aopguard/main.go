// Command aopguard serves the AOP v2 governance API and audits recorded
// sessions from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfhttp "github.com/Strob0t/aopguard/internal/adapter/http"
	cfmcp "github.com/Strob0t/aopguard/internal/adapter/mcp"
	cfotel "github.com/Strob0t/aopguard/internal/adapter/otel"
	"github.com/Strob0t/aopguard/internal/config"
	"github.com/Strob0t/aopguard/internal/logger"
	"github.com/Strob0t/aopguard/internal/middleware"
)

func main() {
	err := run(os.Args[1:], os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errAuditFailed):
		os.Exit(2)
	default:
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return runServe(args)
	case "audit":
		return runAudit(args, stdout)
	case "replay":
		return runReplay(args, stdout)
	case "schema":
		return runSchema(args, stdout)
	case "migrate":
		return runMigrate(args, stdout)
	case "index":
		return runIndex(args)
	case "help":
		printHelp()
		return nil
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: aopguard [command] [options]

Commands:
  serve              Serve the HTTP API (default)
  audit <session>    Run every compliance check over a session
  replay <session>   Print the annotated replay of a session
  schema --out DIR   Write the message JSON Schema documents
  migrate up|down [N]|status
                     Manage the Postgres record index schema
  index              Mirror records announced on NATS into Postgres
  help               Show this help message

Options:
  -c, --config PATH  YAML config file (default aopguard.yaml)
  -p, --port PORT    HTTP listen port
  --log-level LEVEL  debug, info, warn or error
  --audit-dir DIR    Audit trail storage directory
  --schema-dir DIR   JSON Schema document directory
`)
}

func runServe(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"audit_dir", cfg.Audit.StorageDir,
		"nats", cfg.NATS.Enabled,
		"postgres", cfg.Postgres.Enabled,
		"otel", cfg.OTEL.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(flushCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// --- HTTP ---
	handlers := &cfhttp.Handlers{
		Router:        a.router,
		GuardRails:    a.guardRails,
		Auditor:       a.auditor,
		Store:         a.store,
		Sessions:      a.sessions,
		LoggerOptions: a.loggerOptions(),
		Probes:        a.probes,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(cfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.OTEL.Enabled {
		r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	}

	cfhttp.MountRoutes(r, handlers)

	if cfg.MCP.Enabled {
		mcpSrv := cfmcp.NewServer(cfmcp.ServerConfig{
			Name:    "aopguard",
			Version: cfhttp.Version,
			APIKey:  cfg.MCP.APIKey,
		}, cfmcp.ServerDeps{Detector: a.router, Auditor: a.auditor})
		r.Handle(cfg.MCP.Path, mcpSrv.Handler())
		slog.Info("mcp tools mounted", "path", cfg.MCP.Path)
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
