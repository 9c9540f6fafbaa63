package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/aopguard/internal/adapter/filestore"
	"github.com/Strob0t/aopguard/internal/adapter/jsonschema"
	"github.com/Strob0t/aopguard/internal/adapter/postgres"
	"github.com/Strob0t/aopguard/internal/config"
	"github.com/Strob0t/aopguard/internal/domain/audit"
	"github.com/Strob0t/aopguard/internal/logger"
	"github.com/Strob0t/aopguard/internal/port/schemavalidator"
	"github.com/Strob0t/aopguard/internal/service"
)

// errAuditFailed makes the process exit non-zero when a session fails its audit.
var errAuditFailed = errors.New("audit failed")

func runAudit(args []string, stdout io.Writer) error {
	sessionID, auditor, closeLog, err := offlineAuditor("audit", args)
	if err != nil {
		return err
	}
	defer closeLog()
	report, err := auditor.RunFullAudit(context.Background(), sessionID)
	if err != nil {
		return err
	}
	if isTerminal(stdout) {
		err = printReport(stdout, report)
	} else {
		err = printJSON(stdout, report)
	}
	if err != nil {
		return err
	}
	if report.OverallStatus == audit.StatusFail {
		return errAuditFailed
	}
	return nil
}

func runReplay(args []string, stdout io.Writer) error {
	sessionID, auditor, closeLog, err := offlineAuditor("replay", args)
	if err != nil {
		return err
	}
	defer closeLog()
	events, err := auditor.ReplaySession(context.Background(), sessionID)
	if err != nil {
		return err
	}
	if isTerminal(stdout) {
		return printReplay(stdout, events)
	}
	if events == nil {
		events = []audit.ReplayEvent{}
	}
	return printJSON(stdout, events)
}

func runSchema(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	out := fs.String("out", "schemas", "directory to write the schema documents to")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	paths, err := jsonschema.WriteFiles(*out)
	if err != nil {
		return err
	}
	for _, p := range paths {
		_, _ = fmt.Fprintln(stdout, p)
	}
	return nil
}

// runMigrate applies, rolls back or reports the record index migrations:
// migrate up | migrate down [N] | migrate status.
func runMigrate(args []string, stdout io.Writer) error {
	const usage = "usage: aopguard migrate up|down [N]|status [options]"
	if len(args) == 0 {
		return errors.New(usage)
	}
	action, rest := args[0], args[1:]

	steps := 1
	if action == "down" && len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		n, err := strconv.Atoi(rest[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid rollback steps %q", rest[0])
		}
		steps, rest = n, rest[1:]
	}
	switch action {
	case "up", "down", "status":
	default:
		return errors.New(usage)
	}

	flags, err := config.ParseFlags(rest)
	if err != nil {
		return err
	}
	cfg, _, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx := context.Background()
	switch action {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
	case "down":
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, steps); err != nil {
			return err
		}
	}
	version, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "migration version %d\n", version)
	return err
}

// offlineAuditor reads the session argument and builds an auditor over the
// configured record directory. The CLI never contacts NATS or Postgres:
// the record files are authoritative. Logs go to stderr so stdout stays
// parseable; the returned func flushes them. The record directory is only
// read, never created.
func offlineAuditor(cmd string, args []string) (string, *service.RepoAuditor, func(), error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", nil, nil, fmt.Errorf("usage: aopguard %s <session> [options]", cmd)
	}
	sessionID := args[0]

	flags, err := config.ParseFlags(args[1:])
	if err != nil {
		return "", nil, nil, err
	}
	cfg, _, err := config.LoadWithCLI(flags)
	if err != nil {
		return "", nil, nil, fmt.Errorf("config: %w", err)
	}
	log, closer := logger.NewWithWriter(config.Logging{Level: cfg.Logging.Level, Service: cfg.Logging.Service}, os.Stderr)
	slog.SetDefault(log)

	var schemas schemavalidator.Validator
	if cfg.Audit.SchemaDir != "" {
		schemas = jsonschema.NewValidator(cfg.Audit.SchemaDir)
	}
	auditor := service.NewRepoAuditor(filestore.Open(cfg.Audit.StorageDir), schemas)
	return sessionID, auditor, closer.Close, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // file descriptors fit in int
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, r *audit.Report) error {
	_, _ = fmt.Fprintln(w, r.Summary)
	_, _ = fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CHECK\tSTATUS\tRECORDS\tDETAILS")
	for _, f := range r.Findings {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", f.CheckName, f.Status, len(f.RecordIDs), f.Details)
	}
	return tw.Flush()
}

func printReplay(w io.Writer, events []audit.ReplayEvent) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "no records")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SEQ\tTIME\tKIND\tTASK\tACTOR\tDECISION\tEVENT")
	for i := range events {
		ev := &events[i]
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Sequence, ev.Timestamp.UTC().Format(time.RFC3339), ev.RecordType, ev.TaskID, ev.Actor.Name,
			ev.GovernanceDecision, ev.Annotation)
	}
	return tw.Flush()
}
