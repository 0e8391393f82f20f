// Command openlot-admin is the operator CLI: role changes, drift
// reports, bulk role migration, and outbox reconciliation without going
// through the HTTP API.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/openlot/openlot/pkg/config"
	"github.com/openlot/openlot/pkg/identity"
	"github.com/openlot/openlot/pkg/observability"
	"github.com/openlot/openlot/pkg/roles"
	syncsvc "github.com/openlot/openlot/pkg/sync"
	"github.com/openlot/openlot/pkg/users"
)

func main() {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	svc, db, err := buildService(ctx, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize")
	}
	defer db.Close()

	switch cmd {
	case "set-role":
		setRole(ctx, log, svc, args)
	case "drift":
		drift(ctx, log, svc, args)
	case "migrate":
		migrate(ctx, log, svc, args)
	case "reconcile":
		reconcile(ctx, log, svc, args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: openlot-admin <command> [flags]

commands:
  set-role   --external-id <id> --role <user|admin|superadmin>
  drift      [--limit <n>]
  migrate    [--batch <n>]
  reconcile  [--batch <n>]`)
}

func buildService(ctx context.Context, log *logrus.Logger) (*syncsvc.Service, *sql.DB, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Service-internal logging goes through the structured logger; the
	// CLI reports outcomes through logrus
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)

	provider := identity.NewClient(identity.ClientConfig{
		BaseURL:        cfg.Identity.BaseURL,
		APIKey:         cfg.Identity.APIKey,
		RequestTimeout: cfg.Identity.RequestTimeout,
		ClientID:       cfg.Identity.ClientID,
		ClientSecret:   cfg.Identity.ClientSecret,
		TokenURL:       cfg.Identity.TokenURL,
	}, logger, nil)

	store := users.NewStore(db)
	outbox := syncsvc.NewOutbox(db)
	svc := syncsvc.NewService(store, provider, outbox, 0, 0, logger, nil)
	return svc, db, nil
}

func setRole(ctx context.Context, log *logrus.Logger, svc *syncsvc.Service, args []string) {
	fs := flag.NewFlagSet("set-role", flag.ExitOnError)
	externalID := fs.String("external-id", "", "identity provider user id")
	roleName := fs.String("role", "", "target role")
	fs.Parse(args)

	if *externalID == "" || *roleName == "" {
		log.Fatal("both --external-id and --role are required")
	}
	role := roles.Role(*roleName)
	if !role.Valid() {
		log.Fatalf("unknown role %q", *roleName)
	}

	result, err := svc.ChangeUserRole(ctx, *externalID, role)
	if err != nil {
		log.WithError(err).Fatal("role change failed")
	}

	entry := log.WithFields(logrus.Fields{
		"external_id": *externalID,
		"role":        *roleName,
		"status":      string(result.Status),
	})
	switch result.Status {
	case syncsvc.RoleChangeSynced:
		entry.Info("role changed and synced")
	case syncsvc.RoleChangeLocalOnly:
		entry.Warn("role changed locally, provider push queued for retry")
	default:
		entry.Error(result.Reason)
		os.Exit(1)
	}
}

func drift(ctx context.Context, log *logrus.Logger, svc *syncsvc.Service, args []string) {
	fs := flag.NewFlagSet("drift", flag.ExitOnError)
	limit := fs.Int("limit", 500, "max provider records to scan")
	fs.Parse(args)

	report, err := svc.DetectDrift(ctx, *limit)
	if err != nil {
		log.WithError(err).Fatal("drift detection failed")
	}

	log.WithFields(logrus.Fields{
		"scanned": report.Scanned,
		"drifted": len(report.Entries),
	}).Info("drift scan complete")

	for _, entry := range report.Entries {
		log.WithFields(logrus.Fields{
			"external_id":   entry.ExternalID,
			"kind":          entry.Kind,
			"local_role":    string(entry.LocalRole),
			"metadata_role": entry.MetadataRole,
		}).Warn("drift")
	}
}

func migrate(ctx context.Context, log *logrus.Logger, svc *syncsvc.Service, args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	batch := fs.Int("batch", 100, "users per batch")
	fs.Parse(args)

	report, err := svc.MigrateAll(ctx, *batch)
	if err != nil {
		log.WithError(err).Fatal("migration failed")
	}

	log.WithFields(logrus.Fields{
		"total":   report.Total,
		"synced":  report.Synced,
		"skipped": report.Skipped,
		"failed":  report.Failed,
	}).Info("migration complete")
	if report.Failed > 0 {
		os.Exit(1)
	}
}

func reconcile(ctx context.Context, log *logrus.Logger, svc *syncsvc.Service, args []string) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	batch := fs.Int("batch", 50, "intents per pass")
	fs.Parse(args)

	logger := observability.NewLogger(observability.InfoLevel, os.Stderr)
	reconciler := syncsvc.NewReconciler(svc, "@every 1m", *batch, logger)
	if err := reconciler.RunOnce(ctx); err != nil {
		log.WithError(err).Fatal("reconciliation failed")
	}
	log.Info("reconciliation pass complete")
}
