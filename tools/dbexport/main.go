// Package main copies inference run history from a SQLite database into
// MySQL, for deployments moving the history to a shared server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/irdetect/autoannotate/internal/datastore"
	"github.com/irdetect/autoannotate/internal/logger"
)

// Version information (can be set via ldflags during build)
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "dbexport",
		Short: "Copy run history from SQLite to MySQL",
		Long: `Copies every stored inference run from the SQLite history database
into a MySQL database, creating the schema when needed.

Runs are upserted by run id, so the export can be repeated safely.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				fmt.Fprintf(cmd.OutOrStdout(), "dbexport version %s\n", version)
				return nil
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runExport(ctx, cmd.OutOrStdout(), &cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.SQLitePath, "sqlite-path", "", "Path to source SQLite database file")
	f.StringVar(&cfg.MySQLDSN, "mysql-dsn", "", "MySQL connection string (e.g., user:pass@tcp(host:3306)/dbname)")
	f.StringVar(&cfg.MySQLHost, "mysql-host", "localhost", "MySQL host (alternative to DSN)")
	f.IntVar(&cfg.MySQLPort, "mysql-port", 3306, "MySQL port")
	f.StringVar(&cfg.MySQLUser, "mysql-user", "autoannotate", "MySQL username")
	f.StringVar(&cfg.MySQLPass, "mysql-pass", "", "MySQL password")
	f.StringVar(&cfg.MySQLDatabase, "mysql-database", "autoannotate", "MySQL database name")
	f.IntVar(&cfg.BatchSize, "batch-size", 500, "Number of runs per batch")
	f.BoolVar(&cfg.SkipVerify, "skip-verify", false, "Skip post-migration verification")
	f.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose output")
	f.StringVar(&cfg.ConfigPath, "config", "", "Path to config.yaml (for connection fallback)")
	f.BoolP("version", "v", false, "Print version information")

	return cmd
}

func runExport(ctx context.Context, w io.Writer, cfg *Config) error {
	if err := cfg.Load(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	level := logger.LogLevelError
	if cfg.Verbose {
		level = logger.LogLevelInfo
		fmt.Fprintf(w, "Source: %s\n", cfg.SQLitePath)
		fmt.Fprintf(w, "Target: %s\n", datastore.SanitizeDSN(cfg.GetMySQLDSN()))
		fmt.Fprintf(w, "Batch size: %d\n", cfg.BatchSize)
	}
	log := logger.NewSlogLogger(os.Stderr, level, nil)

	source, err := datastore.Open(cfg.SQLitePath, datastore.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}
	defer func() { _ = source.Close() }()

	target, err := datastore.OpenMySQL(cfg.GetMySQLDSN(), datastore.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to open MySQL database: %w", err)
	}
	defer func() { _ = target.Close() }()

	m := NewMigrator(source, target, cfg.BatchSize)
	if cfg.Verbose {
		m.progress = w
	}

	stats, err := m.Run(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	stats.Print(w)

	if !cfg.SkipVerify {
		fmt.Fprintln(w, "\n--- Verification ---")
		if err := NewVerifier(source, target).Verify(ctx); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		fmt.Fprintln(w, "Verification passed!")
	}
	return nil
}
