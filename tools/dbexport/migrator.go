package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/irdetect/autoannotate/internal/datastore"
)

// Migrator copies runs from one history store to another.
type Migrator struct {
	source    *datastore.Store
	target    *datastore.Store
	batchSize int
	progress  io.Writer // nil disables per-batch output
}

// MigrationStats tracks migration statistics.
type MigrationStats struct {
	StartTime time.Time
	EndTime   time.Time
	Migrated  int64
	Batches   int
	BatchSize int
}

// Print outputs the migration statistics.
func (s *MigrationStats) Print(w io.Writer) {
	fmt.Fprintln(w, "\n=== Migration Summary ===")
	fmt.Fprintf(w, "Duration: %s\n\n", s.EndTime.Sub(s.StartTime).Round(time.Millisecond))
	fmt.Fprintf(w, "%-12s %10s %10s %10s\n", "Table", "Migrated", "Batches", "BatchSize")
	fmt.Fprintln(w, strings.Repeat("-", 45))
	fmt.Fprintf(w, "%-12s %10d %10d %10d\n", "runs", s.Migrated, s.Batches, s.BatchSize)
}

// NewMigrator returns a Migrator moving batchSize runs per statement.
func NewMigrator(source, target *datastore.Store, batchSize int) *Migrator {
	return &Migrator{source: source, target: target, batchSize: batchSize}
}

// Run copies every source run. It stops at the first failed batch; rows
// written before it stay in place and a rerun upserts over them.
func (m *Migrator) Run(ctx context.Context) (*MigrationStats, error) {
	stats := &MigrationStats{StartTime: time.Now(), BatchSize: m.batchSize}

	err := m.source.EachBatch(ctx, m.batchSize, func(runs []datastore.Run) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.target.ImportRuns(ctx, runs); err != nil {
			return err
		}
		stats.Batches++
		stats.Migrated += int64(len(runs))
		if m.progress != nil {
			fmt.Fprintf(m.progress, "  batch %d: %d runs (total %d)\n", stats.Batches, len(runs), stats.Migrated)
		}
		return nil
	})
	stats.EndTime = time.Now()
	if err != nil {
		return stats, err
	}
	return stats, nil
}
