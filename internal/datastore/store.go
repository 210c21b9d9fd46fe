package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/inference"
	"github.com/irdetect/autoannotate/internal/logger"
	"github.com/irdetect/autoannotate/internal/observability/metrics"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	slowQuery        = 200 * time.Millisecond
)

// Store is the run history.
type Store struct {
	db      *gorm.DB
	backend string
	log     logger.Logger
	metrics *metrics.StorageMetrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics counts history writes.
func WithMetrics(m *metrics.StorageMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

func newStore(backend string, opts []Option) *Store {
	s := &Store{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("datastore")
	}
	return s
}

// open connects through dialector and migrates the schema.
func (s *Store) open(dialector gorm.Dialector) error {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(s.log, slowQuery, gormlogger.Warn),
	})
	if err != nil {
		return dbError(fmt.Errorf("failed to open %s database: %w", s.backend, err), "open").Build()
	}
	s.db = db

	if err := db.AutoMigrate(&Run{}); err != nil {
		_ = s.Close()
		return dbError(fmt.Errorf("failed to auto-migrate %s database: %w", s.backend, err), "migrate").Build()
	}
	return nil
}

func dbError(err error, operation string) *errors.ErrorBuilder {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)
}

// Backend names the database engine, "sqlite" or "mysql".
func (s *Store) Backend() string {
	return s.backend
}

// SaveRun inserts a finished run. Saving the same run id twice updates the row.
func (s *Store) SaveRun(ctx context.Context, info inference.RunInfo) error {
	run := runFromInfo(info)

	err := s.db.WithContext(ctx).
		Where(Run{RunID: run.RunID}).
		Assign(run).
		FirstOrCreate(&Run{}).Error
	if s.metrics != nil {
		s.metrics.RecordRunHistoryWrite(err)
	}
	if err != nil {
		return dbError(err, "save_run").Context("run_id", info.ID).Build()
	}
	return nil
}

// ListRuns returns the most recent runs of a project, newest first.
func (s *Store) ListRuns(ctx context.Context, project string, limit int) ([]inference.RunInfo, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	var rows []Run
	err := s.db.WithContext(ctx).
		Where("project = ?", project).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, dbError(err, "list_runs").Context("project", project).Build()
	}

	out := make([]inference.RunInfo, len(rows))
	for i, r := range rows {
		out[i] = r.Info()
	}
	return out, nil
}

// GetRun looks a run up by id. A missing run is NotFound.
func (s *Store) GetRun(ctx context.Context, id string) (inference.RunInfo, error) {
	var row Run
	err := s.db.WithContext(ctx).Where("run_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return inference.RunInfo{}, errors.NotFoundError("run %q not found", id)
	}
	if err != nil {
		return inference.RunInfo{}, dbError(err, "get_run").Context("run_id", id).Build()
	}
	return row.Info(), nil
}

// Count returns the number of stored runs.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Run{}).Count(&n).Error; err != nil {
		return 0, dbError(err, "count_runs").Build()
	}
	return n, nil
}

// EachBatch calls fn with the stored runs in primary key order, batchSize rows
// at a time.
func (s *Store) EachBatch(ctx context.Context, batchSize int, fn func([]Run) error) error {
	var rows []Run
	result := s.db.WithContext(ctx).
		FindInBatches(&rows, batchSize, func(_ *gorm.DB, _ int) error {
			return fn(rows)
		})
	if result.Error != nil {
		return dbError(result.Error, "read_batch").Build()
	}
	return nil
}

// ImportRuns upserts runs keyed by run id, keeping their primary keys free
// so rows from another database never collide.
func (s *Store) ImportRuns(ctx context.Context, runs []Run) error {
	if len(runs) == 0 {
		return nil
	}
	rows := make([]Run, len(runs))
	for i, r := range runs {
		r.ID = 0
		rows[i] = r
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			UpdateAll: true,
		}).
		Create(&rows).Error
	if err != nil {
		return dbError(err, "import_runs").Context("rows", len(rows)).Build()
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close").Build()
	}
	return sqlDB.Close()
}
