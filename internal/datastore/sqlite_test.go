package datastore

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/inference"
	"github.com/irdetect/autoannotate/internal/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "db", "runs.db"),
		WithLogger(logger.NewSlogLogger(nil, logger.LogLevelError, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func finishedRun(id, project string, started time.Time) inference.RunInfo {
	return inference.RunInfo{
		ID:           id,
		Project:      project,
		Subset:       "subset_1/subset_1.json",
		ModelFamily:  "yolov8",
		ModelVersion: "yolov8n.onnx",
		Status:       inference.StatusCompleted,
		Processed:    3,
		Total:        3,
		Detections:   7,
		Output:       "subset_1/annotations.json",
		StartedAt:    started,
		FinishedAt:   started.Add(2 * time.Second),
	}
}

func TestSaveAndGetRun(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, store.SaveRun(ctx, finishedRun("run-1", "thermal", started)))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "thermal", got.Project)
	assert.Equal(t, inference.StatusCompleted, got.Status)
	assert.Equal(t, 7, got.Detections)
	assert.Equal(t, "subset_1/annotations.json", got.Output)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Equal(t, 2*time.Second, got.Duration())
}

func TestSaveRunTwiceUpdates(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	run := finishedRun("run-1", "thermal", time.Now())
	require.NoError(t, store.SaveRun(ctx, run))

	run.Status = inference.StatusFailed
	run.Error = "decode failed"
	require.NoError(t, store.SaveRun(ctx, run))

	runs, err := store.ListRuns(ctx, "thermal", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, inference.StatusFailed, runs[0].Status)
	assert.Equal(t, "decode failed", runs[0].Error)
}

func TestListRunsNewestFirst(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.SaveRun(ctx, finishedRun("a", "thermal", base)))
	require.NoError(t, store.SaveRun(ctx, finishedRun("b", "thermal", base.Add(time.Minute))))
	require.NoError(t, store.SaveRun(ctx, finishedRun("c", "other", base.Add(2*time.Minute))))
	require.NoError(t, store.SaveRun(ctx, finishedRun("d", "thermal", base.Add(3*time.Minute))))

	runs, err := store.ListRuns(ctx, "thermal", 0)
	require.NoError(t, err)
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"d", "b", "a"}, ids)

	runs, err = store.ListRuns(ctx, "thermal", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "d", runs[0].ID)

	runs, err = store.ListRuns(ctx, "empty", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGormLoggerLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	gl := NewGormLogger(logger.NewSlogLogger(&buf, logger.LogLevelDebug, nil), 10*time.Millisecond, gormlogger.Warn)

	gl.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	assert.Empty(t, buf.String(), "fast queries stay quiet at warn level")

	gl.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) { return "SELECT 2", 1 }, nil)
	assert.Contains(t, buf.String(), "Slow query detected")

	buf.Reset()
	silent := gl.LogMode(gormlogger.Silent)
	silent.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) { return "SELECT 3", 0 }, nil)
	assert.Empty(t, buf.String())
}

func TestCountAndBatches(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := range 5 {
		require.NoError(t, store.SaveRun(ctx, finishedRun(fmt.Sprintf("run-%d", i), "flir", base.Add(time.Duration(i)*time.Minute))))
	}

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	var sizes []int
	var ids []string
	require.NoError(t, store.EachBatch(ctx, 2, func(rows []Run) error {
		sizes = append(sizes, len(rows))
		for _, r := range rows {
			ids = append(ids, r.RunID)
		}
		return nil
	}))
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []string{"run-0", "run-1", "run-2", "run-3", "run-4"}, ids)
}

func TestImportRunsUpserts(t *testing.T) {
	t.Parallel()
	src := openTestStore(t)
	dst := openTestStore(t)
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, dst.SaveRun(ctx, finishedRun("shared", "flir", started)))
	require.NoError(t, src.SaveRun(ctx, finishedRun("only-src", "flir", started)))
	updated := finishedRun("shared", "flir", started)
	updated.Status = inference.StatusFailed
	require.NoError(t, src.SaveRun(ctx, updated))

	require.NoError(t, src.EachBatch(ctx, 10, func(rows []Run) error {
		return dst.ImportRuns(ctx, rows)
	}))

	n, err := dst.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := dst.GetRun(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, inference.StatusFailed, got.Status)
	assert.Equal(t, "sqlite", dst.Backend())
}

func TestMySQLDSNHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "u:p@tcp(db:3306)/runs?parseTime=true&charset=utf8mb4",
		withDSNDefaults("u:p@tcp(db:3306)/runs"))
	assert.Equal(t, "u:p@tcp(db:3306)/runs?parseTime=True&charset=utf8mb4",
		withDSNDefaults("u:p@tcp(db:3306)/runs?parseTime=True"))
	assert.Equal(t, "u:***@tcp(db:3306)/runs", SanitizeDSN("u:secret@tcp(db:3306)/runs"))
	assert.Equal(t, "/runs", SanitizeDSN("/runs"))

	_, err := OpenMySQL("")
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
}
