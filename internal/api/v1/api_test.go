package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irdetect/autoannotate/internal/buildinfo"
	"github.com/irdetect/autoannotate/internal/catalog"
	"github.com/irdetect/autoannotate/internal/dataset"
	"github.com/irdetect/autoannotate/internal/detector"
	"github.com/irdetect/autoannotate/internal/diskmanager"
	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/inference"
	"github.com/irdetect/autoannotate/internal/logger"
	"github.com/irdetect/autoannotate/internal/observability"
	"github.com/irdetect/autoannotate/internal/securefs"
)

type testEnv struct {
	dir        string
	e          *echo.Echo
	store      *dataset.Store
	controller *Controller
	metrics    *observability.Metrics
}

func stubFamily() detector.Family {
	return detector.Family{
		Name:          "stub",
		RequiresModel: true,
		New: func(detector.Options) (detector.Detector, error) {
			return &detector.Static{Detections: []detector.Detection{{
				Box:   detector.BBox{CX: 4, CY: 3, W: 2, H: 2},
				Label: "person",
				Score: 0.9,
			}}}, nil
		},
	}
}

func setupTestEnvironment(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	dir := t.TempDir()
	projectsDir := filepath.Join(dir, "projects")
	modelsDir := filepath.Join(dir, "models")
	require.NoError(t, os.MkdirAll(projectsDir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(modelsDir, "stub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, "stub", "v1.onnx"), []byte("weights"), 0o644))

	sfs, err := securefs.New(projectsDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sfs.Close() })

	quiet := logger.NewSlogLogger(nil, logger.LogLevelError, nil)
	store := dataset.NewStore(sfs, dataset.WithLogger(quiet))
	models := catalog.New(modelsDir, "", quiet)

	registry := detector.NewRegistry()
	registry.Register(stubFamily())

	m, err := observability.NewMetrics()
	require.NoError(t, err)

	runner := inference.NewRunner(store, models, registry, inference.NewRunTable(time.Minute, 10),
		inference.Settings{}, inference.WithLogger(quiet), inference.WithMetrics(m.Inference))

	e := echo.New()
	opts = append([]Option{WithLogger(quiet), WithMetrics(m)}, opts...)
	c := New(e, store, models, runner, opts...)
	e.HTTPErrorHandler = c.HTTPErrorHandler

	return &testEnv{dir: projectsDir, e: e, store: store, controller: c, metrics: m}
}

func (env *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) addImages(t *testing.T, project string, n int) {
	t.Helper()
	for i := range n {
		path := filepath.Join(env.dir, project, dataset.ImagesDir, fmt.Sprintf("img_%d.png", i))
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 8, 6))))
		require.NoError(t, f.Close())
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCreateAndListProjects(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)

	rec := env.do(t, http.MethodPost, "/api/projects", map[string]string{"project_name": "flir"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Project 'flir' created!", decode[messageResponse](t, rec).Message)

	rec = env.do(t, http.MethodPost, "/api/projects", map[string]string{"project_name": "flir"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusConflict, errResp.Code)
	assert.NotEmpty(t, errResp.Error)
	assert.Len(t, errResp.CorrelationID, 8)

	rec = env.do(t, http.MethodPost, "/api/projects", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/projects", map[string]string{"project_name": "../escape"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"flir"}, decode[[]string](t, rec))
}

func zipArchive(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestUploadImages(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	require.NoError(t, env.store.CreateProject("flir"))

	archive := zipArchive(t, map[string][]byte{
		"a.jpg":        []byte("jpeg"),
		"nested/b.png": []byte("png"),
		"notes.txt":    []byte("skip"),
	})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "batch.zip")
	require.NoError(t, err)
	_, err = part.Write(archive)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/projects/flir/upload", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[uploadResponse](t, rec)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "Uploaded 2 image(s)!", resp.Message)

	rec = env.do(t, http.MethodGet, "/api/projects/flir/images", nil)
	assert.Equal(t, []string{"a.jpg", "b.png"}, decode[[]string](t, rec))

	rec = env.do(t, http.MethodGet, "/projects/flir/images/a.jpg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg", rec.Body.String())
}

func TestUploadWithoutFile(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	require.NoError(t, env.store.CreateProject("flir"))

	rec := env.do(t, http.MethodPost, "/api/projects/flir/upload", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubsetLifecycle(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	require.NoError(t, env.store.CreateProject("flir"))
	env.addImages(t, "flir", 4)

	rec := env.do(t, http.MethodPost, "/api/projects/flir/auto_annotate_request", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	full := decode[subsetResponse](t, rec)
	assert.Equal(t, "subset_1", full.Subset)
	assert.Equal(t, "subset_1/subset_1.json", full.JSON)
	assert.Len(t, full.Images, 4)

	rec = env.do(t, http.MethodPost, "/api/projects/flir/create_manual_subset",
		map[string][]string{"images": {"img_0.png", "img_2.png"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "subset_2", decode[subsetResponse](t, rec).Subset)

	rec = env.do(t, http.MethodPost, "/api/projects/flir/create_random_subset", map[string]float64{"percent": 50})
	require.Equal(t, http.StatusOK, rec.Code)
	random := decode[subsetResponse](t, rec)
	assert.Equal(t, "subset_3", random.Subset)
	assert.Len(t, random.Images, 2)

	rec = env.do(t, http.MethodPost, "/api/projects/flir/create_random_subset", map[string]float64{"percent": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/projects/flir/create_random_subset", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/projects/flir/delete_subset", map[string]string{"subset_name": "subset_2"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/projects/flir/subsets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	subsets := decode[[]dataset.Subset](t, rec)
	require.Len(t, subsets, 2)
	assert.Equal(t, "subset_1", subsets[0].Name)
	assert.Equal(t, "subset_3", subsets[1].Name)

	// the freed index is reused
	rec = env.do(t, http.MethodPost, "/api/projects/flir/auto_annotate_request", nil)
	assert.Equal(t, "subset_2", decode[subsetResponse](t, rec).Subset)

	rec = env.do(t, http.MethodGet, "/projects/flir/subset_1/subset_1.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "img_3.png")
}

func TestSubsetErrors(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	require.NoError(t, env.store.CreateProject("flir"))

	tests := []struct {
		name   string
		target string
		body   any
		want   int
	}{
		{"full subset of empty project", "/api/projects/flir/auto_annotate_request", nil, http.StatusBadRequest},
		{"full subset of missing project", "/api/projects/ghost/auto_annotate_request", nil, http.StatusNotFound},
		{"manual subset without images", "/api/projects/flir/create_manual_subset", map[string][]string{"images": {}}, http.StatusBadRequest},
		{"delete missing subset", "/api/projects/flir/delete_subset", map[string]string{"subset_name": "subset_9"}, http.StatusNotFound},
		{"delete missing named subset", "/api/projects/flir/delete_subset", map[string]string{"subset_name": "subset_missing"}, http.StatusNotFound},
		{"delete without name", "/api/projects/flir/delete_subset", map[string]string{}, http.StatusBadRequest},
		{"delete arbitrary folder", "/api/projects/flir/delete_subset", map[string]string{"subset_name": "images"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAnnotations(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	require.NoError(t, env.store.CreateProject("flir"))
	env.addImages(t, "flir", 1)

	rec := env.do(t, http.MethodGet, "/api/projects/flir/annotations?image=img_0.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/projects/flir/annotate", map[string]any{
		"image": "img_0.png",
		"boxes": []map[string]any{{"bbox": []int{1, 2, 3, 4}, "label": "car"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/projects/flir/annotations?image=img_0.png", nil)
	annotations := decode[[]map[string]any](t, rec)
	require.Len(t, annotations, 1)
	assert.Equal(t, "car", annotations[0]["label"])

	rec = env.do(t, http.MethodPost, "/api/projects/flir/save_annotation", map[string]any{
		"file_name":   "img_0.png",
		"width":       8,
		"height":      6,
		"annotations": []map[string]any{},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/projects/flir/save_annotations", `{"images":{},"categories":["car"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/projects/flir/save_annotations", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/projects/flir/annotations", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLabels(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	require.NoError(t, env.store.CreateProject("flir"))

	rec := env.do(t, http.MethodPost, "/api/labels?project=flir", map[string]string{"label": "person"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/labels?project=flir", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"person"}, decode[[]string](t, rec))

	rec = env.do(t, http.MethodGet, "/api/labels", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModels(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)

	rec := env.do(t, http.MethodGet, "/api/models/families", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"stub"}, decode[[]string](t, rec))

	rec = env.do(t, http.MethodGet, "/api/models/versions?family=stub", nil)
	assert.Equal(t, []string{"v1.onnx"}, decode[[]string](t, rec))

	rec = env.do(t, http.MethodGet, "/api/models/list", nil)
	assert.Equal(t, map[string][]string{"stub": {"v1.onnx"}}, decode[map[string][]string](t, rec))

	rec = env.do(t, http.MethodGet, "/api/models/versions", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/models/versions?family=ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAutoConfigRoundTrip(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	require.NoError(t, env.store.CreateProject("flir"))

	rec := env.do(t, http.MethodGet, "/api/projects/flir/get_auto_annotate_config", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	cfg := dataset.AutoConfig{ModelFamily: "stub", ModelVersion: "v1.onnx", Subset: "subset_1/subset_1.json"}
	rec = env.do(t, http.MethodPost, "/api/projects/flir/save_auto_annotate_config", cfg)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/projects/flir/get_auto_annotate_config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, cfg, decode[dataset.AutoConfig](t, rec))
}

func (env *testEnv) configureRun(t *testing.T, images int) {
	t.Helper()
	require.NoError(t, env.store.CreateProject("flir"))
	env.addImages(t, "flir", images)
	subset, err := env.store.CreateFullSubset("flir")
	require.NoError(t, err)
	require.NoError(t, env.store.SaveAutoConfig("flir", dataset.AutoConfig{
		ModelFamily:  "stub",
		ModelVersion: "v1.onnx",
		Subset:       subset.JSON,
	}))
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(body string) []sseEvent {
	var events []sseEvent
	for block := range strings.SplitSeq(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		var data []string
		for line := range strings.SplitSeq(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = append(data, strings.TrimPrefix(line, "data: "))
			}
		}
		ev.data = strings.Join(data, "\n")
		if len(data) > 0 {
			if ev.name == "" {
				ev.name = "message"
			}
			events = append(events, ev)
		}
	}
	return events
}

func TestRunInferenceStream(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	env.configureRun(t, 3)

	rec := env.do(t, http.MethodPost, "/api/projects/flir/run_inference", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	runID := rec.Header().Get("X-Run-ID")
	require.NotEmpty(t, runID)

	events := parseSSE(rec.Body.String())
	require.Len(t, events, 4, rec.Body.String())
	for i, ev := range events[:3] {
		assert.Equal(t, "message", ev.name)
		assert.Equal(t, fmt.Sprintf("Inferred %d/3 images", i+1), ev.data)
	}
	assert.Equal(t, "message", events[3].name)
	assert.True(t, strings.HasPrefix(events[3].data, "Inference complete"), events[3].data)
	assert.NotContains(t, rec.Body.String(), "event: progress")

	results, err := os.ReadFile(filepath.Join(env.dir, "flir", "subset_1", dataset.SubsetResultsFile))
	require.NoError(t, err)
	var doc dataset.Document
	require.NoError(t, json.Unmarshal(results, &doc))
	assert.Len(t, doc.Images, 3)
	assert.Equal(t, []string{"person"}, doc.Categories)

	rec = env.do(t, http.MethodGet, "/api/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[inference.RunInfo](t, rec)
	assert.Equal(t, inference.StatusCompleted, run.Status)
	assert.Equal(t, 3, run.Processed)

	rec = env.do(t, http.MethodGet, "/api/projects/flir/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]inference.RunInfo](t, rec), 1)

	count, err := testutil.GatherAndCount(env.metrics.Registry(), "sse_messages_sent_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count) // progress and complete series
}

func TestRunInferenceMissingConfig(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	require.NoError(t, env.store.CreateProject("flir"))

	rec := env.do(t, http.MethodPost, "/api/projects/flir/run_inference", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, echo.MIMEApplicationJSON, rec.Header().Get(echo.HeaderContentType))
	assert.Empty(t, rec.Header().Get("X-Run-ID"))
}

func TestRunInferenceUnsupportedFamily(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	env.configureRun(t, 1)
	require.NoError(t, env.store.SaveAutoConfig("flir", dataset.AutoConfig{
		ModelFamily: "detr", ModelVersion: "v1.onnx", Subset: "subset_1/subset_1.json",
	}))

	rec := env.do(t, http.MethodPost, "/api/projects/flir/run_inference", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseSSE(rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].name)

	var payload inference.ErrorPayload
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &payload))
	assert.Equal(t, "unsupported_model_family", payload.Type)
	assert.Equal(t, rec.Header().Get("X-Run-ID"), payload.RunID)
}

func TestRunAutoLabel(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	env.configureRun(t, 2)

	rec := env.do(t, http.MethodPost, "/api/projects/flir/run_auto_label", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "true", rec.Header().Get("Deprecation"))
	assert.NotEmpty(t, rec.Header().Get("X-Run-ID"))

	_, err := os.Stat(filepath.Join(env.dir, "flir", dataset.AutoResultsFile))
	assert.NoError(t, err)
}

type fakeHistory struct {
	runs map[string]inference.RunInfo
}

func (f *fakeHistory) ListRuns(_ context.Context, project string, limit int) ([]inference.RunInfo, error) {
	var out []inference.RunInfo
	for _, r := range f.runs {
		if r.Project == project {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeHistory) GetRun(_ context.Context, id string) (inference.RunInfo, error) {
	r, ok := f.runs[id]
	if !ok {
		return inference.RunInfo{}, errors.NotFoundError("run %q not found", id)
	}
	return r, nil
}

func TestRunsFromHistory(t *testing.T) {
	t.Parallel()
	history := &fakeHistory{runs: map[string]inference.RunInfo{
		"old-run": {ID: "old-run", Project: "flir", Status: inference.StatusFailed},
	}}
	env := setupTestEnvironment(t, WithHistory(history))
	require.NoError(t, env.store.CreateProject("flir"))

	rec := env.do(t, http.MethodGet, "/api/runs/old-run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, inference.StatusFailed, decode[inference.RunInfo](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/api/runs/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/projects/flir/runs?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]inference.RunInfo](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/projects/flir/runs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/projects/ghost/runs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)

	rec := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "unknown", body["version"])
	assert.InDelta(t, 0, body["active_runs"], 0)
	assert.Equal(t, false, body["run_history"])
}

func TestUnknownRouteUsesErrorShape(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)

	rec := env.do(t, http.MethodGet, "/api/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestServeProjectFileRejectsTraversal(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	require.NoError(t, env.store.CreateProject("flir"))
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "secret.txt"), []byte("x"), 0o644))

	rec := env.do(t, http.MethodGet, "/projects/flir/..%2F..%2Fsecret.txt", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{errors.ValidationError("bad"), http.StatusBadRequest},
		{errors.NotFoundError("gone"), http.StatusNotFound},
		{errors.ConflictError("dup"), http.StatusConflict},
		{errors.New(fmt.Errorf("full")).Category(errors.CategoryLimit).Build(), http.StatusInsufficientStorage},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
		{fmt.Errorf("read: %w", errors.Sentinel("too big", errors.CategoryLimit)), http.StatusInsufficientStorage},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), tt.err.Error())
	}
}

type fakeDisk struct{}

func (fakeDisk) Usage() (diskmanager.DiskSpaceInfo, error) {
	return diskmanager.DiskSpaceInfo{TotalBytes: 100, UsedBytes: 25, FreeBytes: 75}, nil
}

func TestHealthCheckReportsDisk(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t, WithDisk(fakeDisk{}), WithBuildInfo(buildinfo.NewContext("1.2.3", "")))

	rec := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "1.2.3", body["version"])
	disk, ok := body["disk_space"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 25, disk["used_percent"], 0.001)
	assert.InDelta(t, 75, disk["free_bytes"], 0)
}
