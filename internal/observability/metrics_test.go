package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersCollectors(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Inference.RunStarted()
	m.Inference.RecordImage("yolov8", 20*time.Millisecond, []string{"person", "person", "car"})
	m.Inference.RecordModelLoad("yolov8", time.Second, nil)
	m.Inference.RunFinished("yolov8", "completed")
	m.HTTP.ObserveRequest(http.MethodGet, "/api/projects", http.StatusOK, 10*time.Millisecond)
	m.MQTT.RecordPublish(5*time.Millisecond, errors.New("broker down"))
	m.Storage.RecordSubsetCreated("random")
	m.Storage.UpdateDiskUsage(10, 100)

	count, err := testutil.GatherAndCount(m.Registry(),
		"autoannotate_runs_total",
		"autoannotate_detections_total",
		"mqtt_publish_total",
		"storage_subsets_created_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 5, count) // runs(1) + detections(person, car) + mqtt(1) + subsets(1)
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Inference.RecordImage("sam", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `autoannotate_images_inferred_total{family="sam"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
