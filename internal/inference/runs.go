package inference

import (
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// RunInfo describes one inference run.
type RunInfo struct {
	ID           string    `json:"id"`
	Project      string    `json:"project"`
	Subset       string    `json:"subset"`
	ModelFamily  string    `json:"model_family"`
	ModelVersion string    `json:"model_version"`
	Legacy       bool      `json:"legacy"`
	Status       RunStatus `json:"status"`
	Processed    int       `json:"processed"`
	Total        int       `json:"total"`
	Detections   int       `json:"detections"`
	Output       string    `json:"output,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
}

// Duration is the wall time of a finished run, or the time so far.
func (r RunInfo) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunTable keeps recent runs in memory. Entries expire after the retention
// period and the table never holds more than maxRuns entries.
type RunTable struct {
	mu      sync.Mutex
	cache   *cache.Cache
	maxRuns int
}

const defaultRunRetention = time.Hour

// NewRunTable returns a run table. maxRuns <= 0 means no cap.
func NewRunTable(retention time.Duration, maxRuns int) *RunTable {
	if retention <= 0 {
		retention = defaultRunRetention
	}
	return &RunTable{
		cache:   cache.New(retention, retention/2),
		maxRuns: maxRuns,
	}
}

// Start inserts a run, evicting the oldest entry when the table is full.
func (t *RunTable) Start(run RunInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxRuns > 0 {
		for t.cache.ItemCount() >= t.maxRuns {
			if !t.evictOldest() {
				break
			}
		}
	}
	t.cache.SetDefault(run.ID, &run)
}

// evictOldest drops the oldest finished run, or the oldest run when every
// entry is still running.
func (t *RunTable) evictOldest() bool {
	var (
		oldestID       string
		oldest         time.Time
		oldestFinished bool
	)
	for id, item := range t.cache.Items() {
		run, ok := item.Object.(*RunInfo)
		if !ok {
			continue
		}
		finished := run.Status != StatusRunning
		switch {
		case oldestID == "",
			finished && !oldestFinished,
			finished == oldestFinished && run.StartedAt.Before(oldest):
			oldestID, oldest, oldestFinished = id, run.StartedAt, finished
		}
	}
	if oldestID == "" {
		return false
	}
	t.cache.Delete(oldestID)
	return true
}

// Update applies fn to a run. It reports false when the run is unknown or
// has already expired.
func (t *RunTable) Update(id string, fn func(*RunInfo)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.cache.Get(id)
	if !ok {
		return false
	}
	run := v.(*RunInfo)
	fn(run)
	t.cache.SetDefault(id, run)
	return true
}

// Get returns a copy of a run.
func (t *RunTable) Get(id string) (RunInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.cache.Get(id)
	if !ok {
		return RunInfo{}, false
	}
	return *v.(*RunInfo), true
}

// List returns the tracked runs of a project, newest first.
func (t *RunTable) List(project string) []RunInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	runs := []RunInfo{}
	for _, item := range t.cache.Items() {
		if run, ok := item.Object.(*RunInfo); ok && run.Project == project {
			runs = append(runs, *run)
		}
	}
	slices.SortFunc(runs, func(a, b RunInfo) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return runs
}

// Len returns the number of tracked runs, including expired entries not yet
// collected.
func (t *RunTable) Len() int {
	return t.cache.ItemCount()
}
