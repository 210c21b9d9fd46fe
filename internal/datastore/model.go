// Package datastore persists inference run history through GORM, in SQLite
// by default or in MySQL.
package datastore

import (
	"time"

	"github.com/irdetect/autoannotate/internal/inference"
)

// Run is one finished inference run.
type Run struct {
	ID           uint   `gorm:"primaryKey"`
	RunID        string `gorm:"uniqueIndex;size:36"`
	Project      string `gorm:"index;size:255"`
	Subset       string `gorm:"size:255"`
	ModelFamily  string `gorm:"index;size:64"`
	ModelVersion string `gorm:"size:255"`
	Legacy       bool
	Status       string `gorm:"index;size:16"`
	Processed    int
	Total        int
	Detections   int
	Output       string
	Error        string
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   time.Time
	DurationMs   int64
}

// runFromInfo converts a run table entry to its stored form.
func runFromInfo(info inference.RunInfo) Run {
	return Run{
		RunID:        info.ID,
		Project:      info.Project,
		Subset:       info.Subset,
		ModelFamily:  info.ModelFamily,
		ModelVersion: info.ModelVersion,
		Legacy:       info.Legacy,
		Status:       string(info.Status),
		Processed:    info.Processed,
		Total:        info.Total,
		Detections:   info.Detections,
		Output:       info.Output,
		Error:        info.Error,
		StartedAt:    info.StartedAt,
		FinishedAt:   info.FinishedAt,
		DurationMs:   info.Duration().Milliseconds(),
	}
}

// Info converts a stored run back to the shape served by the API.
func (r Run) Info() inference.RunInfo {
	return inference.RunInfo{
		ID:           r.RunID,
		Project:      r.Project,
		Subset:       r.Subset,
		ModelFamily:  r.ModelFamily,
		ModelVersion: r.ModelVersion,
		Legacy:       r.Legacy,
		Status:       inference.RunStatus(r.Status),
		Processed:    r.Processed,
		Total:        r.Total,
		Detections:   r.Detections,
		Output:       r.Output,
		Error:        r.Error,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}
