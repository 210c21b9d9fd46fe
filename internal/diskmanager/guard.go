package diskmanager

import (
	"fmt"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
	"github.com/irdetect/autoannotate/internal/observability/metrics"
)

// UsageFunc reports disk usage for a path; tests replace it.
type UsageFunc func(path string) (DiskSpaceInfo, error)

// Guard rejects writes when free space under a directory drops below a floor.
type Guard struct {
	path    string
	minFree uint64
	usage   UsageFunc
	metrics *metrics.StorageMetrics
	log     logger.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithUsageFunc overrides the disk usage query.
func WithUsageFunc(fn UsageFunc) GuardOption {
	return func(g *Guard) { g.usage = fn }
}

// WithMetrics reports disk figures and rejections to Prometheus.
func WithMetrics(m *metrics.StorageMetrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// WithLogger sets the guard logger.
func WithLogger(l logger.Logger) GuardOption {
	return func(g *Guard) { g.log = l }
}

// NewGuard returns a guard for path. A zero minFree disables the check.
func NewGuard(path string, minFree uint64, opts ...GuardOption) *Guard {
	g := &Guard{path: path, minFree: minFree, usage: GetDetailedDiskUsage}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logger.Global().Module("diskmanager")
	}
	return g
}

// Usage returns the current figures for the guarded volume.
func (g *Guard) Usage() (DiskSpaceInfo, error) {
	info, err := g.usage(g.path)
	if err != nil {
		return info, errors.New(err).
			Component("diskmanager").
			Category(errors.CategoryDiskUsage).
			Context("path", g.path).
			Build()
	}
	if g.metrics != nil {
		g.metrics.UpdateDiskUsage(info.FreeBytes, info.TotalBytes)
	}
	return info, nil
}

// CheckFreeSpace returns a Limit error when free space is below the floor.
// A failing usage query is logged and does not block the caller.
func (g *Guard) CheckFreeSpace() error {
	if g.minFree == 0 {
		return nil
	}

	info, err := g.Usage()
	if err != nil {
		g.log.Warn("Disk usage check failed, allowing write",
			logger.String("path", g.path),
			logger.Error(err))
		return nil
	}

	if info.FreeBytes < g.minFree {
		if g.metrics != nil {
			g.metrics.RecordUploadRejected()
		}
		g.log.Warn("Rejecting write, projects volume low on space",
			logger.String("path", g.path),
			logger.Uint64("free_bytes", info.FreeBytes),
			logger.Uint64("min_free_bytes", g.minFree),
			logger.Float64("used_percent", info.UsedPercent()))
		return errors.New(fmt.Errorf("insufficient disk space: %d bytes free, %d required", info.FreeBytes, g.minFree)).
			Component("diskmanager").
			Category(errors.CategoryLimit).
			Context("path", g.path).
			Build()
	}
	return nil
}
