// Package detector defines the object detection capability used by the
// inference runner and a registry of detector factories keyed by model family.
package detector

import (
	"context"
	"image"
	"slices"
	"strings"
	"sync"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
)

var (
	// ErrUnsupportedFamily is returned for a model family with no registered factory.
	ErrUnsupportedFamily = errors.NewStd("unsupported model family")

	// ErrLibraryUnavailable is returned when the family is known but its
	// detection library was not compiled into this binary.
	ErrLibraryUnavailable = errors.NewStd("detection library not available")
)

// BBox is a box in pixel coordinates, given by its center and size.
type BBox struct {
	CX, CY, W, H float64
}

// Rect returns the box as min/max corners.
func (b BBox) Rect() (x0, y0, x1, y1 float64) {
	return b.CX - b.W/2, b.CY - b.H/2, b.CX + b.W/2, b.CY + b.H/2
}

// Detection is one detected object.
type Detection struct {
	Box   BBox
	Label string
	Score float32
}

// Detector finds objects in a decoded image. Implementations need not be
// safe for concurrent use; the runner owns one detector per run.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
	Close() error
}

// Options are passed to a factory when a run loads its model.
type Options struct {
	ModelPath  string
	Confidence float32
	IOU        float32
	InputSize  int
	Logger     logger.Logger
}

// Factory builds a detector for one model file.
type Factory func(opts Options) (Detector, error)

// Family describes a registered model family.
type Family struct {
	Name string
	// RequiresModel is false for families that do not read a weights file.
	RequiresModel bool
	New           Factory
}

// Registry maps lower-cased family names to factories.
type Registry struct {
	mu       sync.RWMutex
	families map[string]Family
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{families: make(map[string]Family)}
}

// Register adds or replaces a family.
func (r *Registry) Register(f Family) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.Name = strings.ToLower(f.Name)
	r.families[f.Name] = f
}

// Lookup returns the family registered under name, compared case-insensitively.
func (r *Registry) Lookup(name string) (Family, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.families[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Family{}, errors.New(ErrUnsupportedFamily).
			Component("detector").
			Category(errors.CategoryValidation).
			Context("model_family", name).
			Build()
	}
	return f, nil
}

// Families lists the registered family names, sorted.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.families))
	for n := range r.families {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Static returns the same detections for every image. With no detections it
// stands in for families whose model is not wired to a backend.
type Static struct {
	Detections []Detection
}

// Detect implements Detector.
func (s *Static) Detect(ctx context.Context, _ image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(s.Detections), nil
}

// Close implements Detector.
func (s *Static) Close() error { return nil }

// SAMFamily is the segment-anything family. It has no backend and yields an
// empty annotation list for every image.
func SAMFamily() Family {
	return Family{
		Name:          "sam",
		RequiresModel: false,
		New: func(Options) (Detector, error) {
			return &Static{}, nil
		},
	}
}
