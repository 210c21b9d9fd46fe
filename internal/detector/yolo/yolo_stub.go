//go:build !gocv

package yolo

import (
	"github.com/irdetect/autoannotate/internal/detector"
	"github.com/irdetect/autoannotate/internal/errors"
)

// Available reports whether the OpenCV backend is compiled in.
const Available = false

// New always fails: this binary was built without the gocv tag.
func New(opts detector.Options) (detector.Detector, error) {
	return nil, errors.New(detector.ErrLibraryUnavailable).
		Component("yolo").
		Category(errors.CategoryModelInit).
		Context("model_family", FamilyName).
		Context("input_size", inputSize(opts)).
		Build()
}
