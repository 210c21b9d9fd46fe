// Package yolo runs Ultralytics YOLOv8 models exported to ONNX through the
// OpenCV DNN module (gocv). The OpenCV backend is only compiled with the
// "gocv" build tag; without it the family reports that its detection library
// is not available.
package yolo

import (
	"github.com/irdetect/autoannotate/internal/detector"
)

// FamilyName is the model family served by this package.
const FamilyName = "yolov8"

const defaultInputSize = 640

// Family returns the registry entry for YOLOv8.
func Family() detector.Family {
	return detector.Family{
		Name:          FamilyName,
		RequiresModel: true,
		New:           New,
	}
}

func inputSize(opts detector.Options) int {
	if opts.InputSize > 0 {
		return opts.InputSize
	}
	return defaultInputSize
}
