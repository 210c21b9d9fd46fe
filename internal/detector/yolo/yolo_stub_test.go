//go:build !gocv

package yolo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irdetect/autoannotate/internal/detector"
)

func TestNewWithoutOpenCV(t *testing.T) {
	t.Parallel()

	assert.False(t, Available)
	_, err := New(detector.Options{ModelPath: "yolov8n.onnx"})
	require.ErrorIs(t, err, detector.ErrLibraryUnavailable)
}
