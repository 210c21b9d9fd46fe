package yolo

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irdetect/autoannotate/internal/detector"
)

func TestCOCO80(t *testing.T) {
	t.Parallel()

	names := COCO80()
	require.Len(t, names, 80)
	assert.Equal(t, "person", names[0])
	assert.Equal(t, "traffic light", names[9])
	assert.Equal(t, "toothbrush", names[79])
}

func TestLoadClassNames(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	model := filepath.Join(dir, "flir.onnx")
	names, err := LoadClassNames(model)
	require.NoError(t, err)
	assert.Len(t, names, 80, "falls back to COCO80")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "flir.names"), []byte("person\n\ncar\r\nbicycle\n"), 0o600))
	names, err = LoadClassNames(model)
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "car", "bicycle"}, names)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "blank.names"), []byte("\n\n"), 0o600))
	_, err = LoadClassNames(filepath.Join(dir, "blank.onnx"))
	assert.Error(t, err)
}

func TestClassName(t *testing.T) {
	t.Parallel()
	names := []string{"person"}
	assert.Equal(t, "person", className(names, 0))
	assert.Equal(t, "class_3", className(names, 3))
	assert.Equal(t, "class_-1", className(names, -1))
}

func TestLetterbox(t *testing.T) {
	t.Parallel()

	src := image.NewGray(image.Rect(0, 0, 640, 320))
	boxed, tr := letterbox(src, 320)

	assert.Equal(t, image.Rect(0, 0, 320, 320), boxed.Bounds())
	assert.InDelta(t, 0.5, tr.scale, 1e-9)
	assert.InDelta(t, 0.0, tr.padX, 1e-9)
	assert.InDelta(t, 80.0, tr.padY, 1e-9)

	// padding keeps the fill color
	assert.Equal(t, letterboxFill, boxed.NRGBAAt(0, 0))

	cx, cy, w, h := tr.toSource(160, 160, 20, 10)
	assert.InDelta(t, 320.0, cx, 1e-9)
	assert.InDelta(t, 160.0, cy, 1e-9)
	assert.InDelta(t, 40.0, w, 1e-9)
	assert.InDelta(t, 20.0, h, 1e-9)
}

func TestToSourceClipsToImage(t *testing.T) {
	t.Parallel()

	tr := transform{scale: 1, srcW: 100, srcH: 100}
	cx, cy, w, h := tr.toSource(0, 0, 20, 20)
	assert.InDelta(t, 5.0, cx, 1e-9)
	assert.InDelta(t, 5.0, cy, 1e-9)
	assert.InDelta(t, 10.0, w, 1e-9)
	assert.InDelta(t, 10.0, h, 1e-9)
}

// head builds a [4+classes, anchors] attribute-major output.
func head(classes int, anchors [][]float32) []float32 {
	attrs := 4 + classes
	data := make([]float32, attrs*len(anchors))
	for i, a := range anchors {
		for j := range attrs {
			data[j*len(anchors)+i] = a[j]
		}
	}
	return data
}

func TestDecodeOutput(t *testing.T) {
	t.Parallel()

	data := head(2, [][]float32{
		{50, 50, 10, 10, 0.9, 0.1},
		{20, 20, 4, 4, 0.1, 0.2},
		{80, 80, 6, 6, 0.3, 0.7},
	})

	cands := decodeOutput(data, 6, 3, 0.25)
	require.Len(t, cands, 2)
	assert.Equal(t, 0, cands[0].classID)
	assert.InDelta(t, 0.9, cands[0].score, 1e-6)
	assert.Equal(t, 1, cands[1].classID)
	assert.InDelta(t, 80.0, cands[1].box.CX, 1e-9)

	assert.Nil(t, decodeOutput(data, 4, 3, 0.25))
	assert.Nil(t, decodeOutput(data[:5], 6, 3, 0.25))
}

func TestNMS(t *testing.T) {
	t.Parallel()

	cands := []candidate{
		{classID: 0, score: 0.6, box: detector.BBox{CX: 51, CY: 50, W: 10, H: 10}},
		{classID: 0, score: 0.9, box: detector.BBox{CX: 50, CY: 50, W: 10, H: 10}},
		{classID: 1, score: 0.5, box: detector.BBox{CX: 50, CY: 50, W: 10, H: 10}},
		{classID: 0, score: 0.4, box: detector.BBox{CX: 10, CY: 10, W: 5, H: 5}},
	}

	kept := nms(cands, 0.45)
	require.Len(t, kept, 3)
	assert.InDelta(t, 0.9, kept[0].score, 1e-6)
	assert.Equal(t, 1, kept[1].classID, "other classes are not suppressed")
	assert.InDelta(t, 0.4, kept[2].score, 1e-6)
}

func TestIOU(t *testing.T) {
	t.Parallel()

	a := detector.BBox{CX: 5, CY: 5, W: 10, H: 10}
	assert.InDelta(t, 1.0, iou(a, a), 1e-9)
	assert.InDelta(t, 0.0, iou(a, detector.BBox{CX: 50, CY: 50, W: 2, H: 2}), 1e-9)

	b := detector.BBox{CX: 10, CY: 5, W: 10, H: 10}
	assert.InDelta(t, 50.0/150.0, iou(a, b), 1e-9)
}

func TestToDetections(t *testing.T) {
	t.Parallel()

	tr := transform{scale: 2, srcW: 100, srcH: 100}
	dets := toDetections([]candidate{
		{classID: 2, score: 0.8, box: detector.BBox{CX: 100, CY: 100, W: 20, H: 40}},
		{classID: 0, score: 0.8, box: detector.BBox{CX: -50, CY: -50, W: 10, H: 10}},
	}, tr, COCO80())

	require.Len(t, dets, 1, "boxes clipped to nothing are dropped")
	assert.Equal(t, "car", dets[0].Label)
	assert.InDelta(t, 50.0, dets[0].Box.CX, 1e-9)
	assert.InDelta(t, 10.0, dets[0].Box.W, 1e-9)
	assert.InDelta(t, 20.0, dets[0].Box.H, 1e-9)
}

func TestFamily(t *testing.T) {
	t.Parallel()

	f := Family()
	assert.Equal(t, "yolov8", f.Name)
	assert.True(t, f.RequiresModel)
	assert.NotNil(t, f.New)
}
