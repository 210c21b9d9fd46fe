//go:build gocv

package yolo

import (
	"context"
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/irdetect/autoannotate/internal/detector"
	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
)

// Available reports whether the OpenCV backend is compiled in.
const Available = true

// Detector wraps one loaded ONNX network.
type Detector struct {
	net        gocv.Net
	names      []string
	size       int
	confidence float32
	iou        float64
	log        logger.Logger
}

// New loads the ONNX model at opts.ModelPath.
func New(opts detector.Options) (detector.Detector, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("yolo")
	}

	names, err := LoadClassNames(opts.ModelPath)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	net := gocv.ReadNetFromONNX(opts.ModelPath)
	if net.Empty() {
		return nil, errors.Newf("failed to load ONNX network").
			Component("yolo").
			Category(errors.CategoryModelLoad).
			FileContext(opts.ModelPath, 0).
			Build()
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if err := errors.Join(errBackend, errTarget); err != nil {
		_ = net.Close()
		return nil, errors.New(fmt.Errorf("configure DNN backend: %w", err)).
			Component("yolo").
			Category(errors.CategoryModelInit).
			Build()
	}

	log.Info("YOLO model loaded",
		logger.String("model", opts.ModelPath),
		logger.Int("classes", len(names)),
		logger.Duration("load_time", time.Since(start)))

	return &Detector{
		net:        net,
		names:      names,
		size:       inputSize(opts),
		confidence: opts.Confidence,
		iou:        float64(opts.IOU),
		log:        log,
	}, nil
}

// Detect implements detector.Detector.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]detector.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	boxed, tr := letterbox(img, d.size)
	mat, err := gocv.ImageToMatRGB(boxed)
	if err != nil {
		return nil, errors.New(fmt.Errorf("convert image: %w", err)).
			Component("yolo").
			Category(errors.CategoryImageDecode).
			Build()
	}
	defer mat.Close() //nolint:errcheck // gocv Close only frees memory

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(d.size, d.size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close() //nolint:errcheck // gocv Close only frees memory

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close() //nolint:errcheck // gocv Close only frees memory

	dims := out.Size()
	if len(dims) != 3 {
		return nil, errors.Newf("unexpected YOLO output shape %v", dims).
			Component("yolo").
			Category(errors.CategoryProcessing).
			Build()
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, errors.New(fmt.Errorf("read YOLO output: %w", err)).
			Component("yolo").
			Category(errors.CategoryProcessing).
			Build()
	}

	cands := decodeOutput(data, dims[1], dims[2], d.confidence)
	dets := toDetections(nms(cands, d.iou), tr, d.names)

	d.log.Trace("YOLO inference done",
		logger.Int("candidates", len(cands)),
		logger.Int("detections", len(dets)))
	return dets, nil
}

// Close releases the network.
func (d *Detector) Close() error {
	return d.net.Close()
}
