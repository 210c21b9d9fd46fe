// Package inference runs a detection model over the images of a subset and
// stores the results as an annotation document.
//
// A run is driven either as a stream of events (Stream), consumed by the
// server-sent events endpoint, or synchronously (RunAutoLabel) for the
// deprecated JSON endpoint. Both share one loop: load the model once, then
// decode, detect and convert every image in subset order. Results are only
// written when every image succeeded.
package inference

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/irdetect/autoannotate/internal/dataset"
	"github.com/irdetect/autoannotate/internal/detector"
	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
	"github.com/irdetect/autoannotate/internal/observability/metrics"
)

// finishTimeout bounds history writes and notifications after a run ends.
const finishTimeout = 5 * time.Second

// ModelLocator resolves a model family and version to a weights file.
type ModelLocator interface {
	ModelPath(family, version string) (string, error)
}

// HistoryRecorder persists finished runs.
type HistoryRecorder interface {
	SaveRun(ctx context.Context, run RunInfo) error
}

// Notifier announces finished runs.
type Notifier interface {
	PublishRun(ctx context.Context, run RunInfo) error
}

// Settings tune a run.
type Settings struct {
	Throttle   time.Duration
	Timeout    time.Duration
	Confidence float32
	IOU        float32
	InputSize  int
}

// Job is a prepared run: its configuration and subset are loaded, nothing
// has been inferred yet.
type Job struct {
	ID      string
	Project string
	Config  dataset.AutoConfig
	Subset  *dataset.LoadedSubset
	Legacy  bool
}

// Summary is the result of a synchronous run.
type Summary struct {
	Message     string `json:"message"`
	RunID       string `json:"run_id"`
	Subset      string `json:"subset"`
	Images      int    `json:"images"`
	Annotations int    `json:"annotations"`
	Output      string `json:"output"`
}

// Runner executes inference jobs.
type Runner struct {
	store     *dataset.Store
	models    ModelLocator
	registry  *detector.Registry
	runs      *RunTable
	settings  Settings
	history   HistoryRecorder
	notifiers []Notifier
	metrics   *metrics.InferenceMetrics
	log       logger.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithHistory records finished runs.
func WithHistory(h HistoryRecorder) Option {
	return func(r *Runner) { r.history = h }
}

// WithNotifier publishes finished runs. It may be passed more than once.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) {
		if n != nil {
			r.notifiers = append(r.notifiers, n)
		}
	}
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.InferenceMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the runner logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// NewRunner returns a runner.
func NewRunner(store *dataset.Store, models ModelLocator, registry *detector.Registry, runs *RunTable, settings Settings, opts ...Option) *Runner {
	r := &Runner{
		store:    store,
		models:   models,
		registry: registry,
		runs:     runs,
		settings: settings,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Global().Module("inference")
	}
	if r.runs == nil {
		r.runs = NewRunTable(0, 0)
	}
	return r
}

// Runs returns the run table.
func (r *Runner) Runs() *RunTable {
	return r.runs
}

// Prepare loads the project's auto-annotate config and the subset it
// points to. Both are NotFound when missing.
func (r *Runner) Prepare(project string) (*Job, error) {
	cfg, err := r.store.LoadAutoConfig(project)
	if err != nil {
		return nil, err
	}
	subset, err := r.store.ReadSubset(project, cfg.Subset)
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:      uuid.NewString(),
		Project: project,
		Config:  cfg,
		Subset:  subset,
	}, nil
}

// Stream runs job in a new goroutine and returns its events. The channel is
// unbuffered and is closed after the final complete or error event. When ctx
// ends the run stops before the next image and no results are written.
func (r *Runner) Stream(ctx context.Context, job *Job) <-chan Event {
	events := make(chan Event)
	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(events)
		_, _ = r.run(ctx, job, emit)
	}()
	return events
}

// RunAutoLabel runs job synchronously and writes the results to
// auto_annotate_results.json in the project root.
//
// Deprecated: use Stream, which reports progress and writes the results
// next to the subset.
func (r *Runner) RunAutoLabel(ctx context.Context, job *Job) (*Summary, error) {
	job.Legacy = true
	return r.run(ctx, job, nil)
}

// run drives one job. emit may be nil.
func (r *Runner) run(ctx context.Context, job *Job, emit func(Event) bool) (*Summary, error) {
	ctx = logger.WithRunID(ctx, job.ID)
	runCtx := ctx
	if r.settings.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.settings.Timeout)
		defer cancel()
	}

	r.begin(ctx, job)

	doc, err := r.execute(runCtx, job, emit)

	var output string
	if err == nil {
		if job.Legacy {
			output, err = r.store.WriteLegacyResults(job.Project, doc)
		} else {
			output, err = r.store.WriteSubsetResults(job.Project, job.Subset.Dir, doc)
		}
	}

	run := r.finish(ctx, job, doc, output, err)

	if err != nil {
		if emit != nil {
			emit(errorEvent(err, job.ID))
		}
		return nil, err
	}

	message := fmt.Sprintf("Inference complete, results saved to %s", output)
	if emit != nil {
		emit(Event{Type: EventComplete, Data: message})
	}
	return &Summary{
		Message:     message,
		RunID:       job.ID,
		Subset:      job.Subset.JSON,
		Images:      run.Total,
		Annotations: run.Detections,
		Output:      output,
	}, nil
}

func (r *Runner) begin(ctx context.Context, job *Job) {
	r.runs.Start(RunInfo{
		ID:           job.ID,
		Project:      job.Project,
		Subset:       job.Subset.JSON,
		ModelFamily:  job.Config.ModelFamily,
		ModelVersion: job.Config.ModelVersion,
		Legacy:       job.Legacy,
		Status:       StatusRunning,
		Total:        len(job.Subset.Images),
		StartedAt:    time.Now(),
	})
	if r.metrics != nil {
		r.metrics.RunStarted()
	}

	r.log.WithContext(ctx).Info("Inference run started",
		logger.String("project", job.Project),
		logger.String("subset", job.Subset.JSON),
		logger.String("model_family", job.Config.ModelFamily),
		logger.String("model_version", job.Config.ModelVersion),
		logger.Int("images", len(job.Subset.Images)),
		logger.Bool("legacy", job.Legacy))
}

// execute loads the detector and runs it over every subset image.
func (r *Runner) execute(ctx context.Context, job *Job, emit func(Event) bool) (*dataset.Document, error) {
	log := r.log.WithContext(ctx)
	det, family, err := r.loadDetector(job, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := det.Close(); err != nil {
			log.Warn("Failed to release detector", logger.Error(err))
		}
	}()

	doc := dataset.NewDocument()
	total := len(job.Subset.Images)

	for i, name := range job.Subset.Images {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err, job, i)
		}

		start := time.Now()
		entry, labels, err := r.inferImage(ctx, det, job.Project, name)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, cancelled(ctxErr, job, i)
			}
			return nil, err
		}
		doc.Upsert(name, entry.Width, entry.Height, entry.Annotations)

		if r.metrics != nil {
			r.metrics.RecordImage(family, time.Since(start), labels)
		}
		r.runs.Update(job.ID, func(run *RunInfo) {
			run.Processed = i + 1
			run.Detections += len(labels)
		})

		if emit != nil && !emit(Event{Type: EventProgress, Data: fmt.Sprintf("Inferred %d/%d images", i+1, total)}) {
			return nil, cancelled(ctx.Err(), job, i+1)
		}

		if i < total-1 && r.settings.Throttle > 0 {
			if err := sleep(ctx, r.settings.Throttle); err != nil {
				return nil, cancelled(err, job, i+1)
			}
		}
	}
	return doc, nil
}

func (r *Runner) loadDetector(job *Job, log logger.Logger) (detector.Detector, string, error) {
	fam, err := r.registry.Lookup(job.Config.ModelFamily)
	if err != nil {
		return nil, "", err
	}

	opts := detector.Options{
		Confidence: r.settings.Confidence,
		IOU:        r.settings.IOU,
		InputSize:  r.settings.InputSize,
		Logger:     log.Module(fam.Name),
	}
	if fam.RequiresModel {
		// the catalog lays out families in lower case
		opts.ModelPath, err = r.models.ModelPath(fam.Name, job.Config.ModelVersion)
		if err != nil {
			return nil, "", err
		}
	}

	start := time.Now()
	det, err := fam.New(opts)
	if r.metrics != nil {
		r.metrics.RecordModelLoad(fam.Name, time.Since(start), err)
	}
	if err != nil {
		return nil, "", err
	}
	return det, fam.Name, nil
}

// inferImage decodes one image and converts its detections to annotations.
func (r *Runner) inferImage(ctx context.Context, det detector.Detector, project, name string) (*dataset.ImageEntry, []string, error) {
	f, err := r.store.OpenImage(project, name)
	if err != nil {
		return nil, nil, err
	}
	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	_ = f.Close()
	if err != nil {
		return nil, nil, errors.New(fmt.Errorf("decode %s: %w", name, err)).
			Component("inference").
			Category(errors.CategoryImageDecode).
			Context("project", project).
			Context("image", name).
			Build()
	}

	dets, err := det.Detect(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, err
		}
		return nil, nil, errors.New(fmt.Errorf("detect %s: %w", name, err)).
			Component("inference").
			Category(errors.CategoryProcessing).
			Context("project", project).
			Context("image", name).
			Build()
	}

	annotations := make([]dataset.Annotation, len(dets))
	labels := make([]string, len(dets))
	for i, d := range dets {
		annotations[i] = toAnnotation(i, d)
		labels[i] = d.Label
	}

	b := img.Bounds()
	return &dataset.ImageEntry{Width: b.Dx(), Height: b.Dy(), Annotations: annotations}, labels, nil
}

// toAnnotation renders a detection as {id, bbox: [cx, cy, w, h], label, score}.
func toAnnotation(id int, d detector.Detection) dataset.Annotation {
	return dataset.Annotation{
		"id":    id,
		"bbox":  []float64{round(d.Box.CX, 2), round(d.Box.CY, 2), round(d.Box.W, 2), round(d.Box.H, 2)},
		"label": d.Label,
		"score": round(float64(d.Score), 4),
	}
}

func round(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}

// finish records the outcome in the run table, metrics, history and MQTT.
func (r *Runner) finish(ctx context.Context, job *Job, doc *dataset.Document, output string, runErr error) RunInfo {
	status := StatusCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = StatusCancelled
	default:
		status = StatusFailed
	}

	r.runs.Update(job.ID, func(run *RunInfo) {
		run.Status = status
		run.Output = output
		run.FinishedAt = time.Now()
		if runErr != nil {
			run.Error = runErr.Error()
		}
	})
	run, ok := r.runs.Get(job.ID)
	if !ok {
		// evicted while running; rebuild what we know
		run = RunInfo{ID: job.ID, Project: job.Project, Subset: job.Subset.JSON, Status: status, Total: len(job.Subset.Images)}
	}

	if r.metrics != nil {
		r.metrics.RunFinished(strings.ToLower(job.Config.ModelFamily), string(status))
	}

	log := r.log.WithContext(ctx)
	fields := []logger.Field{
		logger.String("project", job.Project),
		logger.String("status", string(status)),
		logger.Int("processed", run.Processed),
		logger.Int("total", run.Total),
		logger.Int("detections", run.Detections),
		logger.Duration("duration", run.Duration()),
	}
	switch status {
	case StatusCompleted:
		categories := 0
		if doc != nil {
			categories = len(doc.Categories)
		}
		log.Info("Inference run completed", append(fields, logger.String("output", output), logger.Int("categories", categories))...)
	case StatusCancelled:
		log.Info("Inference run cancelled", fields...)
	default:
		log.Error("Inference run failed", append(fields, logger.Error(runErr))...)
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if r.history != nil {
		if err := r.history.SaveRun(finishCtx, run); err != nil {
			log.Warn("Failed to record run history", logger.Error(err))
		}
	}
	for _, n := range r.notifiers {
		if err := n.PublishRun(finishCtx, run); err != nil {
			log.Warn("Failed to publish run notification", logger.Error(err))
		}
	}
	return run
}

func cancelled(err error, job *Job, processed int) error {
	if err == nil {
		err = context.Canceled
	}
	category := errors.CategoryCancellation
	if errors.Is(err, context.DeadlineExceeded) {
		category = errors.CategoryTimeout
	}
	return errors.New(fmt.Errorf("inference stopped after %d/%d images: %w", processed, len(job.Subset.Images), err)).
		Component("inference").
		Category(category).
		Context("run_id", job.ID).
		Build()
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
