// Package api implements the JSON and streaming endpoints of the dataset
// service on top of echo.
package api

import (
	"context"
	"crypto/rand"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/irdetect/autoannotate/internal/buildinfo"
	"github.com/irdetect/autoannotate/internal/catalog"
	"github.com/irdetect/autoannotate/internal/dataset"
	"github.com/irdetect/autoannotate/internal/diskmanager"
	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/inference"
	"github.com/irdetect/autoannotate/internal/logger"
	"github.com/irdetect/autoannotate/internal/observability"
)

// ModelCatalog lists the detection models on disk.
type ModelCatalog interface {
	Families() ([]string, error)
	Versions(family string) ([]string, error)
	List() (map[string][]string, error)
	Descriptions() (map[string]catalog.FamilyDescription, error)
}

// RunHistory reads persisted runs.
type RunHistory interface {
	ListRuns(ctx context.Context, project string, limit int) ([]inference.RunInfo, error)
	GetRun(ctx context.Context, id string) (inference.RunInfo, error)
}

// DiskReporter reports usage of the projects volume.
type DiskReporter interface {
	Usage() (diskmanager.DiskSpaceInfo, error)
}

// Controller owns the API routes.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	store   *dataset.Store
	models  ModelCatalog
	runner  *inference.Runner
	history RunHistory
	disk    DiskReporter
	metrics *observability.Metrics
	build   *buildinfo.Context
	log     logger.Logger

	startTime time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithHistory serves run history from a database.
func WithHistory(h RunHistory) Option {
	return func(c *Controller) { c.history = h }
}

// WithDisk reports projects volume usage on the health endpoint.
func WithDisk(d DiskReporter) Option {
	return func(c *Controller) { c.disk = d }
}

// WithMetrics records upload, subset and SSE metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithBuildInfo reports the binary version on the health endpoint.
func WithBuildInfo(b *buildinfo.Context) Option {
	return func(c *Controller) { c.build = b }
}

// WithLogger sets the controller logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// New creates the controller and registers its routes on e.
func New(e *echo.Echo, store *dataset.Store, models ModelCatalog, runner *inference.Runner, opts ...Option) *Controller {
	c := &Controller{
		Echo:      e,
		store:     store,
		models:    models,
		runner:    runner,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Global().Module("api")
	}

	c.Group = e.Group("/api")
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	c.initProjectRoutes()
	c.initAnnotationRoutes()
	c.initSubsetRoutes()
	c.initModelRoutes()
	c.initLabelRoutes()
	c.initInferenceRoutes()
}

// HealthCheck reports liveness, uptime and storage state.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := time.Since(c.startTime)
	response := map[string]any{
		"status":         "healthy",
		"version":        c.build.Version(),
		"build_date":     c.build.BuildDate(),
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
		"active_runs":    c.runner.Runs().Len(),
	}

	if c.disk != nil {
		usage, err := c.disk.Usage()
		if err != nil {
			response["disk_error"] = err.Error()
		} else {
			response["disk_space"] = map[string]any{
				"total_bytes":  usage.TotalBytes,
				"free_bytes":   usage.FreeBytes,
				"used_percent": usage.UsedPercent(),
			}
		}
	}

	response["run_history"] = c.history != nil

	return ctx.JSON(http.StatusOK, response)
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse builds an error body with a fresh correlation id.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID returns a short random id used to match a response
// with its log entry.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// StatusCode maps an error category to an HTTP status.
func StatusCode(err error) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryLimit:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// HandleError logs err with a correlation id and writes the JSON error body.
// The status is derived from the error category.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	return c.handleErrorWithCode(ctx, err, message, StatusCode(err))
}

func (c *Controller) handleErrorWithCode(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err), logger.String("category", string(errors.CategoryOf(err))))
	}

	if code >= http.StatusInternalServerError {
		c.log.Error("API error", fields...)
	} else {
		c.log.Warn("API request rejected", fields...)
	}

	return ctx.JSON(code, resp)
}

// badRequest responds 400 for malformed input detected by the handler itself.
func (c *Controller) badRequest(ctx echo.Context, message string) error {
	return c.handleErrorWithCode(ctx, nil, message, http.StatusBadRequest)
}

// HTTPErrorHandler renders errors that escape handlers, such as routing
// failures and file serving errors, in the API error shape.
func (c *Controller) HTTPErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(code)
		}
		if he.Internal != nil {
			err = he.Internal
		}
	}

	if writeErr := c.handleErrorWithCode(ctx, err, message, code); writeErr != nil {
		c.log.Warn("Failed to write error response", logger.Error(writeErr))
	}
}

// messageResponse is the success body understood by the frontend pages.
type messageResponse struct {
	Message string `json:"message"`
}
