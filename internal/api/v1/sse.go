package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/irdetect/autoannotate/internal/api/middleware"
	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/inference"
	"github.com/irdetect/autoannotate/internal/logger"
)

// sseWriteTimeout bounds a single event write to a slow client.
const sseWriteTimeout = 10 * time.Second

// RunInference streams an inference run as server-sent events. Config and
// subset problems are reported as a JSON error before the stream starts;
// everything after that arrives as plain data lines (progress and the final
// "Inference complete" line) or one named error event.
func (c *Controller) RunInference(ctx echo.Context) error {
	job, err := c.runner.Prepare(ctx.Param("name"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to start inference")
	}

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.Header().Set(middleware.HeaderRunID, job.ID)
	res.WriteHeader(http.StatusOK)
	res.Flush()

	if c.metrics != nil {
		defer c.metrics.HTTP.StreamOpened()()
	}

	log := c.log.With(logger.String("run_id", job.ID), logger.String("project", job.Project))
	log.Info("Inference stream opened", logger.String("ip", ctx.RealIP()))

	// A failed write cancels the run; the loop keeps draining until the
	// runner closes the channel.
	runCtx, cancel := context.WithCancel(ctx.Request().Context())
	defer cancel()

	writeFailed := false
	for ev := range c.runner.Stream(runCtx, job) {
		if writeFailed {
			continue
		}
		if err := c.sendSSEMessage(ctx, ev); err != nil {
			log.Warn("Inference stream write failed, stopping run", logger.Error(err))
			writeFailed = true
			cancel()
		}
	}

	log.Info("Inference stream closed", logger.Bool("client_gone", writeFailed || ctx.Request().Context().Err() != nil))
	return nil
}

// sendSSEMessage writes one event. Progress and complete go out unnamed so
// EventSource.onmessage receives them; errors carry "event: error".
// Multi-line data is split over several data fields.
func (c *Controller) sendSSEMessage(ctx echo.Context, ev inference.Event) error {
	data := ev.Data
	var b strings.Builder
	if ev.Type == inference.EventError {
		fmt.Fprintf(&b, "event: %s\n", ev.Type)
	}
	for line := range strings.Lines(data) {
		fmt.Fprintf(&b, "data: %s\n", strings.TrimRight(line, "\r\n"))
	}
	if data == "" {
		b.WriteString("data: \n")
	}
	b.WriteString("\n")

	rc := http.NewResponseController(ctx.Response())
	if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		c.log.Debug("Failed to set write deadline for SSE message", logger.Error(err))
	}

	if _, err := ctx.Response().Write([]byte(b.String())); err != nil {
		return fmt.Errorf("failed to write SSE message: %w", err)
	}
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("failed to flush SSE message: %w", err)
	}

	if c.metrics != nil {
		c.metrics.HTTP.EventSent(string(ev.Type))
	}
	return nil
}
