package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/observability/metrics"
)

// HeaderRunID carries the inference run id on streaming and legacy run responses.
const HeaderRunID = "X-Run-ID"

// NewMetrics records request counts and latency per route template. Errors
// returned by the handler count with the status the error handler will use.
func NewMetrics(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if m == nil {
			return next
		}
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			m.ObserveRequest(c.Request().Method, path, responseStatus(c, err), time.Since(start))
			return err
		}
	}
}

func responseStatus(c echo.Context, err error) int {
	status := c.Response().Status
	if err == nil {
		return status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	if status < http.StatusBadRequest {
		return http.StatusInternalServerError
	}
	return status
}
