// Package telemetry reports failed inference runs and server errors to Sentry.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/irdetect/autoannotate/internal/conf"
	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
)

const flushTimeout = 2 * time.Second

// Reporter sends events through its own hub, leaving the global Sentry hub alone.
type Reporter struct {
	hub *sentry.Hub
	log logger.Logger
}

// New returns a Reporter for the configured DSN. It returns nil, nil when
// telemetry is disabled; a nil Reporter accepts every call.
func New(settings conf.SentrySettings, version string, log logger.Logger) (*Reporter, error) {
	if !settings.Enabled {
		return nil, nil
	}
	if settings.DSN == "" {
		return nil, errors.Newf("sentry is enabled but no DSN is configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return newReporter(sentry.ClientOptions{Dsn: settings.DSN}, version, log)
}

func newReporter(opts sentry.ClientOptions, version string, log logger.Logger) (*Reporter, error) {
	if log == nil {
		log = logger.Global().Module("telemetry")
	}

	opts.SampleRate = 1.0
	opts.AttachStacktrace = false
	opts.ServerName = ""
	opts.Environment = "production"
	opts.Release = fmt.Sprintf("autoannotate@%s", version)
	opts.BeforeSend = func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
		return applyPrivacyFilters(event)
	}

	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("sentry initialization failed: %w", err)
	}

	log.Info("Sentry telemetry enabled", logger.String("release", opts.Release))
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope()), log: log}, nil
}

// applyPrivacyFilters strips host identification from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}

// CaptureError reports err with its category and component as tags.
func (r *Reporter) CaptureError(err error, tags map[string]string) {
	if r == nil || err == nil {
		return
	}

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("category", string(errors.CategoryOf(err)))
		var ee *errors.EnhancedError
		if errors.As(err, &ee) {
			scope.SetTag("component", ee.GetComponent())
		}
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		r.hub.CaptureException(err)
	})
}

// ErrorReporter adapts r for errors.SetTelemetryReporter, so server faults
// built with the errors package are reported as they are created.
func (r *Reporter) ErrorReporter() errors.TelemetryReporter {
	if r == nil {
		return errors.NewSentryReporter(nil)
	}
	return errors.NewSentryReporter(r.hub)
}

// Flush waits for queued events to be delivered.
func (r *Reporter) Flush() bool {
	if r == nil {
		return true
	}
	ok := r.hub.Flush(flushTimeout)
	if !ok {
		r.log.Warn("Timed out flushing Sentry events")
	}
	return ok
}
