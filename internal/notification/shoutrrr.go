// Package notification delivers run notifications to chat and push services
// through shoutrrr service URLs such as discord://, slack://, ntfy:// or
// generic+https:// webhooks.
package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/inference"
	"github.com/irdetect/autoannotate/internal/logger"
)

// Sender is the part of a shoutrrr router used here.
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// Shoutrrr sends a short message for every finished run.
type Shoutrrr struct {
	sender       Sender
	failuresOnly bool
	log          logger.Logger
}

// Option configures a Shoutrrr notifier.
type Option func(*Shoutrrr)

// WithFailuresOnly skips completed and cancelled runs.
func WithFailuresOnly(only bool) Option {
	return func(s *Shoutrrr) { s.failuresOnly = only }
}

// WithLogger sets the notifier logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Shoutrrr) { s.log = l }
}

// NewShoutrrr builds one router for all urls. Invalid URLs fail here rather
// than on the first run.
func NewShoutrrr(urls []string, timeout time.Duration, opts ...Option) (*Shoutrrr, error) {
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			cleaned = append(cleaned, u)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	router, err := shoutrrr.CreateSender(cleaned...)
	if err != nil {
		return nil, errors.Newf("invalid notification URL: %s", logger.RedactURL(err.Error())).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("urls", len(cleaned)).
			Build()
	}
	if timeout > 0 {
		router.Timeout = timeout
	}
	router.SetLogger(log.New(io.Discard, "", 0))

	return NewWithSender(router, opts...), nil
}

// NewWithSender wraps an existing sender.
func NewWithSender(sender Sender, opts ...Option) *Shoutrrr {
	s := &Shoutrrr{sender: sender}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("notification")
	}
	return s
}

// PublishRun sends the run summary to every configured service and returns
// the first delivery error.
func (s *Shoutrrr) PublishRun(ctx context.Context, run inference.RunInfo) error {
	if s.failuresOnly && run.Status != inference.StatusFailed {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	title, message := FormatRun(run)
	params := stypes.Params{}
	params.SetTitle(title)

	for _, err := range s.sender.Send(message, &params) {
		if err == nil {
			continue
		}
		return errors.Newf("notification delivery failed: %s", logger.RedactURL(err.Error())).
			Component("notification").
			Category(errors.CategoryProcessing).
			Context("run_id", run.ID).
			Build()
	}

	s.log.Debug("Run notification sent",
		logger.String("run_id", run.ID),
		logger.String("status", string(run.Status)))
	return nil
}

// FormatRun renders the title and body of a run notification.
func FormatRun(run inference.RunInfo) (title, message string) {
	title = fmt.Sprintf("autoannotate: %s run %s", run.Project, run.Status)

	var b strings.Builder
	fmt.Fprintf(&b, "Subset %s with %s/%s: %d/%d images, %d detections",
		run.Subset, run.ModelFamily, run.ModelVersion, run.Processed, run.Total, run.Detections)
	if d := run.Duration(); d > 0 {
		fmt.Fprintf(&b, " in %s", d.Round(time.Millisecond))
	}
	if run.Output != "" {
		fmt.Fprintf(&b, "\nResults: %s", run.Output)
	}
	if run.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", run.Error)
	}
	return title, b.String()
}
