package telemetry

import (
	"context"

	"github.com/getsentry/sentry-go"

	"github.com/irdetect/autoannotate/internal/inference"
)

// PublishRun reports failed runs. Completed and cancelled runs are ignored.
func (r *Reporter) PublishRun(_ context.Context, run inference.RunInfo) error {
	if r == nil || run.Status != inference.StatusFailed {
		return nil
	}

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "inference")
		scope.SetTag("model_family", run.ModelFamily)
		scope.SetTag("legacy", boolTag(run.Legacy))
		scope.SetFingerprint([]string{"inference-run-failed", run.ModelFamily})
		scope.SetContext("run", sentry.Context{
			"run_id":    run.ID,
			"processed": run.Processed,
			"total":     run.Total,
		})
		scope.SetLevel(sentry.LevelError)
		r.hub.CaptureMessage("Inference run failed: " + run.Error)
	})
	return nil
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
