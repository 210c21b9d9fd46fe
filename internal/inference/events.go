package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/irdetect/autoannotate/internal/detector"
	"github.com/irdetect/autoannotate/internal/errors"
)

// EventType names a server-sent event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one message of an inference stream. Data is plain text for
// progress and complete events and a JSON ErrorPayload for error events.
type Event struct {
	Type EventType
	Data string
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Trace   string `json:"trace"`  // error chain, outermost layer first
	RunID   string `json:"run_id"` // matches X-Run-ID
}

// errorType maps a run failure to the short type reported to clients.
func errorType(err error) string {
	switch {
	case errors.Is(err, detector.ErrUnsupportedFamily):
		return "unsupported_model_family"
	case errors.Is(err, detector.ErrLibraryUnavailable):
		return "library_unavailable"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return string(errors.CategoryOf(err))
}

// errorTrace walks the wrap chain and writes one line per layer. Categorized
// layers show their component and context, plain layers their type and text.
func errorTrace(err error) string {
	var b strings.Builder
	for e := err; e != nil; e = errors.Unwrap(e) {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		ee, ok := e.(*errors.EnhancedError) //nolint:errorlint // walking the chain layer by layer
		if !ok {
			fmt.Fprintf(&b, "%T: %s", e, e.Error())
			continue
		}
		b.WriteString(ee.GetComponent())
		ctx := ee.GetContext()
		for _, k := range slices.Sorted(maps.Keys(ctx)) {
			fmt.Fprintf(&b, " %s=%v", k, ctx[k])
		}
	}
	return b.String()
}

func errorEvent(err error, runID string) Event {
	data, mErr := json.Marshal(ErrorPayload{
		Type:    errorType(err),
		Message: err.Error(),
		Trace:   errorTrace(err),
		RunID:   runID,
	})
	if mErr != nil {
		data = []byte(`{"type":"generic","message":"failed to encode error","trace":"","run_id":""}`)
	}
	return Event{Type: EventError, Data: string(data)}
}
