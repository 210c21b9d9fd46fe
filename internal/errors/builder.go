package errors

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

const modulePath = "github.com/irdetect/autoannotate/"

// hasActiveReporting is set while a telemetry reporter is installed. Stack
// walking for the component only happens then.
var hasActiveReporting atomic.Bool

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts a builder around err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts a builder around a formatted error; %w wraps as usual.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component names the raising package. Left empty, it is derived from the
// call stack when telemetry is active.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// FileContext records the file extension and a size bucket. The path itself
// stays out of the context since it names the operator's directories.
func (eb *ErrorBuilder) FileContext(path string, size int64) *ErrorBuilder {
	if path != "" {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if ext == "" {
			ext = "none"
		}
		eb.Context("file_extension", ext)
	}
	if size > 0 {
		eb.Context("file_size_category", sizeBucket(size))
	}
	return eb
}

// Build returns the error and hands it to the telemetry reporter, if any.
// A category left unset is inherited from the wrapped error.
func (eb *ErrorBuilder) Build() *EnhancedError {
	if eb.err == nil {
		eb.err = NewStd("unknown error")
	}
	reporting := hasActiveReporting.Load()

	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
		component: eb.component,
	}
	if ee.Category == "" {
		ee.Category = inheritCategory(eb.err)
	}
	if ee.component == "" {
		ee.component = ComponentUnknown
		if reporting {
			ee.component = callerComponent()
		}
	}

	if reporting {
		reportToTelemetry(ee)
	}
	return ee
}

// callerComponent returns the package of the first caller inside this
// module and outside this package, e.g. "dataset" or "api.v1".
func callerComponent() string {
	pcs := make([]uintptr, 24)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(3, pcs)])
	for {
		frame, more := frames.Next()
		if strings.HasPrefix(frame.Function, modulePath) &&
			!strings.HasPrefix(frame.Function, modulePath+"internal/errors") {
			return componentFromFunc(frame.Function)
		}
		if !more {
			return ComponentUnknown
		}
	}
}

func componentFromFunc(funcName string) string {
	pkg := strings.TrimPrefix(strings.TrimPrefix(funcName, modulePath), "internal/")
	pkg, _, _ = strings.Cut(pkg, ".")
	return strings.ReplaceAll(pkg, "/", ".")
}

func sizeBucket(size int64) string {
	switch {
	case size < 1<<10:
		return "tiny"
	case size < 1<<20:
		return "small"
	case size < 10<<20:
		return "medium"
	case size < 100<<20:
		return "large"
	default:
		return "very-large"
	}
}
