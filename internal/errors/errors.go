// Package errors builds categorized errors for the service. The category
// decides the HTTP status an error maps to and whether it is reported to
// telemetry; component and context travel with it into logs and Sentry.
//
//	return errors.New(err).
//		Component("dataset").
//		Category(errors.CategoryFileIO).
//		Context("project", name).
//		Build()
package errors

import (
	"maps"
	"sync"
	"time"
)

// EnhancedError is an error with a category, the component that raised it
// and free-form context.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	mu        sync.RWMutex
	component string
	reported  bool
}

func (ee *EnhancedError) Error() string { return ee.Err.Error() }

func (ee *EnhancedError) Unwrap() error { return ee.Err }

// Is matches another EnhancedError by category; anything else is compared
// against the wrapped error.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return Is(ee.Err, target)
}

// GetComponent returns the component name.
func (ee *EnhancedError) GetComponent() string {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.component
}

// GetContext returns a copy of the context map.
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// MarkReported records that telemetry has seen this error.
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	ee.reported = true
	ee.mu.Unlock()
}

func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}
