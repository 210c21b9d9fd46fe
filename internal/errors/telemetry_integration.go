package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter on a Sentry hub. The hub's
// client is owned by the caller.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter reports through hub. A nil hub yields a disabled reporter.
func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	return &SentryReporter{hub: hub}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.hub != nil
}

// ReportError sends an enhanced error to Sentry with paths and credentials scrubbed
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if sr.hub == nil || ee.IsReported() {
		return
	}
	if !shouldReport(ee.Category) {
		return
	}

	message := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	title := generateErrorTitle(ee)
	component := ee.GetComponent()

	sr.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_title", title)
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessageForPrivacy(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sr.hub.CaptureEvent(event)
	})

	ee.MarkReported()
}

// shouldReport filters out categories that describe caller mistakes rather
// than server faults.
func shouldReport(category ErrorCategory) bool {
	switch category {
	case CategoryValidation, CategoryNotFound, CategoryConflict, CategoryLimit, CategoryCancellation:
		return false
	default:
		return true
	}
}

func generateErrorTitle(ee *EnhancedError) string {
	var parts []string

	if component := ee.GetComponent(); component != "" && component != ComponentUnknown {
		parts = append(parts, titleCase(component))
	}
	if category := formatCategoryForTitle(ee.Category); category != "" {
		parts = append(parts, category)
	}
	if operation, ok := ee.GetContext()["operation"].(string); ok && operation != "" {
		parts = append(parts, formatOperationForTitle(operation))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(parts, " ")
}

func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryFileIO:
		return "File I/O Error"
	case CategoryFileParsing:
		return "File Parsing Error"
	case CategoryImageDecode:
		return "Image Decode Error"
	case CategoryModelLoad:
		return "Model Loading Error"
	case CategoryModelInit:
		return "Model Initialization Error"
	case CategoryProcessing:
		return "Inference Error"
	case CategoryDatabase:
		return "Database Error"
	case CategoryConfiguration:
		return "Configuration Error"
	case CategoryMQTTConnection, CategoryMQTTPublish:
		return "MQTT Error"
	case CategoryDiskUsage, CategorySystem:
		return "System Error"
	default:
		return string(category)
	}
}

func formatOperationForTitle(operation string) string {
	words := strings.Fields(strings.ReplaceAll(operation, "_", " "))
	for i, word := range words {
		words[i] = titleCase(word)
	}
	return strings.Join(words, " ")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryMQTTConnection, CategoryMQTTPublish, CategoryTimeout, CategoryFileIO, CategoryImageDecode:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var (
	telemetryMu             sync.RWMutex
	globalTelemetryReporter TelemetryReporter
)

// SetTelemetryReporter installs the global telemetry reporter. Passing nil
// disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	telemetryMu.RLock()
	defer telemetryMu.RUnlock()
	return globalTelemetryReporter
}

func reportToTelemetry(ee *EnhancedError) {
	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

var (
	userinfoRegex = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/@\s]+@`)
	queryRegex    = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	absPathRegex  = regexp.MustCompile(`(^|[\s"'(=])(/[^\s"')]+/)([^/\s"')]+)`)
)

// scrubMessageForPrivacy strips URL credentials, query strings and directory
// prefixes of absolute paths so project and host layout never leave the machine.
func scrubMessageForPrivacy(message string) string {
	scrubbed := userinfoRegex.ReplaceAllString(message, "${1}[REDACTED]@")
	scrubbed = queryRegex.ReplaceAllString(scrubbed, "$1?[REDACTED]")
	scrubbed = absPathRegex.ReplaceAllString(scrubbed, "${1}[PATH]/$3")
	return scrubbed
}
