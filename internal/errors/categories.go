package errors

// ErrorCategory groups errors for HTTP mapping and telemetry.
type ErrorCategory string

const (
	// caller mistakes, never reported
	CategoryValidation   ErrorCategory = "validation"
	CategoryNotFound     ErrorCategory = "not-found"
	CategoryConflict     ErrorCategory = "conflict"
	CategoryLimit        ErrorCategory = "limit"
	CategoryCancellation ErrorCategory = "cancellation"

	CategoryFileIO         ErrorCategory = "file-io"
	CategoryFileParsing    ErrorCategory = "file-parsing"
	CategoryImageDecode    ErrorCategory = "image-decode"
	CategoryModelLoad      ErrorCategory = "model-loading"
	CategoryModelInit      ErrorCategory = "model-initialization"
	CategoryProcessing     ErrorCategory = "processing"
	CategoryDatabase       ErrorCategory = "database"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryMQTTConnection ErrorCategory = "mqtt-connection"
	CategoryMQTTPublish    ErrorCategory = "mqtt-publish"
	CategoryDiskUsage      ErrorCategory = "disk-usage"
	CategorySystem         ErrorCategory = "system-resource"
	CategoryTimeout        ErrorCategory = "timeout"
	CategoryGeneric        ErrorCategory = "generic"
)

// CategorizedError is implemented by errors that know their own category.
// Build picks it up from anywhere in the wrapped chain.
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

type sentinel struct {
	msg      string
	category ErrorCategory
}

func (s *sentinel) Error() string                { return s.msg }
func (s *sentinel) ErrorCategory() ErrorCategory { return s.category }

// Sentinel returns a comparable package-level error carrying category.
func Sentinel(text string, category ErrorCategory) error {
	return &sentinel{msg: text, category: category}
}

func inheritCategory(err error) ErrorCategory {
	var ee *EnhancedError
	if As(err, &ee) && ee.Category != "" {
		return ee.Category
	}
	var ce CategorizedError
	if As(err, &ce) {
		return ce.ErrorCategory()
	}
	return CategoryGeneric
}

// ValidationError creates a validation error.
func ValidationError(message string) *EnhancedError {
	return New(NewStd(message)).Category(CategoryValidation).Build()
}

// NotFoundError creates a not-found error.
func NotFoundError(format string, args ...any) *EnhancedError {
	return Newf(format, args...).Category(CategoryNotFound).Build()
}

// ConflictError creates a conflict error.
func ConflictError(format string, args ...any) *EnhancedError {
	return Newf(format, args...).Category(CategoryConflict).Build()
}

// FileError creates a file I/O error with extension and size context.
func FileError(err error, path string, size int64) *EnhancedError {
	return New(err).Category(CategoryFileIO).FileContext(path, size).Build()
}

// IsCategory reports whether an EnhancedError in err's chain, or a
// CategorizedError, has category.
func IsCategory(err error, category ErrorCategory) bool {
	return err != nil && CategoryOf(err) == category
}

// CategoryOf returns the category of the outermost categorized error in
// err's chain, or CategoryGeneric.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return CategoryGeneric
	}
	return inheritCategory(err)
}

// IsNotFound is IsCategory(err, CategoryNotFound).
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}
