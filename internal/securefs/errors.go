// Package securefs provides a sandboxed file system rooted at a single
// directory, built on os.Root.
package securefs

import (
	"github.com/irdetect/autoannotate/internal/errors"
)

// Path errors are validation failures: they come from request parameters
// and archive entry names. Wrapping them keeps the category.
var (
	// ErrPathTraversal indicates a path that would resolve outside the base directory.
	ErrPathTraversal = errors.Sentinel("security error: path attempts to traverse outside base directory", errors.CategoryValidation)

	// ErrInvalidPath indicates an invalid path specification, such as an absolute path.
	ErrInvalidPath = errors.Sentinel("security error: invalid path specification", errors.CategoryValidation)

	// ErrNotRegularFile indicates an attempt to serve something that is not a regular file.
	ErrNotRegularFile = errors.Sentinel("security error: not a regular file", errors.CategoryValidation)

	// ErrFileTooLarge is returned when a file exceeds the configured read limit.
	ErrFileTooLarge = errors.Sentinel("file size exceeds maximum allowed size", errors.CategoryLimit)
)
