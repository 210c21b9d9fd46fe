package securefs

import (
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
)

// GetLogger returns the securefs package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("securefs")
}

// SecureFS provides filesystem operations restricted to a base directory.
// Every path argument is relative to that directory; os.Root enforces the
// boundary at the OS level, including for symlinks.
type SecureFS struct {
	baseDir         string
	root            *os.Root
	maxReadFileSize int64 // 0 = unlimited
}

// New creates the base directory if needed and opens it as a sandbox root.
func New(baseDir string) (*SecureFS, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem sandbox: %w", err)
	}

	return &SecureFS{baseDir: absPath, root: root}, nil
}

// ValidateRelativePath cleans relPath and rejects absolute paths and paths
// that climb above the base directory. The empty path maps to ".".
func (sfs *SecureFS) ValidateRelativePath(relPath string) (string, error) {
	if relPath == "" {
		return ".", nil
	}

	cleanedPath := filepath.Clean(filepath.FromSlash(relPath))

	if filepath.IsAbs(cleanedPath) || filepath.VolumeName(cleanedPath) != "" {
		return "", fmt.Errorf("%w: path must be relative, got %q", ErrInvalidPath, relPath)
	}

	if cleanedPath == ".." || strings.HasPrefix(cleanedPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, relPath)
	}

	return cleanedPath, nil
}

// Mkdir creates a single directory. Unlike MkdirAll it reports fs.ErrExist
// when the directory already exists, so callers can use it as an atomic claim.
func (sfs *SecureFS) Mkdir(relPath string, perm os.FileMode) error {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return err
	}
	return sfs.root.Mkdir(p, perm)
}

// MkdirAll creates a directory and all necessary parents.
func (sfs *SecureFS) MkdirAll(relPath string, perm os.FileMode) error {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return err
	}
	if p == "." {
		return nil
	}

	currentPath := ""
	for component := range strings.SplitSeq(p, string(filepath.Separator)) {
		if component == "" {
			continue
		}
		currentPath = filepath.Join(currentPath, component)
		if err := sfs.root.Mkdir(currentPath, perm); err != nil && !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("failed to create directory component %s: %w", currentPath, err)
		}
	}
	return nil
}

func (sfs *SecureFS) removeAllRelative(relPath string) error {
	info, err := sfs.root.Lstat(relPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return sfs.root.Remove(relPath)
	}
	return sfs.removeDirContents(relPath)
}

// removeDirContents removes files first, then subdirectories bottom-up, then the directory itself.
func (sfs *SecureFS) removeDirContents(relPath string) error {
	entries, err := sfs.readDirRelative(relPath)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := sfs.root.Remove(filepath.Join(relPath, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := sfs.removeAllRelative(filepath.Join(relPath, entry.Name())); err != nil {
			return err
		}
	}

	return sfs.root.Remove(relPath)
}

// RemoveAll removes a path and everything below it. A missing path is not an error.
// The base directory itself cannot be removed.
func (sfs *SecureFS) RemoveAll(relPath string) error {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return err
	}
	if p == "." {
		return fmt.Errorf("%w: refusing to remove the base directory", ErrInvalidPath)
	}
	return sfs.removeAllRelative(p)
}

// Remove removes a single file or empty directory.
func (sfs *SecureFS) Remove(relPath string) error {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return err
	}
	return sfs.root.Remove(p)
}

// Rename moves oldpath to newpath within the sandbox.
func (sfs *SecureFS) Rename(oldpath, newpath string) error {
	oldRel, err := sfs.ValidateRelativePath(oldpath)
	if err != nil {
		return err
	}
	newRel, err := sfs.ValidateRelativePath(newpath)
	if err != nil {
		return err
	}
	return sfs.root.Rename(oldRel, newRel)
}

// OpenFile opens a file with the given flags.
func (sfs *SecureFS) OpenFile(relPath string, flag int, perm os.FileMode) (*os.File, error) {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return nil, err
	}
	return sfs.root.OpenFile(p, flag, perm)
}

// Open opens a file for reading.
func (sfs *SecureFS) Open(relPath string) (*os.File, error) {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return nil, err
	}
	return sfs.root.Open(p)
}

// Stat returns file info, following symlinks that stay inside the sandbox.
func (sfs *SecureFS) Stat(relPath string) (fs.FileInfo, error) {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return nil, err
	}
	return sfs.root.Stat(p)
}

// Exists reports whether relPath exists. Validation errors are returned, not swallowed.
func (sfs *SecureFS) Exists(relPath string) (bool, error) {
	_, err := sfs.Stat(relPath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// IsDir reports whether relPath exists and is a directory.
func (sfs *SecureFS) IsDir(relPath string) (bool, error) {
	info, err := sfs.Stat(relPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// SetMaxReadFileSize limits ReadFile to files of at most maxSize bytes. 0 disables the check.
func (sfs *SecureFS) SetMaxReadFileSize(maxSize int64) {
	sfs.maxReadFileSize = maxSize
}

// ReadFile reads a whole file.
func (sfs *SecureFS) ReadFile(relPath string) ([]byte, error) {
	file, err := sfs.Open(relPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			GetLogger().Warn("Failed to close file", logger.String("path", relPath), logger.Error(err))
		}
	}()

	if sfs.maxReadFileSize > 0 {
		stat, err := file.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat file: %w", err)
		}
		if stat.Size() > sfs.maxReadFileSize {
			return nil, fmt.Errorf("%w: file is %d bytes, limit is %d bytes",
				ErrFileTooLarge, stat.Size(), sfs.maxReadFileSize)
		}
	}

	return io.ReadAll(file)
}

// WriteFile creates or truncates relPath and writes data to it.
func (sfs *SecureFS) WriteFile(relPath string, data []byte, perm os.FileMode) error {
	file, err := sfs.OpenFile(relPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, err = file.Write(data)
	return errors.Join(err, file.Close())
}

// WriteFileAtomic writes data to a temporary sibling and renames it over
// relPath, so readers never observe a half-written file.
func (sfs *SecureFS) WriteFileAtomic(relPath string, data []byte, perm os.FileMode) error {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return err
	}

	tmp := filepath.Join(filepath.Dir(p), "."+filepath.Base(p)+"."+uuid.NewString()[:8]+".tmp")
	if err := sfs.WriteFile(tmp, data, perm); err != nil {
		_ = sfs.root.Remove(tmp)
		return err
	}
	if err := sfs.root.Rename(tmp, p); err != nil {
		_ = sfs.root.Remove(tmp)
		return err
	}
	return nil
}

// CopyFrom streams r into relPath, creating or truncating it, and returns the bytes written.
func (sfs *SecureFS) CopyFrom(relPath string, r io.Reader, perm os.FileMode) (int64, error) {
	file, err := sfs.OpenFile(relPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(file, r)
	return n, errors.Join(err, file.Close())
}

func (sfs *SecureFS) readDirRelative(relPath string) ([]os.DirEntry, error) {
	dirFile, err := sfs.root.Open(relPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := dirFile.Close(); err != nil {
			GetLogger().Warn("Failed to close directory", logger.String("path", relPath), logger.Error(err))
		}
	}()
	return dirFile.ReadDir(0)
}

// ReadDir returns the entries of a directory in directory order.
func (sfs *SecureFS) ReadDir(relPath string) ([]os.DirEntry, error) {
	p, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return nil, err
	}
	return sfs.readDirRelative(p)
}

func mapOpenErrorToHTTP(err error, effectivePath string) *echo.HTTPError {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("File not found: %s", effectivePath))
	case errors.Is(err, fs.ErrPermission):
		return echo.NewHTTPError(http.StatusForbidden, "Access denied")
	case errors.Is(err, ErrPathTraversal), errors.Is(err, ErrInvalidPath):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid file path").SetInternal(err)
	case errors.Is(err, ErrNotRegularFile):
		return echo.NewHTTPError(http.StatusForbidden, "Not a regular file")
	default:
		// os.Root reports escapes through symlinks as a plain path error
		if strings.Contains(err.Error(), "path escapes from parent") {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid file path").SetInternal(err)
		}
		GetLogger().Error("Unhandled error serving file",
			logger.String("path", effectivePath),
			logger.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Error serving file").SetInternal(err)
	}
}

func getContentType(path string) string {
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		return "application/octet-stream"
	}
	return contentType
}

// ServeFile writes a regular file inside the sandbox to the response,
// with range and conditional request support from http.ServeContent.
func (sfs *SecureFS) ServeFile(c echo.Context, relPath string) error {
	f, err := sfs.Open(relPath)
	if err != nil {
		return mapOpenErrorToHTTP(err, relPath)
	}
	defer func() {
		if err := f.Close(); err != nil {
			GetLogger().Warn("Failed to close file", logger.Error(err))
		}
	}()

	stat, err := f.Stat()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get file info").SetInternal(err)
	}
	if !stat.Mode().IsRegular() {
		return mapOpenErrorToHTTP(ErrNotRegularFile, relPath)
	}

	if c.Response().Header().Get(echo.HeaderContentType) == "" {
		c.Response().Header().Set(echo.HeaderContentType, getContentType(relPath))
	}

	http.ServeContent(c.Response(), c.Request(), filepath.Base(relPath), stat.ModTime(), f)
	return nil
}

// BaseDir returns the absolute base directory.
func (sfs *SecureFS) BaseDir() string {
	return sfs.baseDir
}

// Close closes the underlying root.
func (sfs *SecureFS) Close() error {
	if sfs.root != nil {
		return sfs.root.Close()
	}
	return nil
}
