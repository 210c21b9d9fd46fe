package dataset

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
)

// CreateProject creates <name>/images. It fails with Conflict when the
// project already has an images directory.
func (s *Store) CreateProject(name string) error {
	if err := ValidateName("project", name); err != nil {
		return err
	}

	unlock := s.locks.Lock(name)
	defer unlock()

	imagesDir := projectPath(name, ImagesDir)
	exists, err := s.fs.Exists(imagesDir)
	if err != nil {
		return internalError(err, "create_project", name)
	}
	if exists {
		return errors.ConflictError("project %q already exists", name)
	}

	if err := s.fs.MkdirAll(imagesDir, dirPerm); err != nil {
		return internalError(err, "create_project", name)
	}

	s.log.Info("Project created", logger.String("project", name))
	return nil
}

// ListProjects returns every entry of the projects directory, sorted.
// Stray files are reported too.
func (s *Store) ListProjects() ([]string, error) {
	entries, err := s.fs.ReadDir(".")
	if err != nil {
		return nil, internalError(err, "list_projects", "")
	}

	projects := make([]string, 0, len(entries))
	for _, e := range entries {
		projects = append(projects, e.Name())
	}
	slices.Sort(projects)
	return projects, nil
}

// ListImages returns the regular files directly under <name>/images, sorted.
// A missing images directory yields an empty list.
func (s *Store) ListImages(name string) ([]string, error) {
	if err := ValidateName("project", name); err != nil {
		return nil, err
	}

	entries, err := s.fs.ReadDir(projectPath(name, ImagesDir))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, internalError(err, "list_images", name)
	}

	images := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			images = append(images, e.Name())
		}
	}
	slices.Sort(images)
	return images, nil
}

// ImagePath returns the store-relative path of an image after validating both names.
func (s *Store) ImagePath(project, file string) (string, error) {
	if err := ValidateName("project", project); err != nil {
		return "", err
	}
	if err := ValidateName("image", file); err != nil {
		return "", err
	}
	return projectPath(project, ImagesDir, file), nil
}

// ProjectFilePath returns the store-relative path of a file inside a project,
// rejecting paths that leave the project directory.
func (s *Store) ProjectFilePath(project, rel string) (string, error) {
	if err := ValidateName("project", project); err != nil {
		return "", err
	}
	cleaned := path.Clean("/" + strings.ReplaceAll(rel, `\`, "/"))
	if cleaned == "/" {
		return "", badRequest("no file path provided")
	}
	return projectPath(project, strings.TrimPrefix(cleaned, "/")), nil
}

// UploadImages extracts the supported images of a zip archive into
// <name>/images. Entries are flattened to their base name, so a later entry
// overwrites an earlier one with the same name. It returns the number of
// files written.
func (s *Store) UploadImages(ctx context.Context, name string, archive io.ReaderAt, size int64) (int, error) {
	if err := ValidateName("project", name); err != nil {
		return 0, err
	}

	if s.guard != nil {
		if err := s.guard.CheckFreeSpace(); err != nil {
			return 0, err
		}
	}

	zr, err := zip.NewReader(archive, size)
	if err != nil {
		return 0, errors.New(fmt.Errorf("invalid zip archive: %w", err)).
			Component("dataset").
			Category(errors.CategoryValidation).
			Context("project", name).
			Build()
	}

	imagesDir := projectPath(name, ImagesDir)
	if err := s.fs.MkdirAll(imagesDir, dirPerm); err != nil {
		return 0, internalError(err, "upload_images", name)
	}

	count := 0
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		base := path.Base(strings.ReplaceAll(f.Name, `\`, "/"))
		if base == "" || base == "." || base == "/" || !s.IsImageFile(base) {
			continue
		}

		if err := s.extractEntry(f, path.Join(imagesDir, base)); err != nil {
			return count, err
		}
		count++
	}

	s.log.Info("Images uploaded",
		logger.String("project", name),
		logger.Int("count", count),
		logger.Int("entries", len(zr.File)))
	return count, nil
}

func (s *Store) extractEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return errors.New(fmt.Errorf("invalid zip entry %q: %w", f.Name, err)).
			Component("dataset").
			Category(errors.CategoryValidation).
			Build()
	}
	defer func() {
		if err := rc.Close(); err != nil {
			s.log.Warn("Failed to close zip entry", logger.String("entry", f.Name), logger.Error(err))
		}
	}()

	if _, err := s.fs.CopyFrom(dest, rc, filePerm); err != nil {
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) || errors.Is(err, zip.ErrAlgorithm) {
			return errors.New(fmt.Errorf("corrupt zip entry %q: %w", f.Name, err)).
				Component("dataset").
				Category(errors.CategoryValidation).
				Build()
		}
		return errors.FileError(err, dest, int64(f.UncompressedSize64)) //nolint:gosec // size only used for bucketing
	}
	return nil
}

// OpenImage opens a project image for reading. A missing file is NotFound.
func (s *Store) OpenImage(project, file string) (io.ReadCloser, error) {
	rel, err := s.ImagePath(project, file)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.NotFoundError("image %q not found in project %q", file, project)
	}
	if err != nil {
		return nil, internalError(err, "open_image", project)
	}
	return f, nil
}
