// Package dataset implements the on-disk project store: projects and their
// images, label lists, subsets, annotation documents and auto-annotate configs.
//
// Every project is a directory under the store's base directory:
//
//	<project>/
//	  images/
//	  labels.txt
//	  manual_annotations.json
//	  auto_annotate_config.json
//	  auto_annotate_results.json
//	  subset_N/subset_N.json
//	  subset_N/annotations.json
//
// All filesystem access goes through securefs, so names coming from HTTP
// requests cannot reach outside the base directory.
package dataset

import (
	"math/rand/v2"
	"path"
	"strings"
	"sync"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
	"github.com/irdetect/autoannotate/internal/securefs"
)

const (
	ImagesDir             = "images"
	LabelsFile            = "labels.txt"
	ManualAnnotationsFile = "manual_annotations.json"
	AutoConfigFile        = "auto_annotate_config.json"
	AutoResultsFile       = "auto_annotate_results.json"
	SubsetResultsFile     = "annotations.json"

	dirPerm  = 0o750
	filePerm = 0o640
)

// SpaceGuard rejects writes when the storage volume is running out of space.
type SpaceGuard interface {
	CheckFreeSpace() error
}

// Store is the project store rooted at a single directory.
type Store struct {
	fs    *securefs.SecureFS
	locks *keyedMutex
	guard SpaceGuard
	log   logger.Logger
	rngMu sync.Mutex
	rng   *rand.Rand
	exts  map[string]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithSpaceGuard installs a free-space check that runs before uploads.
func WithSpaceGuard(g SpaceGuard) Option {
	return func(s *Store) { s.guard = g }
}

// WithRand sets the random source used for random subsets.
func WithRand(r *rand.Rand) Option {
	return func(s *Store) { s.rng = r }
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore returns a Store operating on fsys.
func NewStore(fsys *securefs.SecureFS, opts ...Option) *Store {
	s := &Store{
		fs:    fsys,
		locks: newKeyedMutex(),
		exts: map[string]struct{}{
			".jpg": {}, ".jpeg": {}, ".png": {}, ".bmp": {},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("dataset")
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // sampling, not security
	}
	return s
}

// FS exposes the underlying sandbox for raw file serving.
func (s *Store) FS() *securefs.SecureFS {
	return s.fs
}

// IsImageFile reports whether name has one of the supported image extensions.
func (s *Store) IsImageFile(name string) bool {
	_, ok := s.exts[strings.ToLower(path.Ext(name))]
	return ok
}

// ValidateName checks that name can be used as a single directory or file
// name component.
func ValidateName(kind, name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.Newf("no %s name provided", kind).
			Component("dataset").
			Category(errors.CategoryValidation).
			Build()
	case name == "." || name == "..",
		strings.ContainsAny(name, `/\`),
		strings.ContainsRune(name, 0):
		return errors.Newf("invalid %s name %q", kind, name).
			Component("dataset").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// projectPath joins project-relative elements into a store-relative path.
func projectPath(project string, elems ...string) string {
	return path.Join(append([]string{project}, elems...)...)
}

// requireProject fails with NotFound when the project directory is absent.
func (s *Store) requireProject(project string) error {
	if err := ValidateName("project", project); err != nil {
		return err
	}
	isDir, err := s.fs.IsDir(project)
	if err != nil {
		return internalError(err, "stat_project", project)
	}
	if !isDir {
		return errors.NotFoundError("project %q not found", project)
	}
	return nil
}

// ProjectExists reports whether the project directory exists.
func (s *Store) ProjectExists(project string) bool {
	return s.requireProject(project) == nil
}

func badRequest(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("dataset").
		Category(errors.CategoryValidation).
		Build()
}

func internalError(err error, operation, project string) error {
	category := errors.CategoryOf(err)
	if category == errors.CategoryGeneric {
		category = errors.CategoryFileIO
	}
	return errors.New(err).
		Component("dataset").
		Category(category).
		Context("operation", operation).
		Context("project", project).
		Build()
}
