// Package catalog enumerates the detection models installed under the models
// directory, laid out as <dir>/<family>/<version>.
package catalog

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
)

// sidecar extensions that live next to weights but are not models themselves
var sidecarExts = map[string]struct{}{
	".names": {},
	".yaml":  {},
	".yml":   {},
	".txt":   {},
}

// FamilyDescription is one entry of the catalog descriptions file.
type FamilyDescription struct {
	Description string            `yaml:"description" json:"description"`
	Versions    map[string]string `yaml:"versions" json:"versions"`
}

// Catalog reads model families and versions from disk on every call, so
// models dropped into the directory show up without a restart.
type Catalog struct {
	dir         string
	catalogFile string
	log         logger.Logger
}

// New returns a catalog over dir. catalogFile is the optional YAML
// descriptions file.
func New(dir, catalogFile string, log logger.Logger) *Catalog {
	if log == nil {
		log = logger.Global().Module("catalog")
	}
	return &Catalog{dir: dir, catalogFile: catalogFile, log: log}
}

// Dir returns the models directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Families returns the subdirectories of the models directory, sorted. A
// missing models directory yields an empty list.
func (c *Catalog) Families() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, c.ioError(err, "list_families")
	}

	families := []string{}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			families = append(families, e.Name())
		}
	}
	slices.Sort(families)
	return families, nil
}

// Versions returns the model files of a family, sorted.
func (c *Catalog) Versions(family string) ([]string, error) {
	if err := validateComponent("family", family); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(c.dir, family))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.NotFoundError("model family %q not found", family)
	}
	if err != nil {
		return nil, c.ioError(err, "list_versions")
	}

	versions := []string{}
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		if _, skip := sidecarExts[strings.ToLower(filepath.Ext(name))]; skip {
			continue
		}
		versions = append(versions, name)
	}
	slices.Sort(versions)
	return versions, nil
}

// List maps every family to its versions.
func (c *Catalog) List() (map[string][]string, error) {
	families, err := c.Families()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(families))
	for _, f := range families {
		versions, err := c.Versions(f)
		if err != nil {
			return nil, err
		}
		out[f] = versions
	}
	return out, nil
}

// Descriptions parses the catalog descriptions file. A missing file yields
// an empty map.
func (c *Catalog) Descriptions() (map[string]FamilyDescription, error) {
	out := map[string]FamilyDescription{}
	if c.catalogFile == "" {
		return out, nil
	}

	data, err := os.ReadFile(c.catalogFile)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, c.ioError(err, "read_catalog")
	}

	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryFileParsing).
			Context("file", c.catalogFile).
			Build()
	}
	if out == nil {
		out = map[string]FamilyDescription{}
	}
	return out, nil
}

// ModelPath returns the absolute path of a model file.
func (c *Catalog) ModelPath(family, version string) (string, error) {
	if err := validateComponent("family", family); err != nil {
		return "", err
	}
	if err := validateComponent("version", version); err != nil {
		return "", err
	}

	p := filepath.Join(c.dir, family, version)
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return "", errors.NotFoundError("model %s/%s not found", family, version)
	}
	if err != nil {
		return "", c.ioError(err, "stat_model")
	}
	return filepath.Abs(p)
}

func (c *Catalog) ioError(err error, op string) error {
	c.log.Error("Model catalog access failed", logger.String("operation", op), logger.Error(err))
	return errors.New(err).
		Component("catalog").
		Category(errors.CategoryFileIO).
		Context("operation", op).
		Build()
}

func validateComponent(kind, name string) error {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.Newf("invalid model %s %q", kind, name).
			Component("catalog").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}
