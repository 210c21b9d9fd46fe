package dataset

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
)

// AutoConfig selects the model and subset used by an inference run.
type AutoConfig struct {
	ModelFamily  string `json:"model_family"`
	ModelVersion string `json:"model_version"`
	Subset       string `json:"subset"`
}

// Complete reports whether every field is set.
func (c AutoConfig) Complete() bool {
	return strings.TrimSpace(c.ModelFamily) != "" &&
		strings.TrimSpace(c.ModelVersion) != "" &&
		strings.TrimSpace(c.Subset) != ""
}

// SaveAutoConfig writes auto_annotate_config.json.
func (s *Store) SaveAutoConfig(project string, cfg AutoConfig) error {
	if !cfg.Complete() {
		return badRequest("model_family, model_version and subset are required")
	}
	if err := s.requireProject(project); err != nil {
		return err
	}

	data, err := marshalPretty(cfg)
	if err != nil {
		return internalError(err, "save_auto_config", project)
	}

	unlock := s.locks.Lock(project)
	defer unlock()

	if err := s.fs.WriteFileAtomic(projectPath(project, AutoConfigFile), data, filePerm); err != nil {
		return internalError(err, "save_auto_config", project)
	}

	s.log.Info("Auto-annotate config saved",
		logger.String("project", project),
		logger.String("model_family", cfg.ModelFamily),
		logger.String("model_version", cfg.ModelVersion),
		logger.String("subset", cfg.Subset))
	return nil
}

// LoadAutoConfig reads auto_annotate_config.json. A missing file or an
// incomplete config is NotFound.
func (s *Store) LoadAutoConfig(project string) (AutoConfig, error) {
	var cfg AutoConfig
	if err := s.requireProject(project); err != nil {
		return cfg, err
	}

	data, err := s.fs.ReadFile(projectPath(project, AutoConfigFile))
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, errors.NotFoundError("auto-annotate config not found for project %q", project)
	}
	if err != nil {
		return cfg, internalError(err, "load_auto_config", project)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.New(fmt.Errorf("auto-annotate config is not valid JSON: %w", err)).
			Component("dataset").
			Category(errors.CategoryFileParsing).
			Context("project", project).
			Build()
	}
	if !cfg.Complete() {
		return cfg, errors.NotFoundError("auto-annotate config for project %q is incomplete", project)
	}
	return cfg, nil
}
