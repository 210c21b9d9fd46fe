package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/irdetect/autoannotate/internal/errors"
)

const appDirName = "autoannotate"

// GetDefaultConfigPaths returns the directories searched for config.yaml.
// If one of them already holds a config file, only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	configPaths := []string{
		".",
		filepath.Join(homeDir, ".config", appDirName),
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}

// ParseSize converts sizes such as "512M", "1G", "100KB" or "2048" to bytes.
// Units are binary multiples, matching echo's body limit parser.
func ParseSize(size string) (uint64, error) {
	s := strings.ToUpper(strings.TrimSpace(size))
	if s == "" {
		return 0, errors.Newf("empty size").
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	s = strings.TrimSuffix(s, "B")
	multiplier := uint64(1)
	if s != "" {
		switch s[len(s)-1] {
		case 'K':
			multiplier = 1 << 10
		case 'M':
			multiplier = 1 << 20
		case 'G':
			multiplier = 1 << 30
		case 'T':
			multiplier = 1 << 40
		}
		if multiplier > 1 {
			s = s[:len(s)-1]
		}
	}

	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.New(fmt.Errorf("invalid size %q: %w", size, err)).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("input", size).
			Build()
	}
	return n * multiplier, nil
}
