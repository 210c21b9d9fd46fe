package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"

	"github.com/irdetect/autoannotate/internal/logger"
)

// Open opens (creating when needed) the SQLite database at path and migrates the schema.
func Open(path string, opts ...Option) (*Store, error) {
	s := newStore("sqlite", opts)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, dbError(err, "create_directory").Context("path", path).Build()
		}
	}

	if err := s.open(sqlite.Open(path)); err != nil {
		return nil, err
	}

	s.log.Info("Run history database opened", logger.String("backend", s.backend), logger.String("path", path))
	return s, nil
}
