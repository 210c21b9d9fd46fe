package api

import (
	"os"
	"path"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/irdetect/autoannotate/internal/logger"
	"github.com/irdetect/autoannotate/internal/securefs"
)

// StaticFileServer serves the frontend pages from a directory on disk.
type StaticFileServer struct {
	fs  *securefs.SecureFS
	log logger.Logger
}

// NewStaticFileServer opens dir. It returns nil, nil when dir is empty or
// does not exist so the server can run without pages.
func NewStaticFileServer(dir string, log logger.Logger) (*StaticFileServer, error) {
	if dir == "" {
		return nil, nil
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		log.Warn("Static directory not found, pages disabled", logger.String("dir", dir))
		return nil, nil
	}
	sfs, err := securefs.New(dir)
	if err != nil {
		return nil, err
	}
	return &StaticFileServer{fs: sfs, log: log}, nil
}

// RegisterRoutes serves / as index.html and every other unmatched GET path
// as a file.
func (s *StaticFileServer) RegisterRoutes(e *echo.Echo) {
	e.GET("/", s.handle)
	e.GET("/*", s.handle)
}

func (s *StaticFileServer) handle(c echo.Context) error {
	rel := strings.TrimPrefix(path.Clean("/"+c.Param("*")), "/")
	if rel == "" {
		rel = "index.html"
	}
	return s.fs.ServeFile(c, rel)
}

// Close releases the directory handle.
func (s *StaticFileServer) Close() error {
	if s == nil {
		return nil
	}
	return s.fs.Close()
}
