package datastore

import (
	"fmt"
	"strings"

	"gorm.io/driver/mysql"

	"github.com/irdetect/autoannotate/internal/logger"
)

// OpenMySQL connects to a MySQL server and migrates the schema. The DSN uses
// the go-sql-driver form, e.g. user:pass@tcp(host:3306)/autoannotate.
func OpenMySQL(dsn string, opts ...Option) (*Store, error) {
	s := newStore("mysql", opts)

	if dsn == "" {
		return nil, dbError(fmt.Errorf("no MySQL DSN configured"), "open").Build()
	}
	dsn = withDSNDefaults(dsn)

	if err := s.open(mysql.Open(dsn)); err != nil {
		return nil, err
	}

	s.log.Info("Run history database opened", logger.String("backend", s.backend), logger.String("dsn", SanitizeDSN(dsn)))
	return s, nil
}

// withDSNDefaults adds the parameters the schema relies on: time.Time
// columns need parseTime and labels may hold any unicode.
func withDSNDefaults(dsn string) string {
	params := []string{"parseTime=true", "charset=utf8mb4"}
	for _, p := range params {
		key, _, _ := strings.Cut(p, "=")
		key += "="
		if strings.Contains(dsn, key) {
			continue
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + p
	}
	return dsn
}

// SanitizeDSN masks the password of a DSN for logging.
func SanitizeDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	creds := dsn[:at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return creds[:colon] + ":***" + dsn[at:]
	}
	return dsn
}
