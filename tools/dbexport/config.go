package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const maxBatchSize = 10000

// Config holds the configuration for the export tool.
type Config struct {
	// Source database
	SQLitePath string

	// Target database, either a DSN or individual components
	MySQLDSN      string
	MySQLHost     string
	MySQLPort     int
	MySQLUser     string
	MySQLPass     string
	MySQLDatabase string

	BatchSize  int
	SkipVerify bool
	Verbose    bool

	// Config file path for fallback
	ConfigPath string
}

// Load validates the configuration, filling gaps from config.yaml.
func (c *Config) Load() error {
	if c.SQLitePath == "" || c.MySQLDSN == "" {
		if err := c.loadFromConfigFile(); err != nil && c.SQLitePath == "" {
			return fmt.Errorf("--sqlite-path is required (or provide config.yaml): %w", err)
		}
	}
	if c.SQLitePath == "" {
		return fmt.Errorf("--sqlite-path is required")
	}

	if _, err := os.Stat(c.SQLitePath); os.IsNotExist(err) {
		return fmt.Errorf("SQLite database not found: %s", c.SQLitePath)
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("batch-size must be at least 1")
	}
	if c.BatchSize > maxBatchSize {
		return fmt.Errorf("batch-size too large (max %d)", maxBatchSize)
	}
	return nil
}

// loadFromConfigFile reads the database section of the server config.
func (c *Config) loadFromConfigFile() error {
	v := viper.New()

	configPath := c.ConfigPath
	if configPath == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			p := filepath.Join(homeDir, ".config", "autoannotate", "config.yaml")
			if _, statErr := os.Stat(p); statErr == nil {
				configPath = p
			}
		}
		if configPath == "" {
			configPath = "config.yaml"
		}
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if c.SQLitePath == "" {
		if p := v.GetString("database.path"); p != "" {
			if !filepath.IsAbs(p) {
				p = filepath.Join(filepath.Dir(configPath), p)
			}
			c.SQLitePath = p
		}
	}

	if c.MySQLDSN == "" && strings.EqualFold(v.GetString("database.driver"), "mysql") {
		c.MySQLDSN = v.GetString("database.dsn")
	}
	return nil
}

// GetMySQLDSN returns MySQLDSN when set, otherwise a DSN built from the
// individual connection flags.
func (c *Config) GetMySQLDSN() string {
	if c.MySQLDSN != "" {
		return c.MySQLDSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.MySQLUser,
		c.MySQLPass,
		c.MySQLHost,
		c.MySQLPort,
		c.MySQLDatabase,
	)
}
