// Package conf loads and validates the application settings.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// ServerSettings configures the HTTP surface.
type ServerSettings struct {
	Listen        string // address to bind, e.g. ":5000"
	MaxUploadSize string // echo body limit, e.g. "512M"
	StaticDir     string // directory of frontend pages
}

// StorageSettings configures the project store.
type StorageSettings struct {
	ProjectsDir  string // root of all project directories
	MinFreeSpace string // minimum free space before uploads are refused, e.g. "1G"
	MaxReadSize  string // largest project file read into memory, e.g. "64M"; empty disables
}

// ModelSettings locates detection model weights.
type ModelSettings struct {
	Dir     string // <dir>/<family>/<version>
	Catalog string // YAML file with family and version descriptions
}

// InferenceSettings tunes inference runs.
type InferenceSettings struct {
	Throttle     time.Duration // pause between images
	Timeout      time.Duration // whole-run bound, 0 disables
	Confidence   float32       // minimum detection score
	IOU          float32       // NMS overlap threshold
	InputSize    int           // square network input size
	RunRetention time.Duration // how long finished runs stay in the run table
	MaxRuns      int           // run table capacity
}

// DatabaseSettings configures run history persistence.
type DatabaseSettings struct {
	Enabled bool
	Driver  string // "sqlite" or "mysql"
	Path    string // SQLite file
	DSN     string // MySQL data source name
}

// MQTTSettings configures run notifications.
type MQTTSettings struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// NotificationSettings configures chat and push notifications for finished
// runs. URLs use shoutrrr service syntax, e.g. "ntfy://ntfy.sh/thermal".
type NotificationSettings struct {
	Enabled      bool
	URLs         []string
	Timeout      time.Duration
	FailuresOnly bool // only failed runs are announced
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// Settings contains all configuration options.
type Settings struct {
	Debug        bool
	Server       ServerSettings
	Storage      StorageSettings
	Models       ModelSettings
	Inference    InferenceSettings
	Database     DatabaseSettings
	MQTT         MQTTSettings
	Notification NotificationSettings
	Sentry       SentrySettings
	Logging      logger.LoggingConfig
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads .env, the configuration file and environment variables into the
// global viper instance. An empty configFile searches the default paths and
// writes the embedded default config when nothing is found.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	settings, err := load(viper.GetViper(), configFile)
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settings, nil
}

// load is the viper-instance-scoped core of Load.
func load(v *viper.Viper, configFile string) (*Settings, error) {
	if err := initViper(v, configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := configureEnvironmentVariables(v); err != nil {
		GetLogger().Warn("Environment variable configuration issues", logger.Error(err))
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// loadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.New(fmt.Errorf("error loading %s: %w", path, err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.New(fmt.Errorf("error reading config file %s: %w", configFile, err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	err = v.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(v, configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config into dir and reads it back.
func createDefaultConfig(v *viper.Viper, dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil { //nolint:gosec // config is not secret until the user edits it
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("Created default config file", logger.String("path", configPath))
	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

// DefaultConfig returns the embedded default configuration file contents.
func DefaultConfig() []byte {
	data, _ := fs.ReadFile(configFiles, "config.yaml")
	return data
}

// GetSettings returns the settings loaded by the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetLogger returns the conf package logger.
// It is fetched from the global logger each time because the central logger
// is installed only after the settings have been loaded.
func GetLogger() logger.Logger {
	return logger.Global().Module("conf")
}
