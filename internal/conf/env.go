package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "AUTOANNOTATE_DEBUG", validateEnvBool},
		{"logging.default_level", "AUTOANNOTATE_LOG_LEVEL", validateEnvLogLevel},

		{"server.listen", "AUTOANNOTATE_LISTEN", validateEnvListen},
		{"server.maxuploadsize", "AUTOANNOTATE_MAX_UPLOAD_SIZE", validateEnvSize},
		{"server.staticdir", "AUTOANNOTATE_STATIC_DIR", nil},

		{"storage.projectsdir", "AUTOANNOTATE_PROJECTS_DIR", nil},
		{"storage.minfreespace", "AUTOANNOTATE_MIN_FREE_SPACE", validateEnvSize},
		{"storage.maxreadsize", "AUTOANNOTATE_MAX_READ_SIZE", validateEnvSize},

		{"models.dir", "AUTOANNOTATE_MODELS_DIR", nil},
		{"models.catalog", "AUTOANNOTATE_MODELS_CATALOG", nil},

		{"inference.throttle", "AUTOANNOTATE_INFERENCE_THROTTLE", validateEnvDuration},
		{"inference.timeout", "AUTOANNOTATE_INFERENCE_TIMEOUT", validateEnvDuration},
		{"inference.confidence", "AUTOANNOTATE_INFERENCE_CONFIDENCE", validateEnvUnitInterval},

		{"database.enabled", "AUTOANNOTATE_DATABASE_ENABLED", validateEnvBool},
		{"database.driver", "AUTOANNOTATE_DATABASE_DRIVER", nil},
		{"database.path", "AUTOANNOTATE_DATABASE_PATH", nil},
		{"database.dsn", "AUTOANNOTATE_DATABASE_DSN", nil},

		{"mqtt.enabled", "AUTOANNOTATE_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "AUTOANNOTATE_MQTT_BROKER", nil},
		{"mqtt.username", "AUTOANNOTATE_MQTT_USERNAME", nil},
		{"mqtt.password", "AUTOANNOTATE_MQTT_PASSWORD", nil},

		{"notification.enabled", "AUTOANNOTATE_NOTIFICATION_ENABLED", validateEnvBool},
		{"notification.urls", "AUTOANNOTATE_NOTIFICATION_URLS", nil},
		{"notification.timeout", "AUTOANNOTATE_NOTIFICATION_TIMEOUT", validateEnvDuration},

		{"sentry.enabled", "AUTOANNOTATE_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "AUTOANNOTATE_SENTRY_DSN", nil},
	}
}

// bindEnvVars binds every known variable and validates the ones that are set.
// Invalid values are reported but still bound; ValidateSettings has the final word.
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars(v)
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value: %s", value)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("invalid log level: %s", value)
	}
}

func validateEnvListen(value string) error {
	return validateListenAddress(value)
}

func validateEnvSize(value string) error {
	_, err := ParseSize(value)
	return err
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("duration must not be negative, got %s", d)
	}
	return nil
}

func validateEnvUnitInterval(value string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if f <= 0 || f > 1 {
		return fmt.Errorf("value must be in (0, 1], got %g", f)
	}
	return nil
}
