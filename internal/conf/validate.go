package conf

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/irdetect/autoannotate/internal/errors"
)

// ValidationError collects every problem found in a settings struct.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

// ValidateSettings checks the loaded settings and reports all problems at once.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateServerSettings(&settings.Server); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateStorageSettings(&settings.Storage); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateInferenceSettings(&settings.Inference); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateMQTTSettings(&settings.MQTT); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateNotificationSettings(&settings.Notification); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry is enabled but no DSN is configured")
	}
	if err := validateDatabaseSettings(&settings.Database); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func validateServerSettings(s *ServerSettings) error {
	if err := validateListenAddress(s.Listen); err != nil {
		return err
	}
	if _, err := ParseSize(s.MaxUploadSize); err != nil {
		return fmt.Errorf("invalid server.maxuploadsize: %w", err)
	}
	return nil
}

func validateStorageSettings(s *StorageSettings) error {
	if strings.TrimSpace(s.ProjectsDir) == "" {
		return fmt.Errorf("storage.projectsdir must not be empty")
	}
	if s.MinFreeSpace != "" {
		if _, err := ParseSize(s.MinFreeSpace); err != nil {
			return fmt.Errorf("invalid storage.minfreespace: %w", err)
		}
	}
	if s.MaxReadSize != "" {
		if _, err := ParseSize(s.MaxReadSize); err != nil {
			return fmt.Errorf("invalid storage.maxreadsize: %w", err)
		}
	}
	return nil
}

func validateInferenceSettings(s *InferenceSettings) error {
	switch {
	case s.InputSize <= 0:
		return fmt.Errorf("inference.inputsize must be positive, got %d", s.InputSize)
	case s.Confidence <= 0 || s.Confidence > 1:
		return fmt.Errorf("inference.confidence must be in (0, 1], got %g", s.Confidence)
	case s.IOU <= 0 || s.IOU > 1:
		return fmt.Errorf("inference.iou must be in (0, 1], got %g", s.IOU)
	case s.Throttle < 0:
		return fmt.Errorf("inference.throttle must not be negative, got %s", s.Throttle)
	case s.Timeout < 0:
		return fmt.Errorf("inference.timeout must not be negative, got %s", s.Timeout)
	case s.MaxRuns <= 0:
		return fmt.Errorf("inference.maxruns must be positive, got %d", s.MaxRuns)
	}
	return nil
}

func validateMQTTSettings(s *MQTTSettings) error {
	if !s.Enabled {
		return nil
	}
	if s.Broker == "" {
		return fmt.Errorf("mqtt is enabled but no broker is configured")
	}
	if s.Topic == "" {
		return fmt.Errorf("mqtt is enabled but no topic is configured")
	}
	return nil
}

func validateNotificationSettings(s *NotificationSettings) error {
	if !s.Enabled {
		return nil
	}
	if !slices.ContainsFunc(s.URLs, func(u string) bool { return strings.TrimSpace(u) != "" }) {
		return fmt.Errorf("notifications are enabled but no URLs are configured")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("notification.timeout must not be negative, got %s", s.Timeout)
	}
	return nil
}

func validateListenAddress(addr string) error {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if port == "" {
		return fmt.Errorf("invalid listen address %q: missing port", addr)
	}
	if host != "" && net.ParseIP(host) == nil && strings.ContainsAny(host, " /") {
		return fmt.Errorf("invalid listen host %q", host)
	}
	return nil
}

func validateDatabaseSettings(s *DatabaseSettings) error {
	if !s.Enabled {
		return nil
	}
	switch s.Driver {
	case "", "sqlite":
		if s.Path == "" {
			return fmt.Errorf("database is enabled but no path is configured")
		}
	case "mysql":
		if s.DSN == "" {
			return fmt.Errorf("database driver is mysql but no DSN is configured")
		}
	default:
		return fmt.Errorf("unknown database driver %q, expected sqlite or mysql", s.Driver)
	}
	return nil
}
