package logger

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "time/tzdata"
)

// slog has no trace level; it sits one step below debug.
const traceLevelValue = slog.LevelDebug - 4

var (
	global   *CentralLogger
	globalMu sync.Mutex
)

// SetGlobal installs cl as the process-wide logger returned by Global.
func SetGlobal(cl *CentralLogger) {
	globalMu.Lock()
	global = cl
	globalMu.Unlock()
}

// Global returns the logger installed with SetGlobal, or an info-level
// console logger when nothing has been installed yet (tests, early startup).
func Global() *CentralLogger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		cfg := &LoggingConfig{Timezone: "Local"}
		applyConfigDefaults(cfg)
		global = &CentralLogger{
			config:  cfg,
			tz:      time.Local,
			levels:  map[string]slog.Level{},
			handler: newTextHandler(os.Stdout, slog.LevelInfo, time.Local),
		}
	}
	return global
}

// CentralLogger owns the output handlers and hands out module loggers.
type CentralLogger struct {
	mu      sync.RWMutex
	config  *LoggingConfig
	tz      *time.Location
	handler slog.Handler
	file    *fileSink
	levels  map[string]slog.Level
}

// NewCentralLogger builds the console and file outputs described by cfg.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz, err := loadTimezone(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	cl := &CentralLogger{config: cfg, tz: tz, levels: make(map[string]slog.Level, len(cfg.ModuleLevels))}
	for module, level := range cfg.ModuleLevels {
		cl.levels[module] = parseLogLevel(level)
	}
	if err := cl.buildHandler(); err != nil {
		return nil, fmt.Errorf("failed to create base handler: %w", err)
	}
	return cl, nil
}

func loadTimezone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", name, err)
	}
	return tz, nil
}

// buildHandler wires text console output and JSON file output. With both
// disabled it still logs to stdout at the default level.
func (cl *CentralLogger) buildHandler() error {
	var outputs []slog.Handler

	if c := cl.config.Console; c.Enabled {
		outputs = append(outputs, newTextHandler(os.Stdout, parseLogLevel(c.Level), cl.tz))
	}
	if f := cl.config.FileOutput; f.Enabled {
		sink, err := openFileSink(f.Path)
		if err != nil {
			return err
		}
		cl.file = sink
		outputs = append(outputs, slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: parseLogLevel(f.Level)}))
	}

	switch len(outputs) {
	case 0:
		cl.handler = newTextHandler(os.Stdout, parseLogLevel(cl.config.DefaultLevel), cl.tz)
	case 1:
		cl.handler = outputs[0]
	default:
		cl.handler = newMultiWriterHandler(outputs...)
	}
	return nil
}

// Module returns a logger tagged with module=name. Its level comes from
// module_levels, falling back to the default level.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	level, ok := cl.levels[name]
	if !ok {
		level = parseLogLevel(cl.config.DefaultLevel)
	}
	return &moduleLogger{module: name, logger: slog.New(cl.handler), level: level}
}

// Flush pushes buffered file output to the OS.
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if cl.file == nil {
		return nil
	}
	return cl.file.Flush()
}

// Close flushes and closes the log file.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.file == nil {
		return nil
	}
	err := cl.file.Close()
	cl.file = nil
	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch LogLevel(level) {
	case LogLevelTrace:
		return traceLevelValue
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
