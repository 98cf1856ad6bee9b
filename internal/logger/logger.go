package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

var (
	globalLogger *Logger
	once         sync.Once

	defaultConfig = Config{
		Level:      "info",
		Format:     FormatConsole,
		TimeFormat: time.RFC3339,
	}
)

// Logger wraps zerolog.Logger with a field-map oriented API.
type Logger struct {
	zerolog.Logger
	level zerolog.Level
}

// GetLevel returns the level the logger was configured with.
func (l *Logger) GetLevel() zerolog.Level {
	if l == nil {
		return zerolog.NoLevel
	}
	return l.level
}

// LogFormat defines the available log formats
type LogFormat string

const (
	FormatJSON    LogFormat = "json"
	FormatConsole LogFormat = "console"
)

func (f LogFormat) String() string {
	return string(f)
}

// ParseLogFormat parses a string into a LogFormat, defaulting to JSON.
func ParseLogFormat(format string) LogFormat {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console":
		return FormatConsole
	default:
		return FormatJSON
	}
}

// Config holds the configuration for the logger
type Config struct {
	// Level is the log level (debug, info, warn, error)
	Level string
	// Format is the log format (json, console)
	Format LogFormat
	// Output is the output writer (default: os.Stdout)
	Output io.Writer
	// TimeFormat is used by the console writer (default: time.RFC3339)
	TimeFormat string
}

// Get returns the global logger, initializing it with defaults on first use.
func Get() *Logger {
	once.Do(func() {
		if globalLogger == nil {
			globalLogger = build(defaultConfig)
		}
	})
	return globalLogger
}

// Setup initializes the global logger. Only the first call has an effect.
func Setup(cfg Config) {
	once.Do(func() {
		globalLogger = build(cfg)
	})
}

// ForceSetup replaces the global logger regardless of earlier Setup calls.
func ForceSetup(cfg Config) {
	once.Do(func() {})
	globalLogger = build(cfg)
	globalLogger.Debug("Logger re-initialized", map[string]interface{}{
		"format": cfg.Format.String(),
		"level":  globalLogger.level.String(),
	})
}

// ResetForTesting clears the global logger. Tests only.
func ResetForTesting() {
	globalLogger = nil
	once = sync.Once{}
}

// New builds a standalone logger without touching the global one.
func New(cfg Config) *Logger {
	return build(cfg)
}

func build(cfg Config) *Logger {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil && parsed != zerolog.NoLevel {
			level = parsed
		}
	}
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var zl zerolog.Logger
	switch cfg.Format {
	case FormatConsole:
		zl = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: cfg.TimeFormat})
	default:
		zl = zerolog.New(output)
	}

	return &Logger{
		Logger: zl.Level(level).With().Timestamp().Logger(),
		level:  level,
	}
}

type loggerKey struct{}

// NewContext returns a copy of ctx carrying logger. A nil logger leaves ctx unchanged.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored in ctx, or nil.
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return nil
	}
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return nil
}

// Ctx returns the logger stored in ctx, falling back to fallback and then the global logger.
func Ctx(ctx context.Context, fallback *Logger) *Logger {
	if l := FromContext(ctx); l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return Get()
}

// WithFields returns a child logger carrying the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	if l == nil {
		return Get().WithFields(fields)
	}
	if len(fields) == 0 {
		return l
	}
	ctx := l.Logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{Logger: ctx.Logger(), level: l.level}
}

// With is an alias for WithFields.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return l.WithFields(fields)
}

func (l *Logger) emit(ev func(zerolog.Logger) *zerolog.Event, msg string, fields []map[string]interface{}) {
	if l == nil {
		return
	}
	target := l
	if len(fields) > 0 && len(fields[0]) > 0 {
		target = l.WithFields(fields[0])
	}
	ev(target.Logger).Msg(msg)
}

// Info logs msg at info level with optional fields.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.emit(func(z zerolog.Logger) *zerolog.Event { return z.Info() }, msg, fields)
}

// Warn logs msg at warn level with optional fields.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.emit(func(z zerolog.Logger) *zerolog.Event { return z.Warn() }, msg, fields)
}

// Debug logs msg at debug level with optional fields.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.emit(func(z zerolog.Logger) *zerolog.Event { return z.Debug() }, msg, fields)
}

// Error logs msg at error level with optional fields.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.emit(func(z zerolog.Logger) *zerolog.Event { return z.Error() }, msg, fields)
}
