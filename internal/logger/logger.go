package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with the fields every PHA component attaches.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration. It is embedded in the service config
// file under the "log" key.
type Config struct {
	Level      string    `yaml:"level"`       // debug, info, warn, error
	Format     string    `yaml:"format"`      // json, console
	TimeFormat string    `yaml:"time_format"` // rfc3339, unix, unixms, unixmicro
	Service    string    `yaml:"service"`     // value of the "service" field; empty omits it
	Output     io.Writer `yaml:"-"`
}

// DefaultConfig returns production defaults: JSON on stdout at info level.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: "rfc3339",
		Service:    "pha",
		Output:     os.Stdout,
	}
}

// New creates a logger from cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = getTimeFormat(cfg.TimeFormat)

	var w io.Writer = out
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	zctx := zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp()
	if cfg.Service != "" {
		zctx = zctx.Str("service", cfg.Service)
	}
	return &Logger{zlog: zctx.Logger()}
}

// Nop returns a logger that discards everything. Used by tests and as the
// fallback when a component is constructed without one.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// WithContext adds logger to context
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return l.zlog.WithContext(ctx)
}

// FromContext retrieves the logger stored by WithContext. When none is
// present it returns a no-op logger.
func FromContext(ctx context.Context) *Logger {
	zlog := zerolog.Ctx(ctx)
	if zlog.GetLevel() == zerolog.Disabled {
		return Nop()
	}
	return &Logger{zlog: *zlog}
}

// With creates a child logger with additional fields
func (l *Logger) With() *Context {
	return &Context{ctx: l.zlog.With()}
}

// Context wraps zerolog.Context for field chaining
type Context struct {
	ctx zerolog.Context
}

func (c *Context) Str(key, val string) *Context {
	c.ctx = c.ctx.Str(key, val)
	return c
}

func (c *Context) Int(key string, val int) *Context {
	c.ctx = c.ctx.Int(key, val)
	return c
}

func (c *Context) Bool(key string, val bool) *Context {
	c.ctx = c.ctx.Bool(key, val)
	return c
}

func (c *Context) Err(err error) *Context {
	c.ctx = c.ctx.Err(err)
	return c
}

func (c *Context) Any(key string, val any) *Context {
	c.ctx = c.ctx.Interface(key, val)
	return c
}

func (c *Context) Logger() *Logger {
	return &Logger{zlog: c.ctx.Logger()}
}

// Logging methods
func (l *Logger) Debug(msg string) {
	l.zlog.Debug().Msg(msg)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.zlog.Debug().Msgf(format, args...)
}

func (l *Logger) Info(msg string) {
	l.zlog.Info().Msg(msg)
}

func (l *Logger) Infof(format string, args ...any) {
	l.zlog.Info().Msgf(format, args...)
}

func (l *Logger) Warn(msg string) {
	l.zlog.Warn().Msg(msg)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.zlog.Warn().Msgf(format, args...)
}

func (l *Logger) Error(msg string) {
	l.zlog.Error().Msg(msg)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.zlog.Error().Msgf(format, args...)
}

func (l *Logger) Fatal(msg string) {
	l.zlog.Fatal().Msg(msg)
}

// Structured logging with fields
func (l *Logger) DebugWith(msg string, fields map[string]any) {
	l.zlog.Debug().Fields(fields).Msg(msg)
}

func (l *Logger) InfoWith(msg string, fields map[string]any) {
	l.zlog.Info().Fields(fields).Msg(msg)
}

func (l *Logger) WarnWith(msg string, fields map[string]any) {
	l.zlog.Warn().Fields(fields).Msg(msg)
}

func (l *Logger) ErrorWith(msg string, err error, fields map[string]any) {
	l.zlog.Error().Err(err).Fields(fields).Msg(msg)
}

// Request returns an info-level event for access logging; the caller adds
// fields and calls Msg.
func (l *Logger) Request() *zerolog.Event {
	return l.zlog.Info()
}

// Helper functions
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ValidLevel reports whether level is one parseLevel understands.
func ValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error", "fatal":
		return true
	}
	return false
}

func getTimeFormat(format string) string {
	switch format {
	case "unix":
		return zerolog.TimeFormatUnix
	case "unixms":
		return zerolog.TimeFormatUnixMs
	case "unixmicro":
		return zerolog.TimeFormatUnixMicro
	default:
		return time.RFC3339
	}
}
