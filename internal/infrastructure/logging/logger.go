package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nerrad567/roomlink/internal/infrastructure/config"
)

// redacted replaces the value of any attribute whose key names a secret.
const redacted = "[redacted]"

// secretKeys are attribute keys that never reach the output, whatever
// group they are nested in.
var secretKeys = map[string]struct{}{
	"auth":       {},
	"auth_token": {},
	"token":      {},
	"password":   {},
}

// Logger is a slog.Logger stamped with service and version.
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of the node config.
func New(cfg config.LoggingConfig, version string) *Logger {
	return newWithWriter(cfg, version, sink(cfg))
}

func newWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h).With("service", "roomlink", "version", version)}
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(a.Key)]; ok && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, redacted)
	}
	return a
}

// sink picks stdout or stderr and, when logging.file.path is set, tees
// into a lumberjack-rotated file.
func sink(cfg config.LoggingConfig) io.Writer {
	var console io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		console = os.Stderr
	}
	if cfg.File.Path == "" {
		return console
	}
	return io.MultiWriter(console, &lumberjack.Logger{
		Filename:   cfg.File.Path,
		MaxSize:    cfg.File.MaxSize,
		MaxBackups: cfg.File.MaxBackups,
		MaxAge:     cfg.File.MaxAge,
		Compress:   cfg.File.Compress,
		LocalTime:  true,
	})
}

// parseLevel maps debug, warn/warning and error; anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// With returns a child logger carrying args on every record.
//
//	log := logger.With("component", "uplink")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the JSON stdout logger used before config is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return newWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)
}
