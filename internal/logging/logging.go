package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects where logs go and how verbose they are. An empty Level
// falls back to LOG_LEVEL, then to errors only.
type Options struct {
	Level string
	File  string
}

// ParseLevel maps the names accepted by LOG_LEVEL and --log-level to a
// slog level.
func ParseLevel(l string) (slog.Level, bool) {
	switch strings.ToLower(l) {
	case "dev", "development", "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "production", "prod":
		return slog.LevelError, true
	}
	return slog.LevelError, false
}

// Init installs the default logger. The returned close function flushes
// and closes the log file, if any. While the room UI owns the terminal,
// logs should go to a file.
func Init(opts Options) (func() error, error) {
	level := slog.LevelError // default: production only shows errors

	name := opts.Level
	if name == "" {
		name = os.Getenv("LOG_LEVEL")
	}
	if name != "" {
		l, ok := ParseLevel(name)
		if !ok {
			return nil, fmt.Errorf("unknown log level %q", name)
		}
		level = l
	}

	var (
		out     io.Writer = os.Stderr
		closeFn           = func() error { return nil }
	)
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out, closeFn = f, f.Close
	}

	slog.SetDefault(New(out, level))
	return closeFn, nil
}

func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		}),
	)
}
