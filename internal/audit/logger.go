package audit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/encodeous/tint"
	"github.com/mtzanidakis/fleetctl/internal/config"
	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel maps a config level name to a slog level. Unknown names fall
// back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger: a tint console handler fanned out to
// the full audit file and the failure-only file. The returned close func
// releases the files.
func NewLogger(cfg config.LogConfig, console io.Writer, prefix string) (*slog.Logger, func() error, error) {
	level := ParseLevel(cfg.Level)

	handlers := make([]slog.Handler, 0, 3)
	handlers = append(handlers,
		tint.NewHandler(console, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: prefix,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{}
				}
				return attr
			},
		}))

	var files []*os.File
	closeAll := func() error {
		var errs []error
		for _, f := range files {
			errs = append(errs, f.Close())
		}
		return errors.Join(errs...)
	}

	open := func(path string) (*os.File, error) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		files = append(files, f)
		return f, nil
	}

	if cfg.Path != "" {
		f, err := open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{
			Level:       slog.LevelDebug,
			ReplaceAttr: replaceLevel,
		}))
	}
	if cfg.FailurePath != "" {
		f, err := open(cfg.FailurePath)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{
			Level:       slog.LevelError,
			ReplaceAttr: replaceLevel,
		}))
	}

	return slog.New(slogmulti.Fanout(handlers...)), closeAll, nil
}

func replaceLevel(groups []string, attr slog.Attr) slog.Attr {
	if attr.Key != slog.LevelKey || len(groups) != 0 {
		return attr
	}
	if lvl, ok := attr.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
		return slog.String(slog.LevelKey, "CRITICAL")
	}
	return attr
}
