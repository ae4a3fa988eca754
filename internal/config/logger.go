package config

import (
	"io"
	"log/slog"

	"github.com/pkg/errors"
)

// level разбирает уровень логирования.
func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, errors.Wrapf(ErrInvalidConfig, "log level %q (available: debug, info, warn, error)", l.Level)
	}

	return lvl, nil
}

// NewLogger создаёт логгер с заданными форматом и уровнем.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch l.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "log format %q (available: text, json)", l.Format)
	}
}
