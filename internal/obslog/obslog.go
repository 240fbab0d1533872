// Package obslog builds the slog.Handler used throughout the mirrored
// storage core, replacing the original's preprocessor DEBUG_INFO macros with
// a structured logging channel in its place.
package obslog

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// NewHandler returns a colorized human-readable handler, or a JSON handler
// when json is true.
func NewHandler(w io.Writer, level slog.Level, json bool) slog.Handler {
	if json {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})
}

// OrDefault returns logger if non-nil, otherwise slog.Default(). The
// components that accept an injected logger fall back to slog.Default() the
// same way, since logging is an external collaborator every caller configures.
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}

	return slog.Default()
}
