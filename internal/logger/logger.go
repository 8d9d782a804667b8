// Package logger builds the process-wide zerolog.Logger.
package logger

import (
	"io"

	"github.com/rs/zerolog"
)

// New builds a timestamped logger writing to w. format "text" selects the
// human-readable console writer; anything else emits JSON. An unknown level
// falls back to info. Every line passes through a RedactWriter.
func New(level, format string, maskAddresses bool, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := NewRedactWriter(w, maskAddresses)
	if format == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = out
		return zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
