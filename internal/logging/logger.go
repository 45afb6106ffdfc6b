package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the handler and destination for New.
type Options struct {
	Level  string
	Format string // "json" or "text"
	File   string // optional rotating log file, written in addition to stdout
}

// New creates a slog logger configured at the provided level. JSON output is the
// default; "text" selects a colored console handler. If the level string is
// invalid it defaults to info.
func New(opts Options) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(opts.Level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}

	var console slog.Handler
	if opts.Format == "text" {
		console = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		})
	} else {
		console = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}

	if opts.File == "" {
		return slog.New(console)
	}

	rotating := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	file := slog.NewJSONHandler(rotating, &slog.HandlerOptions{Level: lvl})
	return slog.New(fanout{console, file})
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}
