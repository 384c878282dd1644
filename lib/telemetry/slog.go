package telemetry

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

type SlogConfig struct {
	Verbose bool
	// "text" or "json", defaults to text
	Format string
	// when set, logs rotate through this file instead of stderr
	File       string
	MaxSizeMb  int
	MaxBackups int
	MaxAgeDays int
}

// shorthand used by CLIs and tests
func InitSlog(verbose bool) {
	InitSlogConfig(SlogConfig{Verbose: verbose})
}

func InitSlogConfig(cfg SlogConfig) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMb,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
}
