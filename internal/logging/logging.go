// Package logging installs the slog handlers used by the CLI: a tint console
// handler and an optional plain text handler writing to a log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/openmined/syftxfer/internal/utils"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

type Options struct {
	Level slog.Level

	// Console defaults to os.Stderr
	Console io.Writer

	// NoColor forces plain console output. Color is also disabled when Console is not a terminal.
	NoColor bool

	// File is the log file path. Empty disables file logging.
	File string
}

// ParseLevel accepts debug, info, warn and error in any case
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// New builds a logger from opts. The returned closer flushes and closes the log file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	consoleHandler := tint.NewHandler(console, &tint.Options{
		Level:      opts.Level,
		TimeFormat: consoleTimeFormat,
		NoColor:    opts.NoColor || !isTerminal(console),
	})

	if opts.File == "" {
		return slog.New(consoleHandler), nopCloser{}, nil
	}

	if err := utils.EnsureParent(opts.File); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	interceptor := NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(interceptor, &slog.HandlerOptions{
		// file logs keep debug records regardless of the console level
		Level: min(opts.Level, slog.LevelDebug),
		// the interceptor stamps the time
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	logger := slog.New(NewMultiHandler(consoleHandler, fileHandler))
	return logger, &fileCloser{interceptor: interceptor, file: file}, nil
}

// Setup is New followed by slog.SetDefault
func Setup(opts Options) (io.Closer, error) {
	logger, closer, err := New(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type fileCloser struct {
	interceptor *LogInterceptor
	file        *os.File
}

func (c *fileCloser) Close() error {
	flushErr := c.interceptor.Close()
	if err := c.file.Close(); err != nil {
		return err
	}
	return flushErr
}
