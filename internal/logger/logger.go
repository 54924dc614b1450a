package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const (
	colorRed     = 31
	colorGreen   = 32
	colorYellow  = 33
	colorMagenta = 35

	colorBold = 1
)

func colorize(s interface{}, c int) string {
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}

// Options controls where and how the plugin logs.
type Options struct {
	// Environment selects console ("development", "dev", "") or JSON output.
	Environment string
	// Level is a zerolog level name; empty means info.
	Level string
	// Out defaults to stderr.
	Out io.Writer
}

// New creates a logger based on the ENV environment variable
func New() zerolog.Logger {
	return NewWithOptions(Options{Environment: os.Getenv("ENV")})
}

// NewWithOptions builds a console or JSON logger depending on the environment.
func NewWithOptions(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var log zerolog.Logger
	switch opts.Environment {
	case "development", "dev", "":
		log = newDevelopment(out)
	default:
		log = newProduction(out)
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return log.Level(level)
}

// OpenFile opens (or creates) an append-only log file. The Stream Deck host
// swallows plugin stdout/stderr, so the plugin binary logs here instead.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// NewFile logs to the file at path, or to stderr when it cannot be opened.
// The returned close func is never nil.
func NewFile(path string, opts Options) (zerolog.Logger, func() error) {
	if path == "" {
		return NewWithOptions(opts), func() error { return nil }
	}
	f, err := OpenFile(path)
	if err != nil {
		log := NewWithOptions(opts)
		log.Warn().Err(err).Str("path", path).Msg("⚠️  Could not open log file, logging to stderr")
		return log, func() error { return nil }
	}
	opts.Out = f
	return NewWithOptions(opts), f.Close
}

func newDevelopment(out io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    out != os.Stderr && out != os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
		FormatLevel: func(i interface{}) string {
			ll, ok := i.(string)
			if !ok {
				ll = fmt.Sprintf("%v", i)
			}
			switch ll {
			case "trace":
				return colorize("TRC", colorMagenta)
			case "debug":
				return colorize("DBG", colorYellow)
			case "info":
				return colorize("INF", colorGreen)
			case "warn":
				return colorize("WRN", colorRed)
			case "error", "fatal", "panic":
				return colorize(strings.ToUpper(ll)[0:3], colorRed)
			case "":
				return "???"
			default:
				return colorize(strings.ToUpper(ll), colorBold)
			}
		},
	}
	return zerolog.New(output).With().Timestamp().Logger()
}

func newProduction(out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(out).With().Timestamp().Logger()
}
