package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Category string

const (
	Application Category = "application"
	Discord     Category = "discord"
	Database    Category = "database"
	Commands    Category = "commands"
)

// Config controls where and how log records are written.
type Config struct {
	// Dir receives the rotated log file. Empty disables file output.
	Dir string
	// FileName defaults to "soerbot.log".
	FileName   string
	Level      slog.Level
	Format     string // "text" or "json"
	Console    io.Writer
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu           sync.RWMutex
	GlobalLogger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	rotator      *lumberjack.Logger
	consoleOnly  *slog.Logger
)

// SetupLogger replaces the global logger. Records go to the console and, when
// a directory is configured, to a size-rotated file.
func SetupLogger(cfg Config) error {
	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}
	out := console

	var rot *lumberjack.Logger
	if dir := strings.TrimSpace(cfg.Dir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		name := cfg.FileName
		if name == "" {
			name = "soerbot.log"
		}
		rot = &lumberjack.Logger{
			Filename:   filepath.Join(dir, name),
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		out = io.MultiWriter(console, rot)
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}
	h, err := newHandler(cfg.Format, out, opts)
	if err != nil {
		if rot != nil {
			_ = rot.Close()
		}
		return err
	}
	fallback, _ := newHandler(cfg.Format, console, opts)

	mu.Lock()
	prev := rotator
	GlobalLogger = slog.New(h)
	rotator = rot
	consoleOnly = slog.New(fallback)
	mu.Unlock()
	slog.SetDefault(GlobalLogger)
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// Sync closes the rotated file, if any, and swaps the global logger for a
// console-only one. Loggers derived before the call keep the file writer,
// which lumberjack reopens on the next write.
func Sync() error {
	mu.Lock()
	rot := rotator
	rotator = nil
	if rot != nil && consoleOnly != nil {
		GlobalLogger = consoleOnly
	}
	l := GlobalLogger
	mu.Unlock()
	if rot == nil {
		return nil
	}
	slog.SetDefault(l)
	return rot.Close()
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) (slog.Handler, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func For(c Category) *slog.Logger {
	mu.RLock()
	l := GlobalLogger
	mu.RUnlock()
	return l.With("category", string(c))
}

func ApplicationLogger() *slog.Logger { return For(Application) }
func DiscordLogger() *slog.Logger     { return For(Discord) }
func DatabaseLogger() *slog.Logger    { return For(Database) }
func CommandLogger() *slog.Logger     { return For(Commands) }

// Discard returns a logger that drops every record. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel accepts debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return l, nil
}
