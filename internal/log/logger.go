// Package log owns the process-wide slog logger. Components take a child
// logger from WithComponent at construction time.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	level   = new(slog.LevelVar)
	current atomic.Pointer[slog.Logger]
)

// Setup writes JSON records at or above level to stdout.
func Setup(lvl string) {
	SetupWriter(os.Stdout, lvl, "json")
}

// SetupWriter replaces the process logger. format is "json" or "text"; any
// other value selects JSON. Loggers handed out earlier keep their old sink
// but follow level changes.
func SetupWriter(w io.Writer, lvl, format string) {
	level.Set(ParseLevel(lvl))
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		h = slog.NewTextHandler(w, opts)
	}

	l := slog.New(h)
	current.Store(l)
	slog.SetDefault(l)
}

// SetLevel changes the minimum level of every logger from this package.
func SetLevel(lvl string) {
	level.Set(ParseLevel(lvl))
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean INFO.
func ParseLevel(lvl string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(lvl)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, setting up INFO JSON on stdout on first
// use.
func Get() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	Setup("INFO")
	return current.Load()
}

// WithComponent returns a logger tagged with component=name.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}
