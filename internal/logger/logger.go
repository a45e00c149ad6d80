// Package logger configures the structured logger shared by the service.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// Logger is the root logger. Components derive prefixed children via For.
var Logger = newLogger(os.Stderr, log.InfoLevel)

func newLogger(w io.Writer, level log.Level) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Level:           level,
	})
	l.SetStyles(levelStyles())
	return l
}

// Configure resets the root logger. An empty level falls back to
// FORTIS_LOG_LEVEL and then to info.
func Configure(level string, w io.Writer) {
	if level == "" {
		level = os.Getenv("FORTIS_LOG_LEVEL")
	}
	if w == nil {
		w = os.Stderr
	}
	Logger = newLogger(w, ParseLevel(level))
}

// ParseLevel maps a level name to a log.Level, defaulting to info.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// For returns a child logger whose lines carry the component name.
func For(component string) *log.Logger {
	return Logger.WithPrefix(component)
}

func levelStyles() *log.Styles {
	styles := log.DefaultStyles()
	badge := func(label, bg string) lipgloss.Style {
		return lipgloss.NewStyle().
			SetString(label).
			Padding(0, 1, 0, 1).
			Background(lipgloss.Color(bg)).
			Foreground(lipgloss.Color("15"))
	}
	styles.Levels[log.DebugLevel] = badge("DEBU", "240")
	styles.Levels[log.InfoLevel] = badge("INFO", "35")
	styles.Levels[log.WarnLevel] = badge("WARN", "214")
	styles.Levels[log.ErrorLevel] = badge("ERRO", "196")
	styles.Levels[log.FatalLevel] = badge("FATA", "88")
	styles.Keys["session"] = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
	styles.Keys["err"] = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	return styles
}
