package output

import (
	"io"
	"log/slog"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

// NewLogger returns the CLI logger: a styled charm handler on terminals,
// plain slog text otherwise.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if !IsTerminal(w) {
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}

	handler := log.NewWithOptions(w, log.Options{
		Level:           log.Level(level),
		ReportTimestamp: verbose,
		TimeFormat:      time.TimeOnly,
	})
	handler.SetColorProfile(termenv.NewOutput(w).Profile)
	handler.SetStyles(logStyles())
	return slog.New(handler)
}

func logStyles() *log.Styles {
	styles := log.DefaultStyles()
	styles.Levels[log.WarnLevel] = lipgloss.NewStyle().SetString("WARN").Bold(true).Foreground(lipgloss.Color("11"))
	styles.Levels[log.ErrorLevel] = lipgloss.NewStyle().SetString("ERROR").Bold(true).Foreground(lipgloss.Color("9"))
	styles.Keys["error"] = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styles.Values["error"] = lipgloss.NewStyle().Bold(true)
	return styles
}
