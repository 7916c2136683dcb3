// Package output renders command results for terminals, pipes and scripts.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Mode selects how results are rendered.
type Mode string

// Output modes.
const (
	ModeAuto     Mode = "auto"
	ModeText     Mode = "text"
	ModeMarkdown Mode = "markdown"
	ModeJSON     Mode = "json"
)

// Styles are the lipgloss styles used in text mode.
type Styles struct {
	Header  lipgloss.Style
	Key     lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
}

// DefaultStyles returns the text mode styles.
func DefaultStyles() *Styles {
	return &Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Key:     lipgloss.NewStyle().Bold(true),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// Renderer writes command output.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
	isTTY  bool
	styles *Styles
}

// NewRenderer creates a renderer, detecting whether out is a terminal.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	return NewRendererWithTTY(out, errOut, IsTerminal(out), mode)
}

// NewRendererWithTTY creates a renderer with an explicit terminal state.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode Mode) *Renderer {
	if mode == "" {
		mode = ModeAuto
	}
	return &Renderer{out: out, errOut: errOut, mode: mode, isTTY: isTTY, styles: DefaultStyles()}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

// EffectiveMode resolves auto: text on a terminal, markdown otherwise.
func (r *Renderer) EffectiveMode() Mode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if r.isTTY {
		return ModeText
	}
	return ModeMarkdown
}

// Writer returns the result writer.
func (r *Renderer) Writer() io.Writer {
	return r.out
}

// Styles returns the text mode styles.
func (r *Renderer) Styles() *Styles {
	return r.styles
}

func (r *Renderer) styled() bool {
	return r.EffectiveMode() == ModeText && r.isTTY
}

func (r *Renderer) render(s lipgloss.Style, text string) string {
	if !r.styled() {
		return text
	}
	return s.Render(text)
}

// Println writes a line of results.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Header writes a heading.
func (r *Renderer) Header(level int, text string) {
	if r.EffectiveMode() == ModeMarkdown {
		r.Println(FormatHeader(level, text))
		return
	}
	r.Println(r.render(r.styles.Header, text))
}

// KeyValue writes a labelled value.
func (r *Renderer) KeyValue(key, value string) {
	if r.EffectiveMode() == ModeMarkdown {
		r.Println(FormatKeyValue(key, value))
		return
	}
	r.Println(r.render(r.styles.Key, key+":") + " " + value)
}

// Success writes a success message.
func (r *Renderer) Success(msg string) {
	r.Println(r.render(r.styles.Success, "✓ "+msg))
}

// Warning writes a warning to the error stream.
func (r *Renderer) Warning(msg string) {
	_, _ = fmt.Fprintln(r.errOut, r.render(r.styles.Warning, "! "+msg))
}

// Muted writes de-emphasized text.
func (r *Renderer) Muted(msg string) {
	r.Println(r.render(r.styles.Muted, msg))
}

// FormatHeader returns a markdown heading.
func FormatHeader(level int, text string) string {
	return strings.Repeat("#", max(level, 1)) + " " + text
}

// FormatKeyValue returns a markdown list entry.
func FormatKeyValue(key, value string) string {
	return "- **" + key + "**: " + value
}
