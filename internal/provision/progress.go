package provision

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Progress prints one padded line per finished step with a status marker.
// Colours are only used when w is a terminal.
type Progress struct {
	w    io.Writer
	ok   lipgloss.Style
	fail lipgloss.Style
	warn lipgloss.Style
	skip lipgloss.Style
	bold lipgloss.Style
}

// NewProgress creates a progress printer writing to w.
func NewProgress(w io.Writer) *Progress {
	if w == nil {
		w = io.Discard
	}
	r := lipgloss.NewRenderer(w)
	color := isTerminal(w)
	fg := func(c string) lipgloss.Style {
		if !color {
			return r.NewStyle()
		}
		return r.NewStyle().Foreground(lipgloss.Color(c))
	}
	return &Progress{
		w:    w,
		ok:   fg("2"),
		fail: fg("1"),
		warn: fg("3"),
		skip: fg("8"),
		bold: r.NewStyle().Bold(color),
	}
}

// isTerminal reports whether w is a file attached to a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}

func (p *Progress) line(msg string, style lipgloss.Style, marker string) {
	fmt.Fprintf(p.w, "%-70s%s\n", msg, style.Render(marker))
}

// Success prints msg with [OK].
func (p *Progress) Success(msg string) { p.line(msg, p.ok, "[OK]") }

// Fail prints msg with [FAIL].
func (p *Progress) Fail(msg string) { p.line(msg, p.fail, "[FAIL]") }

// Warn prints msg with [WARN].
func (p *Progress) Warn(msg string) { p.line(msg, p.warn, "[WARN]") }

// Skip prints msg with [SKIP].
func (p *Progress) Skip(msg string) { p.line(msg, p.skip, "[SKIP]") }

// Banner prints a framed title.
func (p *Progress) Banner(title string) {
	rule := "==========================================="
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, rule)
	fmt.Fprintf(p.w, "  %s\n", p.bold.Render(title))
	fmt.Fprintln(p.w, rule)
	fmt.Fprintln(p.w)
}

// Field prints an aligned "label: value" summary line.
func (p *Progress) Field(label, value string) {
	fmt.Fprintf(p.w, "  %-12s %s\n", label+":", value)
}

// Println prints a plain line.
func (p *Progress) Println(a ...any) {
	fmt.Fprintln(p.w, a...)
}
