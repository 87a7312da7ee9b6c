package output

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Terminal color palette. A single accent color keeps hit lists
// scannable without turning the terminal into a rainbow.
const (
	colorAccent = "154" // bright lime for scores and headers
	colorGray   = "245" // secondary text: paths, line ranges
	colorDark   = "238" // separators
	colorRed    = "196"
	colorYellow = "220"
)

// Styles holds the lipgloss styles used for human-readable rendering.
type Styles struct {
	Header  lipgloss.Style
	Score   lipgloss.Style
	Path    lipgloss.Style
	Dim     lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
}

// ColorStyles returns the styled set for TTY output.
func ColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		Score:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)),
		Path:    lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorDark)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
	}
}

// PlainStyles returns pass-through styles for non-TTY output.
func PlainStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Score:   lipgloss.NewStyle(),
		Path:    lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
	}
}

// DetectStyles picks styles for out: colored when out is an interactive
// terminal, plain when piped or captured (including daemon-forwarded
// runs, whose sinks are in-memory buffers).
func DetectStyles(out io.Writer) Styles {
	if f, ok := out.(*os.File); ok {
		if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
			return ColorStyles()
		}
	}
	return PlainStyles()
}
