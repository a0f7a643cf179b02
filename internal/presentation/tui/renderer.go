package tui

import (
	"os"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

const defaultWrap = 100

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// NewRenderer returns a function that renders markdown using glamour, wrapped to
// the width of out. It returns nil when out is not a terminal, so piped output
// stays plain markdown.
func NewRenderer(out *os.File) func(string) (string, error) {
	if !IsTerminal(out) {
		return nil
	}
	wrap := defaultWrap
	if w, _, err := term.GetSize(int(out.Fd())); err == nil && w > 0 && w < wrap {
		wrap = w
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return nil
	}
	return r.Render
}
