package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the console banner to w.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{" _  __                          _", "#818cf8"},
		{"| |/ /___  _ __   ___ _ __ _ __ (_) ___ _   _ ___", "#a78bfa"},
		{"| ' // _ \\| '_ \\ / _ \\ '__| '_ \\| |/ __| | | / __|", "#c084fc"},
		{"| . \\ (_) | |_) |  __/ |  | | | | | (__| |_| \\__ \\", "#e879f9"},
		{"|_|\\_\\___/| .__/ \\___|_|  |_| |_|_|\\___|\\__,_|___/", "#f472b6"},
		{"          |_|", "#fb7185"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
