package main

import (
	"fmt"
	"io"
	"os"

	"github.com/RyanBlaney/sonido-live/algorithms/temporal"
	"github.com/RyanBlaney/sonido-live/algorithms/tonal"
	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	primaryColor = lipgloss.Color("#00A4A4")
	mutedColor   = lipgloss.Color("#888888")
	textColor    = lipgloss.Color("#FFFFFF")
	warnColor    = lipgloss.Color("#FFA500")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(warnColor)

	keyStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor)
)

func printTitle(w io.Writer) {
	fmt.Fprintln(w, titleStyle.Render("sonido-live"))
}

func printField(w io.Writer, name, value string) {
	fmt.Fprintf(w, "%s %s\n", keyStyle.Render(name), valueStyle.Render(value))
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("Error:"), err)
}

func formatTempo(e temporal.TempoEstimate) string {
	if e.BPM <= 0 {
		return "unknown"
	}
	return fmt.Sprintf("%.1f BPM (%s, confidence %.2f)", e.BPM, e.Category(), e.Confidence)
}

func formatKey(r tonal.KeyResult) string {
	if r.Key < 0 {
		return "unknown"
	}
	return fmt.Sprintf("%s (confidence %.2f)", r.Name(), r.Confidence)
}
