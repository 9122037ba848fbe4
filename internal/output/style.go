package output

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
)

// Styles holds the text-mode styles. Every style renders plain text when
// colour is disabled.
type Styles struct {
	Title lipgloss.Style
	Label lipgloss.Style
	OK    lipgloss.Style
	Warn  lipgloss.Style
	Bad   lipgloss.Style
	Muted lipgloss.Style
}

// ColorEnabled reports whether w is a terminal and NO_COLOR is unset.
func ColorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NewStyles returns coloured styles, or plain ones when color is false.
func NewStyles(color bool) Styles {
	if !color {
		plain := lipgloss.NewStyle()
		return Styles{Title: plain, Label: plain, OK: plain, Warn: plain, Bad: plain, Muted: plain}
	}
	return Styles{
		Title: lipgloss.NewStyle().Foreground(lipgloss.Color("#89b4fa")).Bold(true),
		Label: lipgloss.NewStyle().Foreground(lipgloss.Color("#cdd6f4")),
		OK:    lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1")),
		Warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#f9e2af")),
		Bad:   lipgloss.NewStyle().Foreground(lipgloss.Color("#f38ba8")).Bold(true),
		Muted: lipgloss.NewStyle().Foreground(lipgloss.Color("#6c7086")),
	}
}

// Truncate shortens s to at most width display columns, marking the cut
// with an ellipsis.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.Truncate(s, width, "…")
}

// Pad right-pads s with spaces to width display columns.
func Pad(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// Table renders rows as space-separated columns sized to their widest
// cell. Cells wider than maxWidth are truncated.
func Table(headers []string, rows [][]string, maxWidth int) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i := range headers {
			if i >= len(row) {
				continue
			}
			widths[i] = max(widths[i], min(runewidth.StringWidth(row[i]), maxWidth))
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i := range headers {
			cell := ""
			if i < len(cells) {
				cell = Truncate(cells[i], maxWidth)
			}
			if i == len(headers)-1 {
				b.WriteString(cell)
			} else {
				b.WriteString(Pad(cell, widths[i]))
				b.WriteString("  ")
			}
		}
		b.WriteString("\n")
	}
	writeRow(headers)
	for _, row := range rows {
		writeRow(row)
	}
	return b.String()
}
