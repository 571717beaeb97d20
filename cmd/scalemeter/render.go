package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	overageStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")).Padding(0, 1)
	titleStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
	summaryStyle = lipgloss.NewStyle().Faint(true)
	sepStyle     = lipgloss.NewStyle().Faint(true)
)

// table renders static tabular data with aligned, styled columns.
type table struct {
	Title   string
	Headers []string
	Rows    [][]string

	// highlighted rows get the overage style (used for entries over
	// their soft quota).
	highlighted map[int]bool
}

func newTable(title string, headers ...string) *table {
	return &table{Title: title, Headers: headers}
}

func (t *table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Highlight marks the most recently added row.
func (t *table) Highlight() {
	if t.highlighted == nil {
		t.highlighted = make(map[int]bool)
	}
	t.highlighted[len(t.Rows)-1] = true
}

func (t *table) Render() string {
	var sb strings.Builder

	if t.Title != "" {
		sb.WriteString(titleStyle.Render(t.Title))
		sb.WriteString("\n")
	}

	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}
	for i := range widths {
		widths[i] += 2 // account for cell padding
	}

	for i, h := range t.Headers {
		sb.WriteString(headerStyle.Width(widths[i]).Render(h))
		if i < len(t.Headers)-1 {
			sb.WriteString(sepStyle.Render("|"))
		}
	}
	sb.WriteString("\n")

	for rowNum, row := range t.Rows {
		style := cellStyle
		if t.highlighted[rowNum] {
			style = overageStyle
		}
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			sb.WriteString(style.Width(widths[i]).Render(cell))
			if i < len(row)-1 {
				sb.WriteString(sepStyle.Render("|"))
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// formatGB renders a KiB quantity in the GB convention (/1e6) used for
// usage plots.
func formatGB(kb int64) string {
	return fmt.Sprintf("%.3f", float64(kb)/1e6)
}

func summaryLine(format string, args ...interface{}) string {
	return summaryStyle.Render(fmt.Sprintf(format, args...))
}
