package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"porchlight/internal/cell"
	"porchlight/internal/mediator"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// renderTable lays rows out in padded columns. The first row is the header.
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, text := range row {
			if w := lipgloss.Width(text); i < len(widths) && w > widths[i] {
				widths[i] = w
			}
		}
	}

	renderRow := func(style lipgloss.Style, row []string) string {
		parts := make([]string, len(widths))
		for i := range widths {
			text := ""
			if i < len(row) {
				text = row[i]
			}
			parts[i] = lipgloss.NewStyle().Width(widths[i] + 2).Render(style.Render(text))
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	}

	lines := []string{renderRow(headerStyle, headers)}
	for _, row := range rows {
		lines = append(lines, renderRow(lipgloss.NewStyle(), row))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// renderPool shows every cell of a snapshot.
func renderPool(snap mediator.Snapshot) string {
	rows := make([][]string, 0, len(snap.Cells))
	for _, st := range snap.Cells {
		mutable := "yes"
		if !st.Mutable {
			mutable = "no"
		}
		rows = append(rows, []string{st.Name, formatValue(st.Value), st.Type, mutable})
	}
	return renderTable([]string{"NAME", "VALUE", "TYPE", "MUTABLE"}, rows)
}

// renderAdapters shows each adapter's contract.
func renderAdapters(snap mediator.Snapshot) string {
	rows := make([][]string, 0, len(snap.Adapters))
	for _, info := range snap.Adapters {
		outputs := make([]string, 0, len(info.Outputs))
		for _, point := range info.Outputs {
			outputs = append(outputs, "("+strings.Join(point, ", ")+")")
		}
		rows = append(rows, []string{
			info.Name,
			strings.Join(info.Inputs, ", "),
			strings.Join(info.Required, ", "),
			strings.Join(outputs, " "),
		})
	}
	return renderTable([]string{"ADAPTER", "INPUTS", "REQUIRED", "OUTPUTS"}, rows)
}

func formatValue(v any) string {
	if cell.IsAbsent(v) {
		return mutedStyle.Render("<absent>")
	}
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v)
}
