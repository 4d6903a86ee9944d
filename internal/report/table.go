package report

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mwiater/genbench/internal/benchmark"
)

var (
	tableHeaders = []string{"#", "model", "in/out", "1st token (s)", "2+ (s/token)", "encoder (s)", "trials"}

	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// RenderTable formats rows for the terminal. Trial counts unknown to the
// source format are shown as "-".
func RenderTable(rows []benchmark.Row) string {
	cells := make([][]string, 0, len(rows))
	for i, row := range rows {
		trials := "-"
		if row.Trials > 0 {
			trials = strconv.Itoa(row.Trials)
		}
		cells = append(cells, []string{
			strconv.Itoa(i),
			row.Model,
			row.Pair,
			fmt.Sprintf("%.4f", row.FirstTokenMean),
			fmt.Sprintf("%.4f", row.RestTokenMean),
			fmt.Sprintf("%.4f", row.EncoderTimeMean),
			trials,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col >= 3:
				return numberStyle
			default:
				return cellStyle
			}
		}).
		Headers(tableHeaders...).
		Rows(cells...)
	return t.String()
}
