package ui

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	Accent = lipgloss.Color("#22d3ee")
	Muted  = lipgloss.Color("#6B7280")

	MutedStyle       = lipgloss.NewStyle().Foreground(Muted)
	TableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(Accent).Padding(0, 1)
	TableRowStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// LinkRow - одна строка таблицы соединений
type LinkRow struct {
	Name    string
	State   string
	Packets uint64
	Bytes   uint64
}

// RenderLinks рисует таблицу соединений с участниками
func RenderLinks(rows []LinkRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("No participants")
	}

	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		data = append(data, []string{
			r.Name,
			r.State,
			strconv.FormatUint(r.Packets, 10),
			strconv.FormatUint(r.Bytes, 10),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Accent)).
		Headers("Participant", "State", "Packets", "Bytes").
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return TableRowStyle
		})

	return tbl.Render()
}
