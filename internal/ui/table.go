package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/BioHazard786/huddle/internal/utils"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// FilesView renders the room's shared files for the room screen.
func FilesView(entries []signaling.FileEntry, now time.Time) string {
	if len(entries) == 0 {
		return MutedStyle.Render("No files shared yet")
	}

	rows := make([][]string, 0, len(entries))
	for i, f := range entries {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			utils.TruncateString(f.Filename, 28),
			utils.FormatSize(f.Size),
			utils.TruncateString(f.UploaderName, 16),
			utils.FormatUploadTime(f.UploadTime, now),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Name", "Size", "By", "When").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// WriteFilesTable prints entries as a plain table, for `huddle files`.
func WriteFilesTable(w io.Writer, entries []signaling.FileEntry, now time.Time) {
	t := prettytable.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(prettytable.StyleRounded)
	t.AppendHeader(prettytable.Row{"#", "File ID", "Name", "Size", "Type", "Uploaded by", "When"})

	var total int64
	for i, f := range entries {
		t.AppendRow(prettytable.Row{
			i + 1,
			f.FileID,
			utils.TruncateString(f.Filename, 40),
			utils.FormatSize(f.Size),
			f.MimeType,
			f.UploaderName,
			utils.FormatUploadTime(f.UploadTime, now),
		})
		total += f.Size
	}
	t.AppendFooter(prettytable.Row{"", "", fmt.Sprintf("%d files", len(entries)), utils.FormatSize(total)})
	t.SetColumnConfigs([]prettytable.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	t.Render()
}
