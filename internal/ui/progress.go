package ui

import (
	"fmt"
	"strings"

	"github.com/BioHazard786/huddle/internal/transfer"
	"github.com/BioHazard786/huddle/internal/utils"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// uploadRow is one task in the upload panel.
type uploadRow struct {
	task transfer.Task
	bar  progress.Model
}

// UploadsModel renders the upload queue, one progress bar per task, in
// enqueue order.
type UploadsModel struct {
	rows  []*uploadRow
	width int
}

func NewUploadsModel() *UploadsModel {
	return &UploadsModel{width: 25}
}

func newBar(width int) progress.Model {
	return progress.New(
		progress.WithGradient(ProgressStart, ProgressEnd),
		progress.WithWidth(width),
		progress.WithoutPercentage(),
	)
}

// Set adds or updates the row for t.
func (m *UploadsModel) Set(t transfer.Task) {
	for _, r := range m.rows {
		if r.task.ID == t.ID {
			r.task = t
			return
		}
	}
	m.rows = append(m.rows, &uploadRow{task: t, bar: newBar(m.width)})
}

// Finished returns the ids of tasks in a terminal state.
func (m *UploadsModel) Finished() []transfer.TaskID {
	var ids []transfer.TaskID
	for _, r := range m.rows {
		if r.task.Status.Terminal() {
			ids = append(ids, r.task.ID)
		}
	}
	return ids
}

// Remove drops the row for id.
func (m *UploadsModel) Remove(id transfer.TaskID) {
	for i, r := range m.rows {
		if r.task.ID == id {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return
		}
	}
}

func (m *UploadsModel) Len() int {
	return len(m.rows)
}

func (m *UploadsModel) SetWidth(total int) {
	m.width = max(10, min(25, total-45))
	for _, r := range m.rows {
		r.bar.Width = m.width
	}
}

// View renders every row. frame is the current spinner frame, shown next
// to the active upload.
func (m *UploadsModel) View(frame string) string {
	if len(m.rows) == 0 {
		return ""
	}

	var b strings.Builder
	for _, r := range m.rows {
		t := r.task
		var (
			icon      string
			nameStyle lipgloss.Style
		)
		switch t.Status {
		case transfer.Failed:
			icon, nameStyle = IconError, ErrorStyle
		case transfer.Succeeded:
			icon, nameStyle = IconSuccess, SuccessStyle
		case transfer.Uploading:
			icon, nameStyle = frame, lipgloss.NewStyle()
		default:
			icon, nameStyle = "○", MutedStyle
		}

		name := utils.TruncateString(t.File.Name, 22)
		b.WriteString(fmt.Sprintf("  %s %s ", icon, nameStyle.Width(24).Render(name)))

		if t.Status == transfer.Failed {
			b.WriteString(ErrorStyle.Render(failureText(t)))
		} else {
			b.WriteString(r.bar.ViewAs(float64(t.Progress) / 100))
			b.WriteString(fmt.Sprintf(" %3d%%", t.Progress))
			b.WriteString(MutedStyle.Render(" " + utils.FormatSize(t.File.Size)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func failureText(t transfer.Task) string {
	if t.Err == nil {
		return "failed"
	}
	return utils.TruncateString(t.Err.Error(), 60)
}
