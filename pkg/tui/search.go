// Package tui renders a live per-host table while a search runs.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/liliang-cn/rgrep/pkg/inventory"
	"github.com/liliang-cn/rgrep/pkg/report"
	"github.com/liliang-cn/rgrep/pkg/search"
)

var (
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA"))
	matchedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// HostStartMsg reports that a worker picked up host Index.
type HostStartMsg struct {
	Index int
}

// HostResultMsg carries the final result of host Index.
type HostResultMsg struct {
	Index  int
	Result search.HostResult
}

// DoneMsg signals that every host has a result.
type DoneMsg struct{}

type rowState int

const (
	rowWaiting rowState = iota
	rowRunning
	rowDone
)

type hostRow struct {
	label   string
	state   rowState
	started time.Time
	result  search.HostResult
}

// SearchModel is the bubbletea model for a running search.
type SearchModel struct {
	term     string
	glob     string
	rows     []hostRow
	finished int
	spinner  spinner.Model
	progress progress.Model

	quitting    bool
	interrupted bool
}

// NewSearchModel creates a model with one waiting row per host, in order.
func NewSearchModel(hosts []inventory.Host, term, glob string) *SearchModel {
	rows := make([]hostRow, len(hosts))
	for i, h := range hosts {
		rows[i] = hostRow{label: h.Label()}
	}

	return &SearchModel{
		term:    term,
		glob:    glob,
		rows:    rows,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(runningStyle)),
		progress: progress.New(
			progress.WithGradient("#7D56F4", "#04B575"),
			progress.WithWidth(40),
		),
	}
}

// Interrupted reports whether the user quit before the search finished.
func (m *SearchModel) Interrupted() bool {
	return m.interrupted
}

func (m *SearchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *SearchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.interrupted = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.progress.Width = max(10, min(60, msg.Width-20))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case HostStartMsg:
		if msg.Index >= 0 && msg.Index < len(m.rows) && m.rows[msg.Index].state == rowWaiting {
			m.rows[msg.Index].state = rowRunning
			m.rows[msg.Index].started = time.Now()
		}

	case HostResultMsg:
		if msg.Index >= 0 && msg.Index < len(m.rows) && m.rows[msg.Index].state != rowDone {
			m.rows[msg.Index].state = rowDone
			m.rows[msg.Index].result = msg.Result
			m.finished++
		}

	case DoneMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *SearchModel) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("Searching %q in %s", m.term, m.glob)))
	b.WriteString("\n\n")

	const (
		colHost   = 20
		colStatus = 14
		colTime   = 8
		colResult = 40
	)
	widths := []int{colHost, colStatus, colTime, colResult}

	border := func(left, mid, right string) {
		parts := make([]string, len(widths))
		for i, w := range widths {
			parts[i] = strings.Repeat("─", w+2)
		}
		b.WriteString(borderStyle.Render(left + strings.Join(parts, mid) + right))
		b.WriteString("\n")
	}
	row := func(cells ...string) {
		for i, c := range cells {
			b.WriteString(borderStyle.Render("│"))
			b.WriteString(" " + padRight(c, widths[i]) + " ")
		}
		b.WriteString(borderStyle.Render("│"))
		b.WriteString("\n")
	}

	border("┌", "┬", "┐")
	row("Host", "Status", "Time", "Result")
	border("├", "┼", "┤")
	for _, r := range m.rows {
		status, elapsed, result := m.describe(r)
		row(
			runewidth.Truncate(r.label, colHost, "..."),
			status,
			elapsed,
			runewidth.Truncate(result, colResult, "..."),
		)
	}
	border("└", "┴", "┘")

	total := len(m.rows)
	percent := 1.0
	if total > 0 {
		percent = float64(m.finished) / float64(total)
	}
	b.WriteString("\n")
	b.WriteString(m.progress.ViewAs(percent))
	b.WriteString(fmt.Sprintf("  %d/%d hosts\n", m.finished, total))

	if !m.quitting {
		b.WriteString("\n")
		b.WriteString(detailStyle.Render("Press q to quit"))
	}

	return b.String()
}

func (m *SearchModel) describe(r hostRow) (status, elapsed, result string) {
	switch r.state {
	case rowWaiting:
		return detailStyle.Render("· Waiting"), "-", ""
	case rowRunning:
		return m.spinner.View() + " Searching", formatElapsed(time.Since(r.started)), ""
	}

	res := r.result
	label := report.OutcomeLabel(res.Outcome)
	elapsed = formatElapsed(res.Duration)
	switch res.Outcome {
	case search.Matched:
		files := len(search.DistinctFiles(res.Matches))
		return matchedStyle.Render("✓ " + label), elapsed, fmt.Sprintf("%d lines in %d files", len(res.Matches), files)
	case search.Failed:
		if res.Err != nil {
			result = res.Err.Kind.String() + ": " + res.Err.Detail
		}
		return failedStyle.Render("✗ " + label), elapsed, result
	default:
		return detailStyle.Render("- " + label), elapsed, ""
	}
}

func padRight(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func formatElapsed(d time.Duration) string {
	ms := d.Milliseconds()
	if ms > 1000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%dms", ms)
}
