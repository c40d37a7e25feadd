package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/liliang-cn/rgrep/pkg/inventory"
	"github.com/liliang-cn/rgrep/pkg/search"
)

func testHosts() []inventory.Host {
	return []inventory.Host{
		{Name: "web-1", Address: "10.0.0.1", User: "ops", Password: "pw", Port: 22},
		{Name: "web-2", Address: "10.0.0.2", User: "ops", Password: "pw", Port: 22},
		{Address: "10.0.0.3", User: "ops", Password: "pw", Port: 22},
	}
}

func TestNewSearchModel(t *testing.T) {
	m := NewSearchModel(testHosts(), "Retorno:99", "/var/log/*.log")

	if len(m.rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(m.rows))
	}
	if m.rows[2].label != "10.0.0.3" {
		t.Errorf("unnamed host label = %q, want address", m.rows[2].label)
	}
	for i, r := range m.rows {
		if r.state != rowWaiting {
			t.Errorf("row %d state = %v, want waiting", i, r.state)
		}
	}
	if m.Init() == nil {
		t.Error("Init should return a cmd")
	}
}

func TestSearchModel_Update_KeyMsg(t *testing.T) {
	tests := []struct {
		name     string
		key      tea.KeyMsg
		quitting bool
	}{
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}, true},
		{"q", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}, true},
		{"up", tea.KeyMsg{Type: tea.KeyUp}, false},
		{"enter", tea.KeyMsg{Type: tea.KeyEnter}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewSearchModel(testHosts(), "x", "/tmp/*")
			_, cmd := m.Update(tt.key)
			if m.quitting != tt.quitting {
				t.Errorf("quitting = %v, want %v", m.quitting, tt.quitting)
			}
			if m.Interrupted() != tt.quitting {
				t.Errorf("Interrupted() = %v, want %v", m.Interrupted(), tt.quitting)
			}
			if tt.quitting && !isQuit(cmd) {
				t.Error("expected tea.Quit")
			}
		})
	}
}

func TestSearchModel_HostLifecycle(t *testing.T) {
	m := NewSearchModel(testHosts(), "x", "/tmp/*")

	m.Update(HostStartMsg{Index: 1})
	if m.rows[1].state != rowRunning {
		t.Fatalf("row 1 state = %v, want running", m.rows[1].state)
	}
	if m.rows[1].started.IsZero() {
		t.Error("start time not recorded")
	}

	m.Update(HostResultMsg{Index: 1, Result: search.HostResult{
		Outcome:  search.Matched,
		Matches:  []search.Match{{Path: "/tmp/a", Line: 1}, {Path: "/tmp/b", Line: 4}},
		Duration: 40 * time.Millisecond,
	}})
	m.Update(HostResultMsg{Index: 0, Result: search.HostResult{
		Outcome: search.Failed,
		Err:     search.NewError(search.ConnectionUnreachable, "connection refused", nil),
	}})

	if m.finished != 2 {
		t.Errorf("finished = %d, want 2", m.finished)
	}

	// A repeated result for the same host is not counted twice.
	m.Update(HostResultMsg{Index: 1, Result: search.HostResult{Outcome: search.NoMatch}})
	if m.finished != 2 || m.rows[1].result.Outcome != search.Matched {
		t.Errorf("duplicate result changed state: finished=%d outcome=%v", m.finished, m.rows[1].result.Outcome)
	}

	// A start after the result does not reopen the row.
	m.Update(HostStartMsg{Index: 1})
	if m.rows[1].state != rowDone {
		t.Errorf("row 1 state = %v, want done", m.rows[1].state)
	}

	// Out of range indexes are ignored.
	m.Update(HostStartMsg{Index: 7})
	m.Update(HostResultMsg{Index: -1})

	view := m.View()
	for _, want := range []string{
		`Searching "x" in /tmp/*`,
		"web-1",
		"web-2",
		"10.0.0.3",
		"Matched",
		"2 lines in 2 files",
		"Failed",
		"unreachable: connection refused",
		"Waiting",
		"2/3 hosts",
		"Press q to quit",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q\n%s", want, view)
		}
	}
}

func TestSearchModel_Done(t *testing.T) {
	m := NewSearchModel(testHosts(), "x", "/tmp/*")

	_, cmd := m.Update(DoneMsg{})
	if !isQuit(cmd) {
		t.Fatal("DoneMsg should quit")
	}
	if m.Interrupted() {
		t.Error("DoneMsg is not an interruption")
	}
	if strings.Contains(m.View(), "Press q to quit") {
		t.Error("finished view still shows the quit hint")
	}
}

func TestSearchModel_WindowSize(t *testing.T) {
	m := NewSearchModel(testHosts(), "x", "/tmp/*")

	tests := []struct {
		width int
		want  int
	}{
		{200, 60},
		{50, 30},
		{15, 10},
	}
	for _, tt := range tests {
		m.Update(tea.WindowSizeMsg{Width: tt.width, Height: 40})
		if m.progress.Width != tt.want {
			t.Errorf("width %d: progress width = %d, want %d", tt.width, m.progress.Width, tt.want)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0ms"},
		{999 * time.Millisecond, "999ms"},
		{1500 * time.Millisecond, "1.5s"},
	}
	for _, tt := range tests {
		if got := formatElapsed(tt.d); got != tt.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}
