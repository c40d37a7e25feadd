package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/liliang-cn/rgrep/pkg/inventory"
	"github.com/liliang-cn/rgrep/pkg/search"
)

func sampleReport() *search.Report {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &search.Report{
		RunID:    "3f2b6c1e-0000-4000-8000-000000000000",
		Started:  start,
		Finished: start.Add(1500 * time.Millisecond),
		Results: []search.HostResult{
			{
				Host:    inventory.Host{Name: "web-1", Address: "10.0.0.1", User: "ops", Password: "hunter2", Port: 22},
				Outcome: search.Matched,
				Matches: []search.Match{
					{Path: "/var/log/a.log", Line: 3, Text: "Retorno:99 ok"},
					{Path: "/var/log/a.log", Line: 9, Text: "Retorno:99 again"},
					{Path: "/var/log/b.log", Line: 1, Text: "retorno:99"},
				},
				Downloads: []search.Transfer{
					{RemotePath: "/var/log/a.log", LocalPath: "out/web-1/var/log/a.log", Bytes: 2048},
				},
				DownloadErrors: []search.TransferError{
					{RemotePath: "/var/log/b.log", Err: search.NewError(search.DownloadError, "permission denied", nil)},
				},
				Duration: 120 * time.Millisecond,
			},
			{
				Host:     inventory.Host{Name: "web-2", Address: "10.0.0.2", User: "ops", Password: "hunter2", Port: 22},
				Outcome:  search.NoMatch,
				ExitCode: 1,
				Duration: 80 * time.Millisecond,
			},
			{
				Host:     inventory.Host{Name: "db-1", Address: "10.0.0.3", User: "ops", Password: "hunter2", Port: 2222},
				Outcome:  search.Failed,
				Err:      search.NewError(search.ConnectionAuthFailed, "permission denied (password)", nil),
				Duration: 2 * time.Second,
			},
			{
				Host:     inventory.Host{Name: "db-2", Address: "10.0.0.4", User: "ops", Password: "hunter2", Port: 22},
				Outcome:  search.Failed,
				Err:      search.NewError(search.ConnectionAuthFailed, "permission denied (password)", nil),
				Duration: 2 * time.Second,
			},
		},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleReport())

	if s.TotalHosts != 4 || s.HostsMatched != 1 || s.HostsNoMatch != 1 || s.HostsFailed != 2 {
		t.Errorf("counts = %d/%d/%d/%d, want 4/1/1/2", s.TotalHosts, s.HostsMatched, s.HostsNoMatch, s.HostsFailed)
	}
	if got := s.FailuresByKind["auth_failed"]; got != 2 {
		t.Errorf("FailuresByKind[auth_failed] = %d, want 2", got)
	}
	if len(s.Matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(s.Matches))
	}
	if s.Matches[0].Host != "web-1" || s.Matches[2].Path != "/var/log/b.log" {
		t.Errorf("matches out of order: %+v", s.Matches)
	}
	if s.FilesDownloaded != 1 || s.BytesDownloaded != 2048 || s.DownloadErrors != 1 {
		t.Errorf("downloads = %d files, %d bytes, %d errors", s.FilesDownloaded, s.BytesDownloaded, s.DownloadErrors)
	}
	if s.Elapsed != 1500*time.Millisecond {
		t.Errorf("Elapsed = %v", s.Elapsed)
	}
	if s.ExitCode() != 1 {
		t.Errorf("ExitCode() = %d, want 1", s.ExitCode())
	}
}

func TestSummarizeEmpty(t *testing.T) {
	for name, r := range map[string]*search.Report{
		"nil":   nil,
		"empty": {},
	} {
		t.Run(name, func(t *testing.T) {
			s := Summarize(r)
			if s.TotalHosts != 0 || s.Matches == nil || len(s.Matches) != 0 {
				t.Errorf("Summarize = %+v", s)
			}
			if s.ExitCode() != 0 {
				t.Errorf("ExitCode() = %d, want 0", s.ExitCode())
			}
		})
	}
}

func TestExitCodeIgnoresDownloadErrors(t *testing.T) {
	r := sampleReport()
	r.Results = r.Results[:2]
	if code := Summarize(r).ExitCode(); code != 0 {
		t.Errorf("ExitCode() = %d, want 0", code)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleReport()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	out := buf.String()

	if strings.Contains(out, "hunter2") {
		t.Fatal("password leaked into JSON output")
	}
	for _, want := range []string{
		`"run_id": "3f2b6c1e-0000-4000-8000-000000000000"`,
		`"outcome": "matched"`,
		`"outcome": "no match"`,
		`"kind": "auth_failed"`,
		`"hosts_failed": 2`,
		`"host": "web-1"`,
		`"password": "******"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("JSON output missing %s\n%s", want, out)
		}
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, sampleReport(), TextOptions{NoColor: true}); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()

	if strings.Contains(out, "hunter2") {
		t.Fatal("password leaked into text output")
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("NoColor output contains escape sequences")
	}
	for _, want := range []string{
		"Host: web-1 (ops@10.0.0.1:22)",
		"Matched: 3 lines in 2 files",
		"  /var/log/a.log:3: Retorno:99 ok",
		"No Match",
		"Failed (auth_failed): permission denied (password)",
		"downloaded /var/log/a.log -> out/web-1/var/log/a.log (2.0 KiB)",
		"download failed /var/log/b.log: permission denied",
		"Summary: 4 hosts: 1 matched, 1 no match, 2 failed in 1.5s",
		"Failures: auth_failed=2",
		"Downloads: 1 file (2.0 KiB), 1 failed",
		"┌",
		"└",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q\n%s", want, out)
		}
	}

	// Hosts appear in report order.
	order := []string{"Host: web-1", "Host: web-2", "Host: db-1", "Host: db-2"}
	last := -1
	for _, h := range order {
		i := strings.Index(out, h)
		if i <= last {
			t.Errorf("%q out of order", h)
		}
		last = i
	}
}

func TestWriteTextHideLines(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, sampleReport(), TextOptions{NoColor: true, HideLines: true}); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if strings.Contains(buf.String(), "Retorno:99 ok") {
		t.Error("HideLines still printed matching text")
	}
	if !strings.Contains(buf.String(), "  /var/log/a.log:3\n") {
		t.Error("HideLines dropped the file:line entry")
	}
}

func TestWriteTextBinaryFileMatch(t *testing.T) {
	r := &search.Report{Results: []search.HostResult{{
		Host:    inventory.Host{Name: "web-1", Address: "10.0.0.1", User: "ops", Port: 22},
		Outcome: search.Matched,
		Matches: []search.Match{{Path: "/var/log/app-10:30:15.bin"}},
	}}}

	for _, hide := range []bool{false, true} {
		var buf bytes.Buffer
		if err := WriteText(&buf, r, TextOptions{NoColor: true, HideLines: hide}); err != nil {
			t.Fatalf("WriteText: %v", err)
		}
		if !strings.Contains(buf.String(), "  /var/log/app-10:30:15.bin: binary file matches\n") {
			t.Errorf("hideLines=%v: binary match not rendered\n%s", hide, buf.String())
		}
	}
}

func TestOutcomeLabel(t *testing.T) {
	tests := []struct {
		outcome search.Outcome
		want    string
	}{
		{search.Matched, "Matched"},
		{search.NoMatch, "No Match"},
		{search.Failed, "Failed"},
		{search.Pending, "Pending"},
	}
	for _, tt := range tests {
		if got := OutcomeLabel(tt.outcome); got != tt.want {
			t.Errorf("OutcomeLabel(%v) = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
