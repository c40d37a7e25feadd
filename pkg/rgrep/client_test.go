package rgrep

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/liliang-cn/rgrep/internal/sshtest"
	"github.com/liliang-cn/rgrep/pkg/inventory"
	"github.com/liliang-cn/rgrep/pkg/logger"
	"github.com/liliang-cn/rgrep/pkg/search"
)

func TestMain(m *testing.M) {
	inventory.SetSSHConfigPath(filepath.Join(os.TempDir(), "rgrep-client-test-no-ssh-config"))
	os.Exit(m.Run())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestClient(t *testing.T, settings string) *Client {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	writeFile(t, cfgPath, settings)

	c, err := New(&Config{
		ConfigPath:     cfgPath,
		Logger:         logger.Discard(),
		KnownHostsPath: filepath.Join(dir, "known_hosts"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewAppliesSettings(t *testing.T) {
	c := newTestClient(t, `
[search]
parallel = 7
timeout = "45s"
case_sensitive = true
no_match_codes = [1, 3]
retries = 2
text_mode = false
dest = "/tmp/rgrep-out"
`)

	spec := c.DefaultSpec()
	if spec.Parallelism != 7 || spec.Timeout != 45*time.Second || !spec.CaseSensitive || spec.Retries != 2 {
		t.Errorf("DefaultSpec = %+v", spec)
	}
	if len(spec.NoMatchCodes) != 2 || spec.NoMatchCodes[1] != 3 {
		t.Errorf("NoMatchCodes = %v", spec.NoMatchCodes)
	}
	if spec.DestinationDir != "/tmp/rgrep-out" {
		t.Errorf("DestinationDir = %q", spec.DestinationDir)
	}
	if spec.Shell != "/bin/sh" || spec.Grep != "grep" {
		t.Errorf("Shell/Grep = %q/%q, want defaults", spec.Shell, spec.Grep)
	}
	if spec.TextMode {
		t.Error("text_mode = false was not applied")
	}
	if !newTestClient(t, "").DefaultSpec().TextMode {
		t.Error("text mode should be on by default")
	}
}

func TestSearchOptions(t *testing.T) {
	spec := search.Spec{Parallelism: 4, DestinationDir: "keep"}
	o := &searchOptions{}
	for _, opt := range []SearchOption{
		WithParallel(9),
		WithTimeout(3 * time.Second),
		WithCaseSensitive(true),
		WithDownload(""),
		WithRetries(1),
		WithNoMatchCodes(1, 2),
		WithShell("/bin/bash", ""),
		WithTextMode(true),
		WithProgress(func(int, inventory.Host) {}, nil),
	} {
		opt(&spec, o)
	}

	if spec.Parallelism != 9 || spec.Timeout != 3*time.Second || !spec.CaseSensitive || spec.Retries != 1 {
		t.Errorf("spec = %+v", spec)
	}
	if !spec.Download || spec.DestinationDir != "keep" {
		t.Errorf("WithDownload(\"\") should keep the configured dest, got %+v", spec)
	}
	if spec.Shell != "/bin/bash" || spec.Grep != "" || !spec.TextMode {
		t.Errorf("Shell/Grep/TextMode = %q/%q/%v", spec.Shell, spec.Grep, spec.TextMode)
	}
	if o.onStart == nil || o.onResult != nil {
		t.Error("WithProgress did not register the hooks as given")
	}
}

func TestHostsPrecedence(t *testing.T) {
	dir := t.TempDir()
	hostsFile := filepath.Join(dir, "hosts.json")
	writeFile(t, hostsFile, `[{"hostname":"from-file","ip":"10.0.0.9","username":"ops","password":"pw"}]`)

	c := newTestClient(t, `
[[hosts]]
hostname = "inline"
ip = "10.0.0.1"
username = "ops"
password = "pw"
`)

	inline, err := c.Hosts("")
	if err != nil {
		t.Fatalf("Hosts: %v", err)
	}
	if len(inline) != 1 || inline[0].Name != "inline" {
		t.Errorf("inline hosts = %v", inline)
	}

	fromFile, err := c.Hosts(hostsFile)
	if err != nil {
		t.Fatalf("Hosts(file): %v", err)
	}
	if len(fromFile) != 1 || fromFile[0].Name != "from-file" || fromFile[0].Port != inventory.DefaultPort {
		t.Errorf("file hosts = %v", fromFile)
	}
}

func TestSearchConfigError(t *testing.T) {
	c := newTestClient(t, "")

	_, err := c.Search(context.Background(), nil, "", "/var/log/*.log")
	if !search.IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}

	_, err = c.Search(context.Background(), nil, "x", "/var/log/*.log", WithParallel(0))
	if !search.IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

// TestSearchEndToEnd runs the real remote command through an in-process SSH
// server that hands it to the local /bin/sh and grep.
func TestSearchEndToEnd(t *testing.T) {
	data := t.TempDir()
	writeFile(t, filepath.Join(data, "app.log"), "boot\nRetorno:99 first\nok\nretorno:99 lower\n")
	writeFile(t, filepath.Join(data, "other.log"), "nothing here\n")
	writeFile(t, filepath.Join(data, "skip.txt"), "Retorno:99 not a log\n")

	srv := sshtest.NewServer(t)
	host, port := sshtest.SplitAddr(t, srv.Addr)
	hosts := []inventory.Host{
		{Name: "match", Address: host, Port: port, User: "ops", Password: inventory.Secret(srv.Password)},
		{Name: "down", Address: "127.0.0.1", Port: closedPort(t), User: "ops", Password: "pw"},
	}

	dest := t.TempDir()
	c := newTestClient(t, "")

	var mu sync.Mutex
	started := map[int]bool{}
	finished := map[int]search.Outcome{}

	report, err := c.Search(context.Background(), hosts, "Retorno:99", filepath.Join(data, "*.log"),
		WithTimeout(10*time.Second),
		WithDownload(dest),
		WithProgress(
			func(i int, _ inventory.Host) {
				mu.Lock()
				started[i] = true
				mu.Unlock()
			},
			func(i int, r search.HostResult) {
				mu.Lock()
				finished[i] = r.Outcome
				mu.Unlock()
			},
		),
	)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(report.Results))
	}

	got := report.Results[0]
	if got.Outcome != search.Matched {
		t.Fatalf("host match: outcome %v, err %v, stderr %q", got.Outcome, got.Err, got.Stderr)
	}
	if len(got.Matches) != 2 {
		t.Fatalf("matches = %+v, want 2 (case-insensitive)", got.Matches)
	}
	appLog := filepath.Join(data, "app.log")
	if got.Matches[0].Path != appLog || got.Matches[0].Line != 2 || got.Matches[1].Line != 4 {
		t.Errorf("matches = %+v", got.Matches)
	}

	if len(got.Downloads) != 1 || len(got.DownloadErrors) != 0 {
		t.Fatalf("downloads = %+v, errors = %+v", got.Downloads, got.DownloadErrors)
	}
	local := got.Downloads[0].LocalPath
	if local != filepath.Join(dest, "match", appLog) {
		t.Errorf("local path = %q", local)
	}
	content, err := os.ReadFile(local)
	if err != nil || string(content) != "boot\nRetorno:99 first\nok\nretorno:99 lower\n" {
		t.Errorf("downloaded content = %q, err %v", content, err)
	}

	down := report.Results[1]
	if down.Outcome != search.Failed || down.Err.Kind != search.ConnectionUnreachable {
		t.Errorf("host down: outcome %v, err %v", down.Outcome, down.Err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !started[0] || !started[1] || finished[0] != search.Matched || finished[1] != search.Failed {
		t.Errorf("progress hooks: started %v finished %v", started, finished)
	}
}

func TestSearchEndToEndAwkwardFiles(t *testing.T) {
	data := t.TempDir()
	stamped := filepath.Join(data, "app-10:30:15.log")
	binary := filepath.Join(data, "core.log")
	writeFile(t, stamped, "a\nb\nRetorno:99\n")
	writeFile(t, binary, "head\x00\nRetorno:99 here\n")

	srv := sshtest.NewServer(t)
	host, port := sshtest.SplitAddr(t, srv.Addr)
	hosts := []inventory.Host{{Name: "h", Address: host, Port: port, User: "ops", Password: inventory.Secret(srv.Password)}}
	c := newTestClient(t, "")

	tests := []struct {
		name string
		opts []SearchOption
		want []search.Match
	}{
		{
			name: "text mode",
			want: []search.Match{
				{Path: stamped, Line: 3, Text: "Retorno:99"},
				{Path: binary, Line: 2, Text: "Retorno:99 here"},
			},
		},
		{
			name: "binary file without text mode",
			opts: []SearchOption{WithTextMode(false)},
			want: []search.Match{
				{Path: stamped, Line: 3, Text: "Retorno:99"},
				{Path: binary},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := t.TempDir()
			opts := append([]SearchOption{WithTimeout(10 * time.Second), WithDownload(dest)}, tt.opts...)
			report, err := c.Search(context.Background(), hosts, "Retorno:99", filepath.Join(data, "*.log"), opts...)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}

			r := report.Results[0]
			if r.Outcome != search.Matched {
				t.Fatalf("outcome = %v, err %v, stderr %q", r.Outcome, r.Err, r.Stderr)
			}
			if len(r.Matches) != len(tt.want) {
				t.Fatalf("matches = %+v, want %+v", r.Matches, tt.want)
			}
			for i := range tt.want {
				if r.Matches[i] != tt.want[i] {
					t.Errorf("match %d = %+v, want %+v", i, r.Matches[i], tt.want[i])
				}
			}

			if len(r.DownloadErrors) != 0 {
				t.Fatalf("download errors: %+v", r.DownloadErrors)
			}
			if len(r.Downloads) != 2 {
				t.Fatalf("downloads = %+v, want both files", r.Downloads)
			}
			for _, d := range r.Downloads {
				if _, err := os.Stat(d.LocalPath); err != nil {
					t.Errorf("downloaded %s: %v", d.RemotePath, err)
				}
			}
		})
	}
}

func TestSearchEndToEndNoMatchAndEmptyGlob(t *testing.T) {
	data := t.TempDir()
	writeFile(t, filepath.Join(data, "app.log"), "all quiet\n")

	srv := sshtest.NewServer(t)
	host, port := sshtest.SplitAddr(t, srv.Addr)
	hosts := []inventory.Host{{Name: "h", Address: host, Port: port, User: "ops", Password: inventory.Secret(srv.Password)}}

	c := newTestClient(t, "")

	tests := []struct {
		name string
		glob string
		term string
		opts []SearchOption
	}{
		{"no match", filepath.Join(data, "*.log"), "Retorno:99", nil},
		{"empty glob", filepath.Join(data, "*.gz"), "quiet", nil},
		{"case sensitive miss", filepath.Join(data, "*.log"), "QUIET", []SearchOption{WithCaseSensitive(true)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := c.Search(context.Background(), hosts, tt.term, tt.glob, tt.opts...)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if r := report.Results[0]; r.Outcome != search.NoMatch {
				t.Errorf("outcome = %v, err %v, stderr %q", r.Outcome, r.Err, r.Stderr)
			}
		})
	}
}

func closedPort(t *testing.T) int {
	t.Helper()
	_, port := sshtest.SplitAddr(t, sshtest.ClosedAddr(t))
	return port
}
