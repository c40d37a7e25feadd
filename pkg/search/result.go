package search

import (
	"time"

	"github.com/liliang-cn/rgrep/pkg/inventory"
)

// Outcome is the tagged result of one host's search.
type Outcome int

const (
	// Pending marks a slot that was never filled; a finished report has none.
	Pending Outcome = iota
	Matched
	NoMatch
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case NoMatch:
		return "no match"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// MarshalText renders the outcome by name in JSON reports.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Match is one matching line. Line is 0 when grep reported the file as
// matching without printing a line, as it does for binary files.
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text,omitempty"`
}

// Transfer is one downloaded file.
type Transfer struct {
	RemotePath string `json:"remote_path"`
	LocalPath  string `json:"local_path"`
	Bytes      int64  `json:"bytes"`
}

// TransferError records one file that could not be downloaded.
type TransferError struct {
	RemotePath string `json:"remote_path"`
	Err        *Error `json:"error"`
}

// HostResult is the outcome of the search on one host.
type HostResult struct {
	Host    inventory.Host `json:"host"`
	Outcome Outcome        `json:"outcome"`
	Matches []Match        `json:"matches,omitempty"`
	// Err is set iff Outcome is Failed.
	Err      *Error        `json:"error,omitempty"`
	ExitCode int           `json:"exit_code"`
	Stderr   string        `json:"stderr,omitempty"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`

	Downloads      []Transfer      `json:"downloads,omitempty"`
	DownloadErrors []TransferError `json:"download_errors,omitempty"`
}

// Fail turns r into a Failed result.
func (r *HostResult) Fail(e *Error) {
	r.Outcome = Failed
	r.Err = e
	r.Matches = nil
}

// Report is the ordered result of a run: one entry per configured host, in
// configuration order.
type Report struct {
	RunID    string       `json:"run_id"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Results  []HostResult `json:"results"`
}

// Elapsed is the wall time of the run.
func (r *Report) Elapsed() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// DistinctFiles returns the matched file paths in first-seen order.
func DistinctFiles(matches []Match) []string {
	seen := make(map[string]struct{}, len(matches))
	var files []string
	for _, m := range matches {
		if _, ok := seen[m.Path]; ok {
			continue
		}
		seen[m.Path] = struct{}{}
		files = append(files, m.Path)
	}
	return files
}
