// Package report reduces a search.Report to totals and renders it for people
// (WriteText) and machines (WriteJSON).
package report

import (
	"time"

	"github.com/liliang-cn/rgrep/pkg/search"
)

// HostMatch is one matching line with the host it came from.
type HostMatch struct {
	Host string `json:"host"`
	search.Match
}

// Summary is the reduction of a Report.
type Summary struct {
	TotalHosts   int `json:"total_hosts"`
	HostsMatched int `json:"hosts_matched"`
	HostsNoMatch int `json:"hosts_no_match"`
	HostsFailed  int `json:"hosts_failed"`

	// Matches is every match of every host, in report order.
	Matches []HostMatch `json:"matches"`
	// FailuresByKind counts failed hosts by error kind name.
	FailuresByKind map[string]int `json:"failures_by_kind,omitempty"`

	FilesDownloaded int   `json:"files_downloaded"`
	BytesDownloaded int64 `json:"bytes_downloaded"`
	DownloadErrors  int   `json:"download_errors"`

	Elapsed time.Duration `json:"elapsed"`
}

// Summarize reduces r. It does no I/O.
func Summarize(r *search.Report) Summary {
	s := Summary{Matches: []HostMatch{}}
	if r == nil {
		return s
	}

	s.TotalHosts = len(r.Results)
	s.Elapsed = r.Elapsed()

	for _, res := range r.Results {
		switch res.Outcome {
		case search.Matched:
			s.HostsMatched++
		case search.NoMatch:
			s.HostsNoMatch++
		case search.Failed:
			s.HostsFailed++
			if res.Err != nil {
				if s.FailuresByKind == nil {
					s.FailuresByKind = make(map[string]int)
				}
				s.FailuresByKind[res.Err.Kind.String()]++
			}
		}

		for _, m := range res.Matches {
			s.Matches = append(s.Matches, HostMatch{Host: res.Host.Label(), Match: m})
		}
		for _, t := range res.Downloads {
			s.FilesDownloaded++
			s.BytesDownloaded += t.Bytes
		}
		s.DownloadErrors += len(res.DownloadErrors)
	}

	return s
}

// ExitCode is the process status for the run: 0 when no host failed, 1
// otherwise. Download errors do not count as host failures.
func (s Summary) ExitCode() int {
	if s.HostsFailed > 0 {
		return 1
	}
	return 0
}
