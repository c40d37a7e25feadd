package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/liliang-cn/rgrep/pkg/search"
)

// TextOptions controls WriteText.
type TextOptions struct {
	// NoColor disables styling even on a terminal.
	NoColor bool
	// HideLines prints only file:line, not the matching text.
	HideLines bool
	// MaxLineWidth truncates matching text; 0 means 160.
	MaxLineWidth int
}

type styles struct {
	header  lipgloss.Style
	border  lipgloss.Style
	matched lipgloss.Style
	noMatch lipgloss.Style
	failed  lipgloss.Style
	detail  lipgloss.Style
	noColor bool
}

func newStyles(w io.Writer, noColor bool) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header:  r.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true),
		border:  r.NewStyle().Foreground(lipgloss.Color("240")),
		matched: r.NewStyle().Foreground(lipgloss.Color("#04B575")),
		noMatch: r.NewStyle().Foreground(lipgloss.Color("#888888")),
		failed:  r.NewStyle().Foreground(lipgloss.Color("#FF5F87")),
		detail:  r.NewStyle().Foreground(lipgloss.Color("#888888")),
		noColor: noColor,
	}
}

func (s styles) render(st lipgloss.Style, text string) string {
	if s.noColor {
		return text
	}
	return st.Render(text)
}

// OutcomeLabel is the title-cased outcome name, e.g. "No Match".
func OutcomeLabel(o search.Outcome) string {
	// A Caser is stateful; one per call keeps this safe for concurrent use.
	return cases.Title(language.English).String(o.String())
}

// WriteText prints one block per host in report order, then a summary
// table and totals.
func WriteText(w io.Writer, r *search.Report, opts TextOptions) error {
	st := newStyles(w, opts.NoColor)
	maxWidth := opts.MaxLineWidth
	if maxWidth <= 0 {
		maxWidth = 160
	}

	var b strings.Builder
	for _, res := range r.Results {
		writeHostBlock(&b, st, res, opts.HideLines, maxWidth)
	}

	sum := Summarize(r)
	b.WriteString("\n")
	if len(r.Results) > 0 {
		writeTable(&b, st, r)
	}
	writeTotals(&b, st, sum)

	_, err := io.WriteString(w, b.String())
	return err
}

func outcomeStyle(st styles, o search.Outcome) lipgloss.Style {
	switch o {
	case search.Matched:
		return st.matched
	case search.Failed:
		return st.failed
	default:
		return st.noMatch
	}
}

func writeHostBlock(b *strings.Builder, st styles, res search.HostResult, hideLines bool, maxWidth int) {
	sep := strings.Repeat("=", 60)
	b.WriteString(st.render(st.border, sep) + "\n")
	fmt.Fprintf(b, "%s %s\n", st.render(st.header, "Host:"), res.Host.String())
	b.WriteString(st.render(st.border, sep) + "\n")

	label := st.render(outcomeStyle(st, res.Outcome), OutcomeLabel(res.Outcome))

	switch res.Outcome {
	case search.Matched:
		files := search.DistinctFiles(res.Matches)
		fmt.Fprintf(b, "%s: %d %s in %d %s\n", label,
			len(res.Matches), plural(len(res.Matches), "line", "lines"),
			len(files), plural(len(files), "file", "files"))
		for _, m := range res.Matches {
			if m.Line == 0 {
				fmt.Fprintf(b, "  %s: binary file matches\n", m.Path)
				continue
			}
			if hideLines {
				fmt.Fprintf(b, "  %s:%d\n", m.Path, m.Line)
				continue
			}
			fmt.Fprintf(b, "  %s:%d: %s\n", m.Path, m.Line, runewidth.Truncate(m.Text, maxWidth, "..."))
		}
	case search.NoMatch:
		fmt.Fprintf(b, "%s\n", label)
	case search.Failed:
		kind, detail := search.KindNone, ""
		if res.Err != nil {
			kind, detail = res.Err.Kind, res.Err.Detail
		}
		fmt.Fprintf(b, "%s (%s): %s\n", label, kind, detail)
		if res.Err != nil && res.Err.Kind == search.ExecutionError && strings.TrimSpace(res.Stderr) != "" {
			for _, line := range strings.Split(strings.TrimRight(res.Stderr, "\n"), "\n") {
				b.WriteString(st.render(st.detail, "  stderr: "+line) + "\n")
			}
		}
	default:
		fmt.Fprintf(b, "%s\n", label)
	}

	for _, t := range res.Downloads {
		fmt.Fprintf(b, "  downloaded %s -> %s (%s)\n", t.RemotePath, t.LocalPath, formatBytes(t.Bytes))
	}
	for _, te := range res.DownloadErrors {
		b.WriteString(st.render(st.failed, fmt.Sprintf("  download failed %s: %s", te.RemotePath, te.Err.Detail)) + "\n")
	}
	b.WriteString("\n")
}

func writeTable(b *strings.Builder, st styles, r *search.Report) {
	const (
		hostW    = 28
		outcomeW = 12
		matchW   = 9
		filesW   = 7
		timeW    = 10
	)
	widths := []int{hostW, outcomeW, matchW, filesW, timeW}

	line := func(left, mid, right string) string {
		parts := make([]string, len(widths))
		for i, w := range widths {
			parts[i] = strings.Repeat("─", w)
		}
		return st.render(st.border, left+strings.Join(parts, mid)+right) + "\n"
	}
	row := func(cells ...string) string {
		var sb strings.Builder
		bar := st.render(st.border, "│")
		sb.WriteString(bar)
		for i, c := range cells {
			sb.WriteString(" " + padRight(c, widths[i]-2) + " ")
			sb.WriteString(bar)
		}
		return sb.String() + "\n"
	}

	b.WriteString(line("┌", "┬", "┐"))
	b.WriteString(row("Host", "Outcome", "Matches", "Files", "Time"))
	b.WriteString(line("├", "┼", "┤"))
	for _, res := range r.Results {
		matches, files := "-", "-"
		if res.Outcome == search.Matched {
			matches = fmt.Sprint(len(res.Matches))
			files = fmt.Sprint(len(search.DistinctFiles(res.Matches)))
		}
		b.WriteString(row(
			runewidth.Truncate(res.Host.Label(), hostW-2, "..."),
			st.render(outcomeStyle(st, res.Outcome), OutcomeLabel(res.Outcome)),
			matches,
			files,
			formatDuration(res.Duration),
		))
	}
	b.WriteString(line("└", "┴", "┘"))
}

func writeTotals(b *strings.Builder, st styles, sum Summary) {
	fmt.Fprintf(b, "%s %d hosts: %s, %s, %s in %s\n",
		st.render(st.header, "Summary:"),
		sum.TotalHosts,
		st.render(st.matched, fmt.Sprintf("%d matched", sum.HostsMatched)),
		st.render(st.noMatch, fmt.Sprintf("%d no match", sum.HostsNoMatch)),
		st.render(st.failed, fmt.Sprintf("%d failed", sum.HostsFailed)),
		formatDuration(sum.Elapsed))

	if len(sum.FailuresByKind) > 0 {
		kinds := make([]string, 0, len(sum.FailuresByKind))
		for k := range sum.FailuresByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		parts := make([]string, len(kinds))
		for i, k := range kinds {
			parts[i] = fmt.Sprintf("%s=%d", k, sum.FailuresByKind[k])
		}
		fmt.Fprintf(b, "Failures: %s\n", strings.Join(parts, " "))
	}

	if sum.FilesDownloaded > 0 || sum.DownloadErrors > 0 {
		fmt.Fprintf(b, "Downloads: %d %s (%s), %d failed\n",
			sum.FilesDownloaded, plural(sum.FilesDownloaded, "file", "files"),
			formatBytes(sum.BytesDownloaded), sum.DownloadErrors)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func padRight(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms >= 1000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%dms", ms)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
