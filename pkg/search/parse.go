package search

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ParseMatches reads the framed output of the command BuildCommand renders.
// Lines between a file marker and its status marker are "<line>:<text>". A
// file whose grep exited 0 without printing a line, as grep does for a
// binary file, yields one path-only Match with Line 0. Anything else,
// including grep's own "Binary file ... matches" notice, is returned in
// malformed.
func ParseMatches(stdout string) (matches []Match, malformed []string) {
	var (
		path  string
		open  bool
		lines int
	)

	for rest := stdout; rest != ""; {
		if rest[0] == 0 {
			end := strings.IndexByte(rest[1:], 0)
			if end < 1 {
				malformed = append(malformed, strings.ToValidUTF8(rest, "?"))
				break
			}
			tag, value := rest[1], rest[2:end+1]
			rest = strings.TrimPrefix(rest[end+2:], "\n")

			switch tag {
			case markerFile:
				path, open, lines = value, true, 0
			case markerStatus:
				if open && value == "0" && lines == 0 {
					matches = append(matches, Match{Path: path})
				}
				open = false
			default:
				malformed = append(malformed, value)
			}
			continue
		}

		line := rest
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			line, rest = rest[:nl], rest[nl+1:]
		} else {
			rest = ""
		}
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}

		if m, ok := parseLine(line); ok && open {
			m.Path = path
			matches = append(matches, m)
			lines++
			continue
		}
		malformed = append(malformed, line)
	}
	return matches, malformed
}

// parseLine splits "<line>:<text>".
func parseLine(line string) (Match, bool) {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(line) || line[i] != ':' {
		return Match{}, false
	}
	n, err := strconv.Atoi(line[:i])
	if err != nil || n < 1 {
		return Match{}, false
	}
	return Match{Line: n, Text: line[i+1:]}, true
}

// Classification is the outcome of one remote search.
type Classification struct {
	Outcome   Outcome
	Matches   []Match
	Malformed []string
	// Err is set iff Outcome is Failed.
	Err *Error
}

// Classify applies the grep exit-code contract: 0 is a match, a code in
// noMatchCodes with no matches is a clean miss, and anything else is an
// execution error. Exit 0 with no output is the empty glob and a clean miss;
// exit 0 with output that holds no match is an execution error, never a
// miss. An empty noMatchCodes means DefaultNoMatchCodes.
func Classify(exitCode int, stdout, stderr string, noMatchCodes []int) Classification {
	if len(noMatchCodes) == 0 {
		noMatchCodes = DefaultNoMatchCodes
	}

	matches, malformed := ParseMatches(stdout)
	c := Classification{Matches: matches, Malformed: malformed}

	switch {
	case exitCode == 0 && len(matches) > 0:
		c.Outcome = Matched
	case exitCode == 0 && stdout == "":
		c.Outcome = NoMatch
	case exitCode == 0:
		c.Outcome = Failed
		c.Err = NewError(ExecutionError, exitDetail(exitCode, "no match in grep output"), nil)
	case slices.Contains(noMatchCodes, exitCode) && len(matches) == 0:
		c.Outcome = NoMatch
	default:
		c.Outcome = Failed
		c.Matches = nil
		c.Err = NewError(ExecutionError, exitDetail(exitCode, stderr), nil)
	}
	return c
}

func exitDetail(code int, stderr string) string {
	detail := fmt.Sprintf("exit status %d", code)
	if line := firstLine(stderr); line != "" {
		detail += ": " + line
	}
	return detail
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
