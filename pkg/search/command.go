package search

import (
	"fmt"
	"strconv"
	"strings"
)

// Markers framing grep's output for one file. A marker line starts with NUL,
// which never begins a grep -n line, and its value is NUL-terminated, so any
// byte but NUL may appear in a path.
const (
	markerFile   = 'P'
	markerStatus = 'E'
)

// BuildCommand renders the remote command for spec. The result is a single
// POSIX shell command line:
//
//	<shell> -c '<script>'
//
// The script lets the remote shell expand the glob and exits 0 with no
// output when nothing matched it. Otherwise it runs grep once per file:
//
//	\0P<path>\0\n
//	<line>:<text>\n ...
//	\0E<grep exit status>\0\n
//
// The script exits 0 if any file matched, with the first no-match code if
// none did, and with the last other status if grep failed on any file. The
// term is always passed as a fixed-string pattern behind -e.
//
// BuildCommand is pure; it does not validate spec.
func BuildCommand(spec Spec) string {
	spec = spec.WithDefaults()

	codes := make([]string, len(spec.NoMatchCodes))
	for i, c := range spec.NoMatchCodes {
		codes[i] = strconv.Itoa(c)
	}

	var b strings.Builder
	b.WriteString("set -- ")
	b.WriteString(quoteGlob(spec.PathGlob))
	b.WriteString(`; [ -e "$1" ] || [ -L "$1" ] || exit 0; `)
	fmt.Fprintf(&b, "rc=%s err=0; ", codes[0])
	fmt.Fprintf(&b, `for f in "$@"; do printf '\000%c%%s\000\n' "$f"; `, markerFile)
	b.WriteString("LC_ALL=C ")
	b.WriteString(shellQuote(spec.Grep))
	b.WriteString(" -n -F")
	if spec.TextMode {
		b.WriteString(" -a")
	}
	if !spec.CaseSensitive {
		b.WriteString(" -i")
	}
	b.WriteString(" -e ")
	b.WriteString(shellQuote(spec.Term))
	b.WriteString(` -- "$f"; s=$?; `)
	fmt.Fprintf(&b, `printf '\000%c%%d\000\n' "$s"; `, markerStatus)
	fmt.Fprintf(&b, `case $s in 0) rc=0 ;; %s) ;; *) err=$s ;; esac; done; `, strings.Join(codes, "|"))
	b.WriteString(`[ "$err" = 0 ] || exit "$err"; exit "$rc"`)

	return shellQuote(spec.Shell) + " -c " + shellQuote(b.String())
}

// shellQuote wraps s in single quotes. Embedded single quotes become '\''.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("/._-+=,:@%", r):
		default:
			return false
		}
	}
	return true
}

// quoteGlob quotes a path glob so the remote shell performs pathname
// expansion and nothing else. Literal runs are single-quoted; the wildcard
// characters * and ? and bracket expressions stay bare. A leading ~/ is
// kept bare so the login's home directory is substituted.
func quoteGlob(glob string) string {
	var out strings.Builder
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			out.WriteString(shellQuote(lit.String()))
			lit.Reset()
		}
	}

	rest := glob
	if strings.HasPrefix(rest, "~/") {
		out.WriteString("~/")
		rest = rest[2:]
	} else if rest == "~" {
		return "~"
	}

	for i := 0; i < len(rest); i++ {
		c := rest[i]
		switch c {
		case '*', '?':
			flush()
			out.WriteByte(c)
		case '[':
			end := bracketEnd(rest, i)
			if end < 0 {
				lit.WriteByte(c)
				continue
			}
			flush()
			out.WriteString(quoteBracket(rest[i+1 : end]))
			i = end
		default:
			lit.WriteByte(c)
		}
	}
	flush()

	if out.Len() == 0 {
		return "''"
	}
	return out.String()
}

// bracketEnd returns the index of the ']' closing the bracket expression
// opening at glob[start], or -1 if it is not closed. A ']' directly after
// the opening bracket (or after a leading negation) is a member, and
// character classes such as [:digit:] are skipped whole.
func bracketEnd(glob string, start int) int {
	i := start + 1
	if i < len(glob) && (glob[i] == '!' || glob[i] == '^') {
		i++
	}
	if i < len(glob) && glob[i] == ']' {
		i++
	}
	for ; i < len(glob); i++ {
		if strings.HasPrefix(glob[i:], "[:") {
			if end := strings.Index(glob[i+2:], ":]"); end >= 0 {
				i += end + 3
				continue
			}
		}
		if glob[i] == ']' {
			return i
		}
	}
	return -1
}

// quoteBracket renders a bracket expression. Range dashes, class names and
// a leading negation stay bare; any other character outside [A-Za-z0-9._]
// is quoted on its own.
func quoteBracket(body string) string {
	var b strings.Builder
	b.WriteByte('[')
	if body != "" && (body[0] == '!' || body[0] == '^') {
		b.WriteByte('!')
		body = body[1:]
	}
	for i := 0; i < len(body); i++ {
		if strings.HasPrefix(body[i:], "[:") {
			if end := strings.Index(body[i+2:], ":]"); end >= 0 {
				class := body[i : i+end+4]
				if isClassName(class[2 : len(class)-2]) {
					b.WriteString(class)
					i += len(class) - 1
					continue
				}
			}
		}
		c := body[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
			b.WriteByte(c)
		case c == '\'':
			b.WriteString(`"'"`)
		default:
			b.WriteByte('\'')
			b.WriteByte(c)
			b.WriteByte('\'')
		}
	}
	b.WriteByte(']')
	return b.String()
}

func isClassName(name string) bool {
	switch name {
	case "alnum", "alpha", "blank", "cntrl", "digit", "graph",
		"lower", "print", "punct", "space", "upper", "xdigit":
		return true
	}
	return false
}
