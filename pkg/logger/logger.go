// Package logger is the leveled logger used by every rgrep package.
//
// Lines look like
//
//	2024-03-01 10:00:00 [WARN ] host=web-1 kind=auth_failed run=3f2b6c1e permission denied
//
// Fields are sorted by key so lines from concurrent workers line up when
// grepped. An Entry can mask strings, such as passwords, in every line it
// writes.
package logger

import (
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the log level
type LogLevel int

const (
	// DEBUG level for detailed debugging information
	DEBUG LogLevel = iota
	// INFO level for general informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
)

const mask = "******"

// Colors for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorGray   = "\033[90m"
)

var levelNames = [...]struct {
	label string
	color string
}{
	DEBUG: {"DEBUG", colorGray},
	INFO:  {"INFO ", colorGreen},
	WARN:  {"WARN ", colorYellow},
	ERROR: {"ERROR", colorRed},
}

// String returns the string representation of the log level
func (l LogLevel) String() string {
	if l < DEBUG || l > ERROR {
		return "UNKNOWN"
	}
	return strings.TrimSpace(levelNames[l].label)
}

// ParseLogLevel parses a string to LogLevel; anything unknown is INFO.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger is a leveled logger. It is safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	level    LogLevel
	output   io.Writer
	noColor  bool
	showTime bool
}

// Config holds logger configuration
type Config struct {
	Level    string
	Output   string // "stdout", "stderr", or file path
	NoColor  bool
	ShowTime bool
}

// New creates a logger. Output defaults to stderr so log lines never mix
// with the report on stdout. An output file that cannot be opened falls back
// to stderr.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = &Config{}
	}

	l := &Logger{
		level:    INFO,
		output:   os.Stderr,
		noColor:  cfg.NoColor,
		showTime: cfg.ShowTime,
	}
	if cfg.Level != "" {
		l.level = ParseLogLevel(cfg.Level)
	}

	switch cfg.Output {
	case "", "stderr":
	case "stdout":
		l.output = os.Stdout
	default:
		if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			l.output = f
			l.noColor = true
		}
	}

	if f, ok := l.output.(*os.File); ok && !l.noColor {
		l.noColor = !isTerminal(f.Fd())
	}
	return l
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{level: ERROR + 1, output: io.Discard, noColor: true}
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput sets the output writer. Colour is kept only for files.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	if _, ok := w.(*os.File); !ok {
		l.noColor = true
	}
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level
}

func (l *Logger) write(level LogLevel, fields, msg string, redact *strings.Replacer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}
	if redact != nil {
		fields, msg = redact.Replace(fields), redact.Replace(msg)
	}

	var b strings.Builder
	if l.showTime {
		b.WriteString(time.Now().Format("2006-01-02 15:04:05"))
		b.WriteByte(' ')
	}

	name := levelNames[level]
	if l.noColor {
		b.WriteString("[" + name.label + "] ")
	} else {
		b.WriteString("[" + name.color + name.label + colorReset + "] ")
	}
	if fields != "" {
		b.WriteString(fields)
		b.WriteByte(' ')
	}
	b.WriteString(msg)
	b.WriteByte('\n')
	io.WriteString(l.output, b.String())
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(DEBUG, "", fmt.Sprintf(format, args...), nil)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(INFO, "", fmt.Sprintf(format, args...), nil)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(WARN, "", fmt.Sprintf(format, args...), nil)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(ERROR, "", fmt.Sprintf(format, args...), nil)
}

// WithField returns a log entry with fields
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: map[string]interface{}{key: value}}
}

// WithFields returns a log entry with multiple fields
func (l *Logger) WithFields(fields map[string]interface{}) *Entry {
	e := &Entry{logger: l, fields: make(map[string]interface{}, len(fields))}
	for k, v := range fields {
		e.fields[k] = v
	}
	return e
}

// Entry is a logger bound to a set of fields and, optionally, to strings it
// masks. Entries are immutable.
type Entry struct {
	logger  *Logger
	fields  map[string]interface{}
	secrets []string
	redact  *strings.Replacer
}

// WithField returns a copy of the entry with one more field.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	fields := make(map[string]interface{}, len(e.fields)+1)
	for k, v := range e.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Entry{logger: e.logger, fields: fields, secrets: e.secrets, redact: e.redact}
}

// Redact returns a copy of the entry that writes every non-empty s as
// "******". Entries derived from the copy mask them too; the Logger and
// other entries do not.
func (e *Entry) Redact(secrets ...string) *Entry {
	merged := append([]string(nil), e.secrets...)
	for _, s := range secrets {
		if s != "" && !slices.Contains(merged, s) {
			merged = append(merged, s)
		}
	}
	c := &Entry{logger: e.logger, fields: e.fields, secrets: merged, redact: e.redact}
	if len(merged) == len(e.secrets) {
		return c
	}

	// Longest first, so a secret that contains another is masked whole.
	sorted := slices.Clone(merged)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	pairs := make([]string, 0, 2*len(sorted))
	for _, s := range sorted {
		pairs = append(pairs, s, mask)
	}
	c.redact = strings.NewReplacer(pairs...)
	return c
}

// Debug logs a debug message with fields
func (e *Entry) Debug(format string, args ...interface{}) {
	e.log(DEBUG, format, args...)
}

// Info logs an info message with fields
func (e *Entry) Info(format string, args ...interface{}) {
	e.log(INFO, format, args...)
}

// Warn logs a warning message with fields
func (e *Entry) Warn(format string, args ...interface{}) {
	e.log(WARN, format, args...)
}

// Error logs an error message with fields
func (e *Entry) Error(format string, args ...interface{}) {
	e.log(ERROR, format, args...)
}

func (e *Entry) log(level LogLevel, format string, args ...interface{}) {
	if !e.logger.Enabled(level) {
		return
	}
	e.logger.write(level, formatFields(e.fields), fmt.Sprintf(format, args...), e.redact)
}

// formatFields renders key=value pairs sorted by key. Values with spaces,
// quotes or '=' are quoted.
func formatFields(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		v := fmt.Sprint(fields[k])
		if v == "" || strings.ContainsAny(v, " \t\"=") {
			v = strconv.Quote(v)
		}
		parts[i] = k + "=" + v
	}
	return strings.Join(parts, " ")
}
