// Package search holds the search data model and the remote side of the
// search: building the shell command that runs grep on a host, and turning
// its output and exit status into an outcome.
package search

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/liliang-cn/rgrep/pkg/inventory"
)

// Defaults for the fields a caller may leave empty.
const (
	DefaultShell = "/bin/sh"
	DefaultGrep  = "grep"
)

// DefaultNoMatchCodes is the POSIX grep contract: 1 means nothing matched.
var DefaultNoMatchCodes = []int{1}

// Spec describes one search run. It is read-only once the run starts.
type Spec struct {
	// Term is matched literally (grep -F), never as a regex.
	Term string `json:"term" validate:"required"`
	// PathGlob is expanded by the remote shell.
	PathGlob string `json:"path" validate:"required"`
	// CaseSensitive turns off the default case-insensitive match.
	CaseSensitive bool `json:"case_sensitive"`
	// Timeout bounds each blocking step on a host: connect, search, and
	// each file transfer.
	Timeout time.Duration `json:"timeout" validate:"gt=0"`
	// Parallelism is the worker count.
	Parallelism int `json:"parallelism"`

	Download       bool   `json:"download"`
	DestinationDir string `json:"destination_dir,omitempty"`

	// Shell runs the search script on the remote host.
	Shell string `json:"shell,omitempty"`
	// Grep is the grep binary, e.g. /usr/xpg4/bin/grep on Solaris.
	Grep string `json:"grep,omitempty"`
	// TextMode passes -a so files grep takes for binary report their
	// matching lines. Leave it off for greps without -a.
	TextMode bool `json:"text_mode"`
	// NoMatchCodes are exit statuses meaning "nothing found" rather than
	// an error. Empty means DefaultNoMatchCodes.
	NoMatchCodes []int `json:"no_match_codes,omitempty" validate:"dive,min=1,max=255"`
	// Retries is how many extra connection attempts an unreachable host gets.
	Retries int `json:"retries" validate:"min=0"`
}

// WithDefaults returns a copy with empty optional fields filled in.
// Parallelism and Timeout are left alone: zero is a configuration error,
// not a default.
func (s Spec) WithDefaults() Spec {
	if s.Shell == "" {
		s.Shell = DefaultShell
	}
	if s.Grep == "" {
		s.Grep = DefaultGrep
	}
	if len(s.NoMatchCodes) == 0 {
		s.NoMatchCodes = append([]int(nil), DefaultNoMatchCodes...)
	}
	return s
}

// Validate checks the spec. The result is a *ConfigError.
func (s Spec) Validate() error {
	if s.Parallelism < 1 {
		return NewConfigError(ConfigInvalidParallelism,
			fmt.Errorf("parallelism must be at least 1, got %d", s.Parallelism))
	}

	if strings.ContainsAny(s.Term, "\r\n") {
		return NewConfigError(ConfigInvalidSearch, errors.New("search term must be a single line"))
	}
	if strings.ContainsAny(s.PathGlob, "\r\n") {
		return NewConfigError(ConfigInvalidSearch, errors.New("path glob must be a single line"))
	}
	for _, code := range s.NoMatchCodes {
		if code == 0 {
			return NewConfigError(ConfigInvalidSearch, errors.New("exit code 0 cannot mean no match"))
		}
	}

	if err := inventory.Validator().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q check", fe.Namespace(), fe.Tag()))
			}
			return NewConfigError(ConfigInvalidSearch, errors.New(strings.Join(msgs, "; ")))
		}
		return NewConfigError(ConfigInvalidSearch, err)
	}

	if s.Download && s.DestinationDir == "" {
		return NewConfigError(ConfigInvalidSearch, errors.New("download requested without a destination directory"))
	}

	return nil
}

// ValidateHosts wraps inventory validation in a *ConfigError.
func ValidateHosts(hosts []inventory.Host) error {
	if err := inventory.ValidateHosts(hosts); err != nil {
		return NewConfigError(ConfigInvalidHost, err)
	}
	return nil
}
