package search

import (
	"errors"
	"fmt"
)

// Kind classifies why a host failed or a run was rejected.
type Kind int

const (
	// KindNone is the zero value; no error.
	KindNone Kind = iota
	// ConnectionUnreachable: the host could not be reached or the SSH
	// handshake failed for a reason other than credentials.
	ConnectionUnreachable
	// ConnectionAuthFailed: the host was reached and rejected the credentials.
	ConnectionAuthFailed
	// ExecutionTimeout: connecting or running the search exceeded the timeout.
	ExecutionTimeout
	// ExecutionError: the remote search exited with an error code or the
	// channel broke.
	ExecutionError
	// DownloadError: one file could not be transferred.
	DownloadError
	// ConfigInvalidHost: a host descriptor failed validation.
	ConfigInvalidHost
	// ConfigInvalidParallelism: parallelism below 1.
	ConfigInvalidParallelism
	// ConfigInvalidSearch: term, glob, timeout or codes are unusable.
	ConfigInvalidSearch
)

var kindNames = map[Kind]string{
	KindNone:                 "none",
	ConnectionUnreachable:    "unreachable",
	ConnectionAuthFailed:     "auth_failed",
	ExecutionTimeout:         "timeout",
	ExecutionError:           "execution_error",
	DownloadError:            "download_error",
	ConfigInvalidHost:        "invalid_host",
	ConfigInvalidParallelism: "invalid_parallelism",
	ConfigInvalidSearch:      "invalid_search",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText renders the kind by name in JSON reports.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// IsConnection reports whether k is one of the connection subkinds.
func (k Kind) IsConnection() bool {
	return k == ConnectionUnreachable || k == ConnectionAuthFailed
}

// IsConfig reports whether k is one of the configuration subkinds.
func (k Kind) IsConfig() bool {
	return k == ConfigInvalidHost || k == ConfigInvalidParallelism || k == ConfigInvalidSearch
}

// Error is a classified failure. Detail is safe to show to users and never
// carries credentials.
type Error struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
	Err    error  `json:"-"`
}

// NewError builds a classified error.
func NewError(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

// ConfigError rejects a run before any host is contacted.
type ConfigError struct {
	Kind Kind
	Err  error
}

// NewConfigError builds a configuration error of the given kind.
func NewConfigError(kind Kind, err error) *ConfigError {
	return &ConfigError{Kind: kind, Err: err}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error (%s): %v", e.Kind, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is (or wraps) a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
