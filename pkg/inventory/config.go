package inventory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as "45s" or "2m" in the settings file.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if v <= 0 {
		return fmt.Errorf("duration must be positive, got %s", text)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) String() string { return time.Duration(d).String() }

// Config is the settings file, ~/.rgrep/config.toml by default.
type Config struct {
	SSH    SSHConfig    `toml:"ssh"`
	Search SearchConfig `toml:"search"`
	Log    LogConfig    `toml:"log"`
	Hosts  []Host       `toml:"hosts"`
}

// LogConfig is the [log] table.
type LogConfig struct {
	Level    string `toml:"level"`  // debug, info, warn, error
	Output   string `toml:"output"` // stdout, stderr, or file path
	NoColor  bool   `toml:"no_color"`
	ShowTime bool   `toml:"show_time"`
}

// SSHConfig is the [ssh] table.
type SSHConfig struct {
	KnownHostsPath string   `toml:"known_hosts"`
	StrictHostKey  bool     `toml:"strict_host_key"` // reject unknown hosts instead of recording them
	ConnectTimeout Duration `toml:"connect_timeout"` // dial plus handshake
}

// SearchConfig is the [search] table: defaults for every run.
type SearchConfig struct {
	HostsFile     string   `toml:"hosts_file"`
	Parallel      int      `toml:"parallel"`
	Timeout       Duration `toml:"timeout"` // per host
	Shell         string   `toml:"shell"`
	Grep          string   `toml:"grep"`
	CaseSensitive bool     `toml:"case_sensitive"`
	TextMode      bool     `toml:"text_mode"` // grep -a
	NoMatchCodes  []int    `toml:"no_match_codes"`
	Dest          string   `toml:"dest"`
	Retries       int      `toml:"retries"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		SSH: SSHConfig{
			KnownHostsPath: "~/.ssh/known_hosts",
			ConnectTimeout: Duration(30 * time.Second),
		},
		Search: SearchConfig{
			Parallel:     4,
			Timeout:      Duration(120 * time.Second),
			Shell:        "/bin/sh",
			Grep:         "grep",
			TextMode:     true,
			NoMatchCodes: []int{1},
			Dest:         "downloads",
		},
		Log: LogConfig{
			Level:  "info",
			Output: "stderr",
		},
	}
}

// Inventory holds the settings and inline host descriptors for one run.
type Inventory struct {
	mu     sync.RWMutex
	config *Config
	path   string
}

// New reads the settings file at configPath. An empty path means
// ~/.rgrep/config.toml; a missing file leaves the defaults in place.
func New(configPath string) (*Inventory, error) {
	if configPath == "" {
		configPath = "~/.rgrep/config.toml"
	}
	inv := &Inventory{config: DefaultConfig(), path: ExpandPath(configPath)}

	err := inv.Load()
	if errors.Is(err, os.ErrNotExist) {
		return inv, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings %s: %w", inv.path, err)
	}
	return inv, nil
}

// Load re-reads the settings file. Keys it leaves out keep their defaults.
func (inv *Inventory) Load() error {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(inv.path, cfg); err != nil {
		return err
	}
	Normalize(cfg.Hosts)

	inv.mu.Lock()
	inv.config = cfg
	inv.mu.Unlock()
	return nil
}

// Settings returns the loaded configuration. Callers must not modify it.
func (inv *Inventory) Settings() *Config {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.config
}

// Path returns the settings file path.
func (inv *Inventory) Path() string {
	return inv.path
}

// Hosts returns the host descriptors for a run. hostsFile wins over the
// settings' hosts_file, which wins over inline [[hosts]] tables.
func (inv *Inventory) Hosts(hostsFile string) ([]Host, error) {
	cfg := inv.Settings()
	if hostsFile == "" {
		hostsFile = cfg.Search.HostsFile
	}
	if hostsFile != "" {
		return LoadHosts(ExpandPath(hostsFile))
	}
	return append([]Host(nil), cfg.Hosts...), nil
}

// Parallelism returns the configured worker count.
func (inv *Inventory) Parallelism() int {
	return inv.Settings().Search.Parallel
}

// HostTimeout returns the per-host deadline.
func (inv *Inventory) HostTimeout() time.Duration {
	return time.Duration(inv.Settings().Search.Timeout)
}

// ConnectTimeout returns the bound on dial plus handshake.
func (inv *Inventory) ConnectTimeout() time.Duration {
	return time.Duration(inv.Settings().SSH.ConnectTimeout)
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(path string) string {
	if path == "~" || len(path) > 1 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
