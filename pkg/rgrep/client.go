// Package rgrep is the library entry point: load settings and hosts, then
// search a file glob on every host in parallel.
//
// Example Usage:
//
//	client, err := rgrep.New(nil) // reads ~/.rgrep/config.toml
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	hosts, err := client.Hosts("hosts.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	report, err := client.Search(ctx, hosts, "Retorno:99", "/var/log/app/*.log",
//	    rgrep.WithParallel(8),
//	    rgrep.WithDownload("./downloads"),
//	)
package rgrep

import (
	"context"
	"fmt"
	"time"

	"github.com/liliang-cn/rgrep/pkg/executor"
	"github.com/liliang-cn/rgrep/pkg/inventory"
	"github.com/liliang-cn/rgrep/pkg/logger"
	"github.com/liliang-cn/rgrep/pkg/search"
	rgssh "github.com/liliang-cn/rgrep/pkg/ssh"
)

// Client runs searches with one set of settings and one known_hosts store.
// It is safe for concurrent use.
type Client struct {
	inv    *inventory.Inventory
	ssh    *rgssh.Client
	logger *logger.Logger
}

// Config creates a Client. The zero value reads the default settings file.
type Config struct {
	// ConfigPath is the settings file; empty means ~/.rgrep/config.toml.
	ConfigPath string
	// Logger overrides the logger built from the [log] settings.
	Logger *logger.Logger
	// KnownHostsPath overrides the [ssh] known_hosts setting.
	KnownHostsPath string
}

// New creates a new client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	inv, err := inventory.New(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create inventory: %w", err)
	}

	return NewWithInventory(inv, cfg)
}

// NewWithInventory creates a client from already loaded settings. cfg may
// be nil; its ConfigPath is ignored.
func NewWithInventory(inv *inventory.Inventory, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	settings := inv.Settings()

	log := cfg.Logger
	if log == nil {
		log = logger.New(&logger.Config{
			Level:    settings.Log.Level,
			Output:   settings.Log.Output,
			NoColor:  settings.Log.NoColor,
			ShowTime: settings.Log.ShowTime,
		})
	}

	knownHosts := settings.SSH.KnownHostsPath
	if cfg.KnownHostsPath != "" {
		knownHosts = cfg.KnownHostsPath
	}

	sshClient, err := rgssh.NewClient(
		rgssh.WithKnownHosts(inventory.ExpandPath(knownHosts)),
		rgssh.WithStrictHostKey(settings.SSH.StrictHostKey),
		rgssh.WithConnectTimeout(inv.ConnectTimeout()),
	)
	if err != nil {
		return nil, err
	}

	return &Client{inv: inv, ssh: sshClient, logger: log}, nil
}

// Inventory returns the settings the client was built from.
func (c *Client) Inventory() *inventory.Inventory {
	return c.inv
}

// Hosts loads the host descriptors: hostsFile if set, else the settings'
// hosts_file, else the inline [[hosts]] tables.
func (c *Client) Hosts(hostsFile string) ([]inventory.Host, error) {
	return c.inv.Hosts(hostsFile)
}

// Search runs term over glob on every host and returns one result per host,
// in the order given. The settings file supplies every default an option
// does not override. A *search.ConfigError means no host was contacted.
func (c *Client) Search(ctx context.Context, hosts []inventory.Host, term, glob string, opts ...SearchOption) (*search.Report, error) {
	spec := c.DefaultSpec()
	spec.Term = term
	spec.PathGlob = glob

	o := &searchOptions{}
	for _, opt := range opts {
		opt(&spec, o)
	}

	d := executor.NewDispatcher(executor.NewSSHOpener(c.ssh),
		executor.WithLogger(c.logger),
		executor.WithHooks(o.onStart, o.onResult),
	)
	return d.Run(ctx, hosts, spec)
}

// DefaultSpec returns a spec filled from the [search] settings, without a
// term or glob.
func (c *Client) DefaultSpec() search.Spec {
	s := c.inv.Settings().Search
	return search.Spec{
		CaseSensitive:  s.CaseSensitive,
		Timeout:        c.inv.HostTimeout(),
		Parallelism:    c.inv.Parallelism(),
		DestinationDir: inventory.ExpandPath(s.Dest),
		Shell:          s.Shell,
		Grep:           s.Grep,
		TextMode:       s.TextMode,
		NoMatchCodes:   append([]int(nil), s.NoMatchCodes...),
		Retries:        s.Retries,
	}
}

// SearchOption overrides one setting for a single Search call.
type SearchOption func(*search.Spec, *searchOptions)

type searchOptions struct {
	onStart  executor.StartFunc
	onResult executor.ResultFunc
}

// WithParallel sets how many hosts are searched at once.
func WithParallel(n int) SearchOption {
	return func(s *search.Spec, _ *searchOptions) {
		s.Parallelism = n
	}
}

// WithTimeout sets the per-host timeout for connecting and for the search.
func WithTimeout(d time.Duration) SearchOption {
	return func(s *search.Spec, _ *searchOptions) {
		s.Timeout = d
	}
}

// WithCaseSensitive turns case-sensitive matching on or off.
func WithCaseSensitive(on bool) SearchOption {
	return func(s *search.Spec, _ *searchOptions) {
		s.CaseSensitive = on
	}
}

// WithTextMode turns grep's -a on or off.
func WithTextMode(on bool) SearchOption {
	return func(s *search.Spec, _ *searchOptions) {
		s.TextMode = on
	}
}

// WithDownload copies every matched file into dest/<host label>/.
func WithDownload(dest string) SearchOption {
	return func(s *search.Spec, _ *searchOptions) {
		s.Download = true
		if dest != "" {
			s.DestinationDir = inventory.ExpandPath(dest)
		}
	}
}

// WithRetries sets how many extra connection attempts an unreachable host
// gets.
func WithRetries(n int) SearchOption {
	return func(s *search.Spec, _ *searchOptions) {
		s.Retries = n
	}
}

// WithNoMatchCodes sets the exit codes that mean "no match" rather than
// failure.
func WithNoMatchCodes(codes ...int) SearchOption {
	return func(s *search.Spec, _ *searchOptions) {
		s.NoMatchCodes = codes
	}
}

// WithShell sets the remote shell and grep binary. Empty keeps the setting.
func WithShell(shell, grep string) SearchOption {
	return func(s *search.Spec, _ *searchOptions) {
		if shell != "" {
			s.Shell = shell
		}
		if grep != "" {
			s.Grep = grep
		}
	}
}

// WithProgress registers callbacks for host start and host result. They run
// on worker goroutines.
func WithProgress(onStart executor.StartFunc, onResult executor.ResultFunc) SearchOption {
	return func(_ *search.Spec, o *searchOptions) {
		o.onStart = onStart
		o.onResult = onResult
	}
}
