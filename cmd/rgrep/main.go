package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/rgrep/pkg/inventory"
	"github.com/liliang-cn/rgrep/pkg/logger"
	"github.com/liliang-cn/rgrep/pkg/report"
	"github.com/liliang-cn/rgrep/pkg/rgrep"
	"github.com/liliang-cn/rgrep/pkg/search"
	"github.com/liliang-cn/rgrep/pkg/tui"
)

var (
	Version = "dev" // Set at build time

	configPath string
	logLevel   string
	noTUI      bool // Disable TUI mode, use text output
	noColor    bool
)

// exitError carries a process status out of a RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process status: 0 when no host
// failed, 1 when any host failed or the run broke, 2 on configuration errors.
func run(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	if search.IsConfigError(err) {
		return 2
	}
	return 1
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "rgrep",
		Short:   "Search files on many servers over SSH",
		Version: Version,
		Long: `rgrep - grep a file glob on many servers at once over SSH

Examples:
  rgrep search --hosts hosts.json --search 'Retorno:99' --path '/var/log/app*'
  rgrep search --hosts hosts.json --search 'ERROR' --path '/var/log/*.log' --download --dest ./logs
  rgrep search --hosts hosts.yaml --search 'timeout' --path '~/app/*.log' --format json
  rgrep hosts --hosts hosts.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: 2, err: err}
	})

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: ~/.rgrep/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use text output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	rootCmd.AddCommand(searchCmd(stdout, stderr))
	rootCmd.AddCommand(hostsCmd(stdout))
	rootCmd.AddCommand(versionCmd(stdout))

	return rootCmd
}

// getClient loads settings and builds the library client. The logger writes
// to logOut; --log-level and --no-color override the [log] settings.
func getClient(logOut io.Writer) (*rgrep.Client, *logger.Logger, error) {
	inv, err := inventory.New(configPath)
	if err != nil {
		return nil, nil, &exitError{code: 2, err: fmt.Errorf("failed to load config: %w", err)}
	}

	lc := inv.Settings().Log
	if logLevel != "" {
		lc.Level = logLevel
	}
	log := logger.New(&logger.Config{
		Level:    lc.Level,
		Output:   lc.Output,
		NoColor:  lc.NoColor || noColor,
		ShowTime: lc.ShowTime,
	})
	if lc.Output == "" || lc.Output == "stderr" {
		log.SetOutput(logOut)
	}

	client, err := rgrep.NewWithInventory(inv, &rgrep.Config{Logger: log})
	if err != nil {
		return nil, nil, &exitError{code: 2, err: err}
	}
	return client, log, nil
}

// searchCmd runs a search
func searchCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		hostsFile     string
		term          string
		glob          string
		download      bool
		dest          string
		parallel      int
		timeout       int
		caseSensitive bool
		textMode      bool
		format        string
		retries       int
		noMatchCodes  []int
		hideLines     bool
	)

	cmd := &cobra.Command{
		Use:   "search --hosts FILE --search TERM --path GLOB",
		Short: "Search a file glob on every host",
		Example: `  rgrep search --hosts hosts.json --search 'Retorno:99' --path '/var/log/app*'
  rgrep search --hosts hosts.json --search 'Retorno:99' --path '/var/log/app*' -p 8 -t 60
  rgrep search --hosts hosts.json --search 'Retorno:99' --path '/var/log/app*' --download --dest ./out`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return &exitError{code: 2, err: fmt.Errorf("unknown format %q (want text or json)", format)}
			}

			client, log, err := getClient(stderr)
			if err != nil {
				return err
			}

			hosts, err := client.Hosts(hostsFile)
			if err != nil {
				return &exitError{code: 2, err: fmt.Errorf("failed to load hosts: %w", err)}
			}

			flags := cmd.Flags()
			var opts []rgrep.SearchOption
			if flags.Changed("parallel") {
				opts = append(opts, rgrep.WithParallel(parallel))
			}
			if flags.Changed("timeout") {
				opts = append(opts, rgrep.WithTimeout(time.Duration(timeout)*time.Second))
			}
			if flags.Changed("case-sensitive") {
				opts = append(opts, rgrep.WithCaseSensitive(caseSensitive))
			}
			if flags.Changed("text-mode") {
				opts = append(opts, rgrep.WithTextMode(textMode))
			}
			if flags.Changed("retries") {
				opts = append(opts, rgrep.WithRetries(retries))
			}
			if flags.Changed("no-match-codes") {
				opts = append(opts, rgrep.WithNoMatchCodes(noMatchCodes...))
			}
			if download {
				opts = append(opts, rgrep.WithDownload(dest))
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			useTUI := !noTUI && format == "text" && len(hosts) > 1 && isTerminal(stdout)

			var r *search.Report
			if useTUI {
				// The table owns the terminal; logs would tear it.
				log.SetOutput(io.Discard)
				r, err = searchWithTUI(ctx, client, hosts, term, glob, opts)
			} else {
				progressOut := stdout
				if format == "json" {
					progressOut = stderr
				}
				r, err = searchWithLines(ctx, client, hosts, term, glob, opts, progressOut)
			}
			if err != nil {
				if search.IsConfigError(err) {
					return &exitError{code: 2, err: err}
				}
				return err
			}

			switch format {
			case "json":
				err = report.WriteJSON(stdout, r)
			default:
				err = report.WriteText(stdout, r, report.TextOptions{
					NoColor:   noColor || !isTerminal(stdout),
					HideLines: hideLines,
				})
			}
			if err != nil {
				return err
			}

			if code := report.Summarize(r).ExitCode(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&hostsFile, "hosts", "", "Hosts file: .json, .toml or .yaml (default: search.hosts_file, then [[hosts]])")
	cmd.Flags().StringVar(&term, "search", "", "Literal text to search for (required)")
	cmd.Flags().StringVar(&glob, "path", "", "Remote file glob, e.g. '/var/log/app*' (required)")
	cmd.Flags().BoolVar(&download, "download", false, "Download every file with a match")
	cmd.Flags().StringVar(&dest, "dest", "", "Download directory (default: search.dest)")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "Hosts searched at once (default: 4)")
	cmd.Flags().IntVarP(&timeout, "timeout", "t", 0, "Per-host timeout in seconds (default: 120)")
	cmd.Flags().BoolVar(&caseSensitive, "case-sensitive", false, "Match case exactly")
	cmd.Flags().BoolVar(&textMode, "text-mode", true, "Pass -a so binary files report matching lines (default: search.text_mode)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	cmd.Flags().IntVar(&retries, "retries", 0, "Extra connection attempts for unreachable hosts")
	cmd.Flags().IntSliceVar(&noMatchCodes, "no-match-codes", nil, "Remote exit codes that mean no match (default: 1)")
	cmd.Flags().BoolVar(&hideLines, "files-only", false, "Print file:line without the matching text")

	return cmd
}

// searchWithLines prints one line per host as it finishes.
func searchWithLines(ctx context.Context, client *rgrep.Client, hosts []inventory.Host, term, glob string, opts []rgrep.SearchOption, out io.Writer) (*search.Report, error) {
	fmt.Fprintf(out, "Searching %d hosts for %q in %s...\n\n", len(hosts), term, glob)

	var mu sync.Mutex
	opts = append(opts, rgrep.WithProgress(nil, func(i int, res search.HostResult) {
		mu.Lock()
		defer mu.Unlock()

		fmt.Fprintf(out, "  [%s] %s", res.Host.Label(), report.OutcomeLabel(res.Outcome))
		switch res.Outcome {
		case search.Matched:
			fmt.Fprintf(out, " (%d lines)", len(res.Matches))
		case search.Failed:
			if res.Err != nil {
				fmt.Fprintf(out, " (%s)", res.Err.Kind)
			}
		}
		fmt.Fprintf(out, " (%dms)\n", res.Duration.Milliseconds())
	}))

	r, err := client.Search(ctx, hosts, term, glob, opts...)
	if err == nil {
		fmt.Fprintln(out)
	}
	return r, err
}

// searchWithTUI drives the live table. Quitting the table cancels the hosts
// still running; their results are recorded as timeouts.
func searchWithTUI(ctx context.Context, client *rgrep.Client, hosts []inventory.Host, term, glob string, opts []rgrep.SearchOption) (*search.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := tui.NewSearchModel(hosts, term, glob)
	// Use bubbletea without altscreen for in-place updates
	program := tea.NewProgram(model, tea.WithoutSignalHandler(), tea.WithContext(ctx))

	opts = append(opts, rgrep.WithProgress(
		func(i int, _ inventory.Host) { program.Send(tui.HostStartMsg{Index: i}) },
		func(i int, res search.HostResult) { program.Send(tui.HostResultMsg{Index: i, Result: res}) },
	))

	type outcome struct {
		report *search.Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := client.Search(ctx, hosts, term, glob, opts...)
		program.Send(tui.DoneMsg{})
		done <- outcome{r, err}
	}()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-done
		return nil, err
	}
	if model.Interrupted() {
		cancel()
	}

	res := <-done
	return res.report, res.err
}

// hostsCmd lists hosts
func hostsCmd(stdout io.Writer) *cobra.Command {
	var hostsFile string

	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "List the configured hosts and search settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := getClient(io.Discard)
			if err != nil {
				return err
			}

			hosts, err := client.Hosts(hostsFile)
			if err != nil {
				return &exitError{code: 2, err: fmt.Errorf("failed to load hosts: %w", err)}
			}

			fmt.Fprintf(stdout, "Hosts (%d):\n", len(hosts))
			for _, h := range hosts {
				fmt.Fprintf(stdout, "  - %s\n", h)
			}
			fmt.Fprintln(stdout)

			if err := search.ValidateHosts(hosts); err != nil {
				fmt.Fprintf(stdout, "Invalid hosts:\n  %v\n\n", err)
			}

			inv := client.Inventory()
			config := inv.Settings()
			fmt.Fprintf(stdout, "Settings: %s\n", inv.Path())
			fmt.Fprintf(stdout, "  Parallel: %d\n", config.Search.Parallel)
			fmt.Fprintf(stdout, "  Timeout: %s\n", inv.HostTimeout())
			fmt.Fprintf(stdout, "  Connect timeout: %s\n", inv.ConnectTimeout())
			fmt.Fprintf(stdout, "  Shell: %s\n", config.Search.Shell)
			fmt.Fprintf(stdout, "  Grep: %s\n", config.Search.Grep)
			fmt.Fprintf(stdout, "  Case sensitive: %v\n", config.Search.CaseSensitive)
			fmt.Fprintf(stdout, "  Text mode: %v\n", config.Search.TextMode)
			fmt.Fprintf(stdout, "  No-match codes: %v\n", config.Search.NoMatchCodes)
			fmt.Fprintf(stdout, "  Known hosts: %s (strict: %v)\n", config.SSH.KnownHostsPath, config.SSH.StrictHostKey)

			return nil
		},
	}

	cmd.Flags().StringVar(&hostsFile, "hosts", "", "Hosts file: .json, .toml or .yaml")

	return cmd
}

// versionCmd returns version command
func versionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of rgrep",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "rgrep version %s\n", Version)
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
