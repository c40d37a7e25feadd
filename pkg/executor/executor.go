// Package executor runs a search across many hosts in parallel.
//
// A Dispatcher fans one search.Spec out to a fixed pool of workers. Each host
// is an independent task: open a session, run the search command, classify
// the output, optionally download the matched files, and close the session.
// A failure on one host is recorded in that host's result and never affects
// the others.
//
// Results are written into a slice pre-sized to the host list, one slot per
// host, so the Report is in configuration order no matter which host
// finishes first.
//
// Example Usage:
//
//	client, _ := ssh.NewClient()
//	d := executor.NewDispatcher(executor.NewSSHOpener(client),
//	    executor.WithLogger(log))
//
//	report, err := d.Run(ctx, hosts, search.Spec{
//	    Term:        "Retorno:99",
//	    PathGlob:    "/var/log/app/*.log",
//	    Timeout:     2 * time.Minute,
//	    Parallelism: 4,
//	})
package executor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liliang-cn/rgrep/pkg/inventory"
	"github.com/liliang-cn/rgrep/pkg/logger"
	"github.com/liliang-cn/rgrep/pkg/search"
	rgssh "github.com/liliang-cn/rgrep/pkg/ssh"
)

// Session is an open connection to one host.
type Session interface {
	Run(ctx context.Context, cmd string) (*rgssh.ExecResult, error)
	Fetch(ctx context.Context, remote, local string) (int64, error)
	Close() error
}

// Opener opens sessions. Implementations must be safe for concurrent use.
type Opener interface {
	Open(ctx context.Context, host inventory.Host) (Session, error)
}

type sshOpener struct {
	client *rgssh.Client
}

// NewSSHOpener adapts an SSH client to Opener.
func NewSSHOpener(client *rgssh.Client) Opener {
	return &sshOpener{client: client}
}

func (o *sshOpener) Open(ctx context.Context, host inventory.Host) (Session, error) {
	sess, err := o.client.Open(ctx, rgssh.HostSpec{
		Address:  host.Address,
		User:     host.User,
		Password: host.Password.Reveal(),
		Port:     host.Port,
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// StartFunc is called when a worker picks up host i.
type StartFunc func(i int, host inventory.Host)

// ResultFunc is called when host i has its final result.
type ResultFunc func(i int, result search.HostResult)

// BackoffFunc returns the wait before connection attempt n+1.
type BackoffFunc func(n int) time.Duration

// Dispatcher handles parallel execution
type Dispatcher struct {
	opener     Opener
	logger     *logger.Logger
	downloader *Downloader
	backoff    BackoffFunc
	onStart    StartFunc
	onResult   ResultFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDownloader replaces the default Downloader.
func WithDownloader(dl *Downloader) Option {
	return func(d *Dispatcher) {
		if dl != nil {
			d.downloader = dl
		}
	}
}

// WithHooks registers progress callbacks. They are called from worker
// goroutines and must be safe for concurrent use. Either may be nil.
func WithHooks(onStart StartFunc, onResult ResultFunc) Option {
	return func(d *Dispatcher) {
		d.onStart = onStart
		d.onResult = onResult
	}
}

// WithBackoff replaces the retry backoff.
func WithBackoff(b BackoffFunc) Option {
	return func(d *Dispatcher) {
		if b != nil {
			d.backoff = b
		}
	}
}

// NewDispatcher creates a dispatcher that opens sessions with opener.
func NewDispatcher(opener Opener, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		opener:  opener,
		logger:  logger.Discard(),
		backoff: ExponentialBackoff,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.downloader == nil {
		d.downloader = NewDownloader(d.logger)
	}
	return d
}

// ExponentialBackoff doubles from 500ms up to 10s, plus up to 250ms jitter.
func ExponentialBackoff(n int) time.Duration {
	base := 500 * time.Millisecond << min(n-1, 5)
	if base > 10*time.Second {
		base = 10 * time.Second
	}
	return base + time.Duration(rand.Int64N(int64(250*time.Millisecond)))
}

// Run searches every host and returns one result per host, in the order of
// hosts. An invalid spec or host list is returned as a *search.ConfigError
// before any host is contacted. Per-host failures are never returned as an
// error; they are in the report.
//
// Cancelling ctx stops the run early: hosts not yet finished are recorded as
// Failed(ExecutionTimeout).
func (d *Dispatcher) Run(ctx context.Context, hosts []inventory.Host, spec search.Spec) (*search.Report, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	hosts = append([]inventory.Host(nil), hosts...)
	inventory.Normalize(hosts)
	if err := search.ValidateHosts(hosts); err != nil {
		return nil, err
	}

	spec = spec.WithDefaults()
	report := &search.Report{
		RunID:   uuid.NewString(),
		Started: time.Now(),
		Results: make([]search.HostResult, len(hosts)),
	}
	if len(hosts) == 0 {
		report.Finished = time.Now()
		return report, nil
	}

	passwords := make([]string, len(hosts))
	for i, h := range hosts {
		passwords[i] = h.Password.Reveal()
	}
	log := d.logger.WithField("run", report.RunID[:8]).Redact(passwords...)
	cmd := search.BuildCommand(spec)
	workers := min(spec.Parallelism, len(hosts))

	log.Info("searching %d hosts with %d workers", len(hosts), workers)
	log.Debug("remote command: %s", cmd)

	jobs := make(chan int, len(hosts))
	for i := range hosts {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				report.Results[i] = d.runHost(ctx, log, i, hosts[i], spec, cmd)
			}
		}()
	}
	wg.Wait()

	report.Finished = time.Now()
	log.Info("finished in %v", report.Elapsed().Round(time.Millisecond))
	return report, nil
}

// runHost produces the final result for one host. It never panics.
func (d *Dispatcher) runHost(ctx context.Context, runLog *logger.Entry, i int, host inventory.Host, spec search.Spec, cmd string) (res search.HostResult) {
	start := time.Now()
	log := runLog.WithField("host", host.Label())
	res = search.HostResult{Host: host}

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic: %v", r)
			res.Fail(search.NewError(search.ExecutionError, fmt.Sprintf("panic: %v", r), nil))
		}
		res.Duration = time.Since(start)
		if d.onResult != nil {
			d.onResult(i, res)
		}
	}()

	if d.onStart != nil {
		d.onStart(i, host)
	}

	if err := ctx.Err(); err != nil {
		res.Fail(search.NewError(search.ExecutionTimeout, err.Error(), err))
		return res
	}

	log.Debug("connecting to %s:%d", host.Address, host.Port)
	sess, attempts, err := d.open(ctx, log, host, spec)
	res.Attempts = attempts
	if err != nil {
		res.Fail(classify(err, search.ConnectionUnreachable))
		log.WithField("kind", res.Err.Kind).Warn("%s", res.Err.Detail)
		return res
	}
	defer sess.Close()

	runCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	out, err := sess.Run(runCtx, cmd)
	cancel()
	if out != nil {
		res.ExitCode = out.ExitCode
		res.Stderr = string(out.Stderr)
	}
	if err != nil {
		res.Fail(classify(err, search.ExecutionError))
		log.WithField("kind", res.Err.Kind).Warn("%s", res.Err.Detail)
		return res
	}

	c := search.Classify(out.ExitCode, string(out.Stdout), string(out.Stderr), spec.NoMatchCodes)
	for _, line := range c.Malformed {
		log.Debug("unparsed output line: %q", line)
	}
	res.Outcome = c.Outcome
	res.Matches = c.Matches
	res.Err = c.Err

	switch res.Outcome {
	case search.Matched:
		log.Info("%d matching lines", len(res.Matches))
	case search.NoMatch:
		log.Debug("no match")
	case search.Failed:
		log.WithField("kind", res.Err.Kind).Warn("%s", res.Err.Detail)
	}

	if res.Outcome == search.Matched && spec.Download {
		res.Downloads, res.DownloadErrors = d.downloader.Fetch(ctx, log, sess, host,
			search.DistinctFiles(res.Matches), spec.DestinationDir, spec.Timeout)
	}

	return res
}

// open connects with up to spec.Retries extra attempts. Only unreachable
// hosts are retried; a rejected password or a timeout is final.
func (d *Dispatcher) open(ctx context.Context, log *logger.Entry, host inventory.Host, spec search.Spec) (Session, int, error) {
	var lastErr error
	attempt := 0
	for attempt < spec.Retries+1 {
		if attempt > 0 {
			wait := d.backoff(attempt)
			log.WithField("attempt", attempt+1).Warn("retrying in %v: %v", wait.Round(time.Millisecond), lastErr)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, attempt, fmt.Errorf("%w: %w", rgssh.ErrTimeout, ctx.Err())
			case <-timer.C:
			}
		}
		attempt++

		openCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
		sess, err := d.opener.Open(openCtx, host)
		cancel()
		if err == nil {
			return sess, attempt, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, attempt, lastErr
}
