// Package ssh opens password-authenticated SSH sessions and runs commands and
// file transfers over them.
//
// A Client holds what is shared across hosts: host key verification and the
// connect timeout. Client.Open dials one host and returns a Session; a
// Session multiplexes any number of command channels and one SFTP client
// over a single connection until it is closed.
//
// Example Usage:
//
//	client, err := ssh.NewClient(ssh.WithConnectTimeout(10 * time.Second))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sess, err := client.Open(ctx, ssh.HostSpec{
//	    Address:  "10.0.0.5",
//	    User:     "ops",
//	    Password: "secret",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Close()
//
//	res, err := sess.Run(ctx, "uname -a")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(string(res.Stdout))
//
// Errors from Open and Run wrap one of ErrUnreachable, ErrAuthFailed,
// ErrTimeout, ErrHostKeyUnknown or ErrHostKeyChanged, so callers classify
// them with errors.Is. No error text ever contains the password.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// DefaultConnectTimeout bounds dial plus handshake when the caller's context
// has no earlier deadline.
const DefaultConnectTimeout = 30 * time.Second

var (
	// ErrUnreachable is returned when the host cannot be dialed or the SSH
	// handshake fails for a reason other than credentials.
	ErrUnreachable = errors.New("host unreachable")
	// ErrAuthFailed is returned when the server rejects the credentials.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrTimeout is returned when connecting or running a command outlives
	// its deadline.
	ErrTimeout = errors.New("timed out")
)

// Client opens sessions to remote hosts. Client is safe for concurrent use.
type Client struct {
	hostKeyCallback ssh.HostKeyCallback
	connectTimeout  time.Duration
	dialer          net.Dialer
}

// HostSpec defines the parameters for connecting to a remote host.
type HostSpec struct {
	// Address is the hostname or IP address of the remote host.
	Address string
	// User is the SSH username for authentication.
	User string
	// Password is used for both password and keyboard-interactive auth.
	Password string
	// Port is the SSH port number; 0 means 22.
	Port int
}

// Addr returns host:port.
func (h HostSpec) Addr() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(h.Address, strconv.Itoa(port))
}

// ClientOption configures a Client during creation.
type ClientOption func(*clientConfig)

type clientConfig struct {
	knownHostsPath string
	strictHostKey  bool
	connectTimeout time.Duration
}

// WithKnownHosts sets the path to the known_hosts file.
func WithKnownHosts(path string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.knownHostsPath = path
	}
}

// WithStrictHostKey enables strict host key checking.
// When true, connections to unknown hosts will be rejected.
// When false (default), unknown host keys will be automatically added.
func WithStrictHostKey(strict bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.strictHostKey = strict
	}
}

// WithConnectTimeout bounds dial plus handshake. Zero keeps the default.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if d > 0 {
			cfg.connectTimeout = d
		}
	}
}

// NewClient creates a new SSH client.
// By default, it uses AutoAdd mode for host key verification (unknown hosts
// are accepted and added to known_hosts).
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	keys, err := OpenHostKeyStore(cfg.knownHostsPath, !cfg.strictHostKey)
	if err != nil {
		return nil, err
	}

	return &Client{
		hostKeyCallback: keys.Check,
		connectTimeout:  cfg.connectTimeout,
	}, nil
}

// Open dials spec and authenticates. Dial and handshake are bounded by the
// earlier of ctx's deadline and the client's connect timeout; cancelling ctx
// aborts a handshake in progress.
func (c *Client) Open(ctx context.Context, spec HostSpec) (*Session, error) {
	addr := spec.Addr()

	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyConnectError(ctx, addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// A past deadline unblocks any read or write stuck in the handshake.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	config := &ssh.ClientConfig{
		User: spec.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(spec.Password),
			ssh.KeyboardInteractive(answerWithPassword(spec.Password)),
		},
		HostKeyCallback: c.hostKeyCallback,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	stopped := stop()
	if err != nil {
		conn.Close()
		return nil, classifyConnectError(ctx, addr, err)
	}
	if !stopped {
		// ctx fired after the handshake finished but before stop; the
		// connection already carries a past deadline.
		sshConn.Close()
		return nil, classifyConnectError(ctx, addr, ctx.Err())
	}
	_ = conn.SetDeadline(time.Time{})

	return newSession(ssh.NewClient(sshConn, chans, reqs), addr), nil
}

// answerWithPassword answers every keyboard-interactive prompt with the
// password, which is what Solaris and PAM password prompts expect.
func answerWithPassword(password string) ssh.KeyboardInteractiveChallenge {
	return func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = password
		}
		return answers, nil
	}
}

// classifyConnectError wraps err with the sentinel that describes it.
func classifyConnectError(ctx context.Context, addr string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("connect %s: %w: %w", addr, ErrTimeout, ctxErr)
	}

	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("connect %s: %w: %w", addr, ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("connect %s: %w: %w", addr, ErrTimeout, err)
	}

	if errors.Is(err, ErrHostKeyUnknown) || errors.Is(err, ErrHostKeyChanged) {
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	// x/crypto/ssh reports rejected credentials only as text.
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain") {
		return fmt.Errorf("connect %s: %w: %w", addr, ErrAuthFailed, err)
	}

	return fmt.Errorf("connect %s: %w: %w", addr, ErrUnreachable, err)
}
