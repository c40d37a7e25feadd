// Package sshtest runs an in-process SSH server for tests: password and
// keyboard-interactive auth, exec requests handled by a pluggable Handler,
// signal delivery, and an SFTP subsystem backed by the local filesystem.
package sshtest

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Handler runs one exec request and returns its exit status. ctx is
// cancelled when the client signals the process or closes the channel.
type Handler func(ctx context.Context, cmd string, stdout, stderr io.Writer) int

// ShellHandler runs cmd with the local /bin/sh.
func ShellHandler(ctx context.Context, cmd string, stdout, stderr io.Writer) int {
	c := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
	c.Stdout = stdout
	c.Stderr = stderr
	c.WaitDelay = 100 * time.Millisecond
	err := c.Run()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode()
	}
	return 137
}

// Server is a running test server.
type Server struct {
	// Addr is host:port of the listener.
	Addr string
	// Password is the only password accepted.
	Password string

	handler     Handler
	noSFTP      bool
	interactive bool
	config      *ssh.ServerConfig

	mu       sync.Mutex
	commands []string
	signals  []string
}

// Option configures a Server.
type Option func(*Server)

// WithPassword sets the accepted password. The default is "secret".
func WithPassword(p string) Option {
	return func(s *Server) { s.Password = p }
}

// WithHandler replaces ShellHandler.
func WithHandler(h Handler) Option {
	return func(s *Server) { s.handler = h }
}

// WithoutSFTP makes the server refuse the sftp subsystem.
func WithoutSFTP() Option {
	return func(s *Server) { s.noSFTP = true }
}

// WithKeyboardInteractiveOnly disables plain password auth and asks for the
// password through a keyboard-interactive prompt instead.
func WithKeyboardInteractiveOnly() Option {
	return func(s *Server) { s.interactive = true }
}

// NewServer starts a server on 127.0.0.1 and stops it when the test ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{Password: "secret", handler: ShellHandler}
	for _, opt := range opts {
		opt(s)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	s.config = &ssh.ServerConfig{}
	if s.interactive {
		s.config.KeyboardInteractiveCallback = func(_ ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge("", "", []string{"Password: "}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) == 1 && answers[0] == s.Password {
				return nil, nil
			}
			return nil, errors.New("access denied")
		}
	} else {
		s.config.PasswordCallback = func(_ ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == s.Password {
				return nil, nil
			}
			return nil, errors.New("access denied")
		}
	}
	s.config.AddHostKey(signer)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s.Addr = l.Addr().String()
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go s.serveConn(conn)
		}
	}()

	return s
}

// Host returns the listener's IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr)
	return host
}

// Port returns the listener's port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr)
	n, _ := strconv.Atoi(port)
	return n
}

// Commands returns the exec commands received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Signals returns the signal names received so far.
func (s *Server) Signals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.signals...)
}

func (s *Server) serveConn(c net.Conn) {
	defer c.Close()

	_, chans, reqs, err := ssh.NewServerConn(c, s.config)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.serveChannel(channel, requests)
	}
}

func (s *Server) serveChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()
			req.Reply(true, nil)

			go func() {
				status := s.handler(ctx, payload.Command, channel, channel.Stderr())
				channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
				channel.Close()
			}()
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" || s.noSFTP {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			go func() {
				server, err := sftp.NewServer(channel)
				if err != nil {
					channel.Close()
					return
				}
				server.Serve()
				server.Close()
				channel.Close()
			}()
		case "signal":
			var payload struct{ Signal string }
			if err := ssh.Unmarshal(req.Payload, &payload); err == nil {
				s.mu.Lock()
				s.signals = append(s.signals, payload.Signal)
				s.mu.Unlock()
				cancel()
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// SilentListener accepts connections and never speaks, so a client's
// handshake blocks until its deadline.
func SilentListener(t testing.TB) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var conns []net.Conn
	t.Cleanup(func() {
		l.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	return l.Addr().String()
}

// ClosedAddr returns an address nothing listens on.
func ClosedAddr(t testing.TB) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

// SplitAddr splits host:port, failing the test on error.
func SplitAddr(t testing.TB, addr string) (string, int) {
	t.Helper()

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		t.Fatal(fmt.Errorf("bad port in %s: %w", addr, err))
	}
	return host, n
}
