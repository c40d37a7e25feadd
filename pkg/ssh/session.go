package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

var errSessionClosed = errors.New("session closed")

// killGrace is how long Run waits for a killed command's channel to drain.
const killGrace = 100 * time.Millisecond

// Session is an authenticated connection to one host. Run and Fetch may be
// called concurrently; each opens its own channel.
type Session struct {
	client *ssh.Client
	addr   string

	sftpOnce   sync.Once
	sftpClient *sftp.Client
	sftpErr    error

	closeOnce sync.Once
	closeErr  error
}

func newSession(client *ssh.Client, addr string) *Session {
	return &Session{client: client, addr: addr}
}

// Addr returns the host:port the session is connected to.
func (s *Session) Addr() string {
	return s.addr
}

// ExecResult contains the result of executing a command on a remote host.
type ExecResult struct {
	// Stdout contains the standard output from the command.
	Stdout []byte
	// Stderr contains the standard error output from the command.
	Stderr []byte
	// ExitCode is the exit status returned by the command.
	ExitCode int
}

// Run executes cmd on a new channel. A non-zero exit status is reported in
// ExecResult.ExitCode, not as an error. When ctx ends first the remote
// process is sent SIGKILL, the channel is closed, and the error wraps
// ErrTimeout; the result then holds whatever output arrived.
func (s *Session) Run(ctx context.Context, cmd string) (*ExecResult, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	if err := session.Start(cmd); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return exitResult(&stdoutBuf, &stderrBuf, err)
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		timeoutErr := fmt.Errorf("command on %s: %w: %w", s.addr, ErrTimeout, ctx.Err())
		select {
		case <-done:
			// Wait has returned, so the buffers are no longer written to.
			return &ExecResult{
				Stdout:   stdoutBuf.Bytes(),
				Stderr:   stderrBuf.Bytes(),
				ExitCode: -1,
			}, timeoutErr
		case <-time.After(killGrace):
			return &ExecResult{ExitCode: -1}, timeoutErr
		}
	}
}

func exitResult(stdout, stderr *bytes.Buffer, err error) (*ExecResult, error) {
	result := &ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return result, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		if sig := exitErr.Signal(); sig != "" {
			result.ExitCode = -1
			return result, fmt.Errorf("remote command killed by signal %s", sig)
		}
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	}

	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		result.ExitCode = -1
		return result, errors.New("remote command exited without status")
	}

	result.ExitCode = -1
	return result, fmt.Errorf("remote command failed: %w", err)
}

// openSFTP returns the session's SFTP client, starting the subsystem on
// first use. A server without the subsystem yields a persistent error.
func (s *Session) openSFTP() (*sftp.Client, error) {
	s.sftpOnce.Do(func() {
		s.sftpClient, s.sftpErr = sftp.NewClient(s.client)
	})
	return s.sftpClient, s.sftpErr
}

// Close closes the SFTP client and the connection. It is safe to call more
// than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.sftpOnce.Do(func() { s.sftpErr = errSessionClosed })
		if s.sftpClient != nil {
			s.sftpClient.Close()
		}
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}
