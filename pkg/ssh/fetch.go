package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Fetch downloads remote to local over SFTP, or by streaming cat over an
// exec channel when the server has no SFTP subsystem. The file is written to
// local+".part" and renamed into place only when the copy completed, so an
// interrupted transfer never leaves a truncated file at local. ctx bounds
// the whole transfer.
func (s *Session) Fetch(ctx context.Context, remote, local string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	part := local + ".part"
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	n, err := s.copyRemote(ctx, remote, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to write file: %w", cerr)
	}
	if err != nil {
		os.Remove(part)
		return n, err
	}

	if err := os.Rename(part, local); err != nil {
		os.Remove(part)
		return n, fmt.Errorf("failed to rename file: %w", err)
	}
	return n, nil
}

func (s *Session) copyRemote(ctx context.Context, remote string, w io.Writer) (int64, error) {
	sc, err := s.openSFTP()
	if err != nil {
		return s.catRemote(ctx, remote, w)
	}

	rf, err := sc.Open(remote)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", remote, err)
	}

	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := io.Copy(w, rf)
		done <- result{n, err}
	}()

	select {
	case res := <-done:
		rf.Close()
		if res.err != nil {
			return res.n, fmt.Errorf("failed to fetch %s: %w", remote, res.err)
		}
		return res.n, nil
	case <-ctx.Done():
		// Close waits for an in-flight read; the copy goroutine exits once
		// the handle or the connection is closed.
		go rf.Close()
		return 0, fmt.Errorf("fetch %s: %w: %w", remote, ErrTimeout, ctx.Err())
	}
}

// catRemote is the fallback for servers without SFTP.
func (s *Session) catRemote(ctx context.Context, remote string, w io.Writer) (int64, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return 0, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	cw := &countingWriter{w: w}
	var stderrBuf bytes.Buffer
	session.Stdout = cw
	session.Stderr = &stderrBuf

	if err := session.Start("cat -- " + quotePath(remote)); err != nil {
		return 0, fmt.Errorf("failed to start cat: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		res, err := exitResult(&bytes.Buffer{}, &stderrBuf, err)
		if err != nil {
			return cw.n, fmt.Errorf("failed to fetch %s: %w", remote, err)
		}
		if res.ExitCode != 0 {
			msg := strings.TrimSpace(stderrBuf.String())
			if i := strings.IndexByte(msg, '\n'); i >= 0 {
				msg = msg[:i]
			}
			return cw.n, fmt.Errorf("failed to fetch %s: cat exited %d: %s", remote, res.ExitCode, msg)
		}
		return cw.n, nil
	case <-ctx.Done():
		session.Close()
		<-done
		return cw.n, fmt.Errorf("fetch %s: %w: %w", remote, ErrTimeout, ctx.Err())
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// quotePath single-quotes p for a POSIX shell.
func quotePath(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}
