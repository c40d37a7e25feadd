package executor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/liliang-cn/rgrep/pkg/inventory"
	"github.com/liliang-cn/rgrep/pkg/logger"
	"github.com/liliang-cn/rgrep/pkg/search"
)

// ErrUnsafePath is returned for a remote path that would be written outside
// the host's download directory.
var ErrUnsafePath = errors.New("remote path escapes the download directory")

// Downloader copies matched files from a host into a per-host directory.
type Downloader struct {
	logger *logger.Logger
}

// NewDownloader creates a downloader that logs to l.
func NewDownloader(l *logger.Logger) *Downloader {
	if l == nil {
		l = logger.Discard()
	}
	return &Downloader{logger: l}
}

// Fetch downloads each remote path over sess. Each transfer gets its own
// timeout. A failed transfer is recorded and the rest still run; Fetch never
// fails as a whole. Progress is logged to log, or to the Downloader's own
// logger when log is nil.
func (d *Downloader) Fetch(ctx context.Context, log *logger.Entry, sess Session, host inventory.Host, paths []string, destDir string, timeout time.Duration) ([]search.Transfer, []search.TransferError) {
	if log == nil {
		log = d.logger.WithField("host", host.Label())
	}

	var transfers []search.Transfer
	var failures []search.TransferError

	fail := func(remote string, err error) {
		failures = append(failures, search.TransferError{
			RemotePath: remote,
			Err:        search.NewError(search.DownloadError, err.Error(), err),
		})
		log.WithField("path", remote).Warn("download failed: %v", err)
	}

	for _, remote := range paths {
		if err := ctx.Err(); err != nil {
			fail(remote, err)
			continue
		}

		local, err := LocalPath(destDir, host.Label(), remote)
		if err != nil {
			fail(remote, err)
			continue
		}

		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		n, err := sess.Fetch(fetchCtx, remote, local)
		cancel()
		if err != nil {
			fail(remote, err)
			continue
		}

		transfers = append(transfers, search.Transfer{RemotePath: remote, LocalPath: local, Bytes: n})
		log.Debug("downloaded %s (%d bytes)", remote, n)
	}

	if len(transfers) > 0 {
		log.Info("downloaded %d files", len(transfers))
	}
	return transfers, failures
}

// LocalPath maps a remote file to destDir/<label>/<remote path>. The label is
// sanitized into a single path element and the leading "/" of the remote
// path is dropped. A remote path with a ".." element is rejected.
func LocalPath(destDir, label, remote string) (string, error) {
	rel := strings.TrimLeft(remote, "/")
	if rel == "" {
		return "", ErrUnsafePath
	}
	for _, elem := range strings.Split(rel, "/") {
		if elem == ".." {
			return "", ErrUnsafePath
		}
	}
	return filepath.Join(destDir, SanitizeLabel(label), filepath.FromSlash(rel)), nil
}

// SanitizeLabel turns a host label into a safe directory name: characters
// outside [A-Za-z0-9._-] become '_', and "", "." and ".." become "_".
func SanitizeLabel(label string) string {
	b := []byte(label)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
		default:
			b[i] = '_'
		}
	}
	s := string(b)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
