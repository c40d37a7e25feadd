package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	// ErrHostKeyUnknown is returned when the host key is not in known_hosts.
	ErrHostKeyUnknown = errors.New("host key unknown")
	// ErrHostKeyChanged is returned when the host key differs from known_hosts.
	ErrHostKeyChanged = errors.New("host key changed")
)

// HostKeyStore checks server keys against a known_hosts file. Matching,
// including hashed and [host]:port entries, is x/crypto/ssh/knownhosts;
// the store adds trust on first use. One store is shared by all workers.
type HostKeyStore struct {
	path string
	tofu bool

	mu    sync.Mutex
	check ssh.HostKeyCallback
}

// OpenHostKeyStore reads path, creating the file and its directory when
// missing. An empty path means ~/.ssh/known_hosts. With tofu set, a key
// for a host that has no entry yet is appended instead of rejected.
func OpenHostKeyStore(path string, tofu bool) (*HostKeyStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	s := &HostKeyStore{path: path, tofu: tofu}
	if err := s.reload(); err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return s, nil
}

func (s *HostKeyStore) reload() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return err
	}
	f.Close()

	check, err := knownhosts.New(s.path)
	if err != nil {
		return err
	}
	s.check = check
	return nil
}

// Check is an ssh.HostKeyCallback. Mismatched and revoked keys wrap
// ErrHostKeyChanged; a missing entry wraps ErrHostKeyUnknown unless the
// store trusts on first use.
func (s *HostKeyStore) Check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(hostname, remote, key)
	if err == nil {
		return nil
	}
	host := knownhosts.Normalize(hostname)

	var revoked *knownhosts.RevokedError
	var mismatch *knownhosts.KeyError
	switch {
	case errors.As(err, &revoked):
		return fmt.Errorf("%w: %s: key is revoked", ErrHostKeyChanged, host)
	case !errors.As(err, &mismatch):
		return err
	case len(mismatch.Want) > 0:
		return fmt.Errorf("%w: %s", ErrHostKeyChanged, host)
	case !s.tofu:
		return fmt.Errorf("%w: %s", ErrHostKeyUnknown, host)
	}
	return s.remember(hostname, remote, key)
}

// remember appends key under hostname, and under the dialed address when
// that differs, then reloads the file. Callers hold s.mu.
func (s *HostKeyStore) remember(hostname string, remote net.Addr, key ssh.PublicKey) error {
	names := []string{hostname}
	if remote != nil && knownhosts.Normalize(remote.String()) != knownhosts.Normalize(hostname) {
		names = append(names, remote.String())
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("record host key: %w", err)
	}
	_, err = fmt.Fprintln(f, knownhosts.Line(names, key))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("record host key: %w", err)
	}
	return s.reload()
}
