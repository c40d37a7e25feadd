package inventory

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// alias is one Host block of an OpenSSH client config, reduced to the
// keywords that change where and as whom rgrep connects.
type alias struct {
	patterns []string
	hostName string
	port     int
	user     string
}

// matches reports whether name is selected by the block: at least one
// positive pattern matches and no negated one does.
func (a alias) matches(name string) bool {
	hit := false
	for _, p := range a.patterns {
		if neg, ok := strings.CutPrefix(p, "!"); ok {
			if neg == name || globMatch(neg, name) {
				return false
			}
			continue
		}
		if matchHostPattern(name, p) {
			hit = true
		}
	}
	return hit
}

var aliases struct {
	sync.Mutex
	path   string
	loaded bool
	blocks []alias
}

// SetSSHConfigPath points alias resolution at another file and drops the
// cache. An empty path restores ~/.ssh/config.
func SetSSHConfigPath(p string) {
	aliases.Lock()
	defer aliases.Unlock()
	aliases.path = p
	aliases.loaded = false
	aliases.blocks = nil
}

func loadAliases() ([]alias, error) {
	aliases.Lock()
	defer aliases.Unlock()
	if aliases.loaded {
		return aliases.blocks, nil
	}

	p := aliases.path
	if p == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate ssh config: %w", err)
		}
		p = filepath.Join(home, ".ssh", "config")
	}

	f, err := os.Open(p)
	switch {
	case os.IsNotExist(err):
		aliases.blocks, aliases.loaded = nil, true
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("open ssh config: %w", err)
	}
	defer f.Close()

	blocks, err := parseAliases(f)
	if err != nil {
		return nil, fmt.Errorf("read ssh config %s: %w", p, err)
	}
	aliases.blocks, aliases.loaded = blocks, true
	return blocks, nil
}

// parseAliases reads Host, HostName, Port and User. Match blocks are not
// evaluated; keywords under one are skipped.
func parseAliases(r io.Reader) ([]alias, error) {
	var (
		blocks []alias
		cur    *alias
	)
	flush := func() {
		if cur != nil && len(cur.patterns) > 0 {
			blocks = append(blocks, *cur)
		}
		cur = nil
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		// "Key=Value" is as valid as "Key Value".
		fields := strings.Fields(strings.Replace(line, "=", " ", 1))
		if len(fields) == 0 {
			continue
		}
		key, args := strings.ToLower(fields[0]), fields[1:]

		switch key {
		case "host":
			flush()
			cur = &alias{patterns: args}
		case "match":
			flush()
		}
		if cur == nil || len(args) == 0 {
			continue
		}
		switch key {
		case "hostname":
			cur.hostName = args[0]
		case "port":
			if n, err := strconv.Atoi(args[0]); err == nil {
				cur.port = n
			}
		case "user":
			cur.user = args[0]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return blocks, nil
}

// resolveAlias applies ssh config to h the way ssh does: each keyword takes
// its first value across all matching Host blocks. Explicit inventory values
// win. A host is resolved once, so a HostName is never looked up again as an
// alias of its own.
func resolveAlias(h *Host) {
	if h.aliased {
		return
	}
	h.aliased = true

	blocks, err := loadAliases()
	if err != nil {
		return
	}
	var merged alias
	for _, a := range blocks {
		if !a.matches(h.Address) {
			continue
		}
		if merged.hostName == "" {
			merged.hostName = a.hostName
		}
		if merged.port == 0 {
			merged.port = a.port
		}
		if merged.user == "" {
			merged.user = a.user
		}
	}

	if merged.hostName != "" {
		h.Address = merged.hostName
	}
	if h.Port == 0 {
		h.Port = merged.port
	}
	if h.User == "" {
		h.User = merged.user
	}
}

// matchHostPattern reports whether host matches one ssh_config pattern.
// Negated patterns never produce a positive match on their own.
func matchHostPattern(host, pattern string) bool {
	if strings.HasPrefix(pattern, "!") {
		return false
	}
	return host == pattern || globMatch(pattern, host)
}

func globMatch(pattern, name string) bool {
	if !strings.ContainsAny(pattern, "*?") {
		return false
	}
	ok, _ := path.Match(pattern, name)
	return ok
}
