package executor

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestLocalPath(t *testing.T) {
	dest := filepath.FromSlash("/tmp/dl")

	tests := []struct {
		label  string
		remote string
		want   string
		err    bool
	}{
		{"web1", "/var/log/a.log", "/tmp/dl/web1/var/log/a.log", false},
		{"10.0.0.1", "logs/a.log", "/tmp/dl/10.0.0.1/logs/a.log", false},
		{"bad/label", "/a", "/tmp/dl/bad_label/a", false},
		{"..", "/a", "/tmp/dl/_/a", false},
		{"web1", "/var/../../etc/passwd", "", true},
		{"web1", "../x", "", true},
		{"web1", "/", "", true},
	}

	for _, tt := range tests {
		got, err := LocalPath(dest, tt.label, tt.remote)
		if tt.err {
			if !errors.Is(err, ErrUnsafePath) {
				t.Errorf("LocalPath(%q, %q): expected ErrUnsafePath, got %q %v", tt.label, tt.remote, got, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("LocalPath(%q, %q): %v", tt.label, tt.remote, err)
			continue
		}
		if got != filepath.FromSlash(tt.want) {
			t.Errorf("LocalPath(%q, %q) = %s, want %s", tt.label, tt.remote, got, tt.want)
		}
	}
}

func TestSanitizeLabel(t *testing.T) {
	tests := map[string]string{
		"web-01.prod": "web-01.prod",
		"a b:c":       "a_b_c",
		"":            "_",
		".":           "_",
	}
	for in, want := range tests {
		if got := SanitizeLabel(in); got != want {
			t.Errorf("SanitizeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
