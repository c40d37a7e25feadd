package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Format is a hosts file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks a format from the file extension; anything unknown is
// treated as JSON, the layout of the original hosts.json files.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// hostsDocument is the table form used by TOML and YAML files.
type hostsDocument struct {
	Hosts []Host `toml:"hosts" yaml:"hosts"`
}

// ParseHosts decodes host descriptors. JSON input is a top-level array; TOML
// uses [[hosts]] tables; YAML accepts either a list or a "hosts:" key.
// The result is normalized but not validated.
func ParseHosts(data []byte, format Format) ([]Host, error) {
	var hosts []Host

	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &hosts); err != nil {
			return nil, fmt.Errorf("failed to parse hosts json: %w", err)
		}
	case FormatTOML:
		var doc hostsDocument
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse hosts toml: %w", err)
		}
		hosts = doc.Hosts
	case FormatYAML:
		if err := yaml.Unmarshal(data, &hosts); err != nil {
			var doc hostsDocument
			if docErr := yaml.Unmarshal(data, &doc); docErr != nil {
				return nil, fmt.Errorf("failed to parse hosts yaml: %w", err)
			}
			hosts = doc.Hosts
		}
	default:
		return nil, fmt.Errorf("unsupported hosts format %q", format)
	}

	Normalize(hosts)
	return hosts, nil
}

// LoadHosts reads and parses a hosts file.
func LoadHosts(path string) ([]Host, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read hosts file: %w", err)
	}
	hosts, err := ParseHosts(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return hosts, nil
}
