package inventory

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// DefaultPort is used when neither the descriptor nor ~/.ssh/config sets one.
const DefaultPort = 22

const redacted = "******"

// Secret holds a password. It prints, logs and serializes as a fixed mask;
// Reveal is the only way to get the plain value back.
type Secret string

// Reveal returns the plain secret.
func (s Secret) Reveal() string { return string(s) }

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString implements fmt.GoStringer so %#v is masked as well.
func (s Secret) GoString() string { return fmt.Sprintf("%q", s.String()) }

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Secret) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// Host is the connection record for one remote machine. Field names in files
// follow the hosts.json layout: hostname, ip, username, password, port.
type Host struct {
	// Name is the label used in reports and as the download namespace.
	Name string `json:"hostname" toml:"hostname" yaml:"hostname"`
	// Address is an IP, DNS name or ~/.ssh/config alias.
	Address string `json:"ip" toml:"ip" yaml:"ip" validate:"required"`
	// User is the SSH login.
	User string `json:"username" toml:"username" yaml:"username" validate:"required"`
	// Password is used for password and keyboard-interactive auth.
	Password Secret `json:"password" toml:"password" yaml:"password" validate:"required"`
	// Port is the SSH port.
	Port int `json:"port,omitempty" toml:"port,omitempty" yaml:"port,omitempty" validate:"min=1,max=65535"`

	aliased bool
}

// Label returns the host's report label.
func (h Host) Label() string {
	if h.Name != "" {
		return h.Name
	}
	return h.Address
}

// String renders the host without its password.
func (h Host) String() string {
	return fmt.Sprintf("%s (%s@%s:%d)", h.Label(), h.User, h.Address, h.Port)
}

// HostError describes why one host descriptor was rejected.
type HostError struct {
	Index  int
	Name   string
	Field  string
	Reason string
}

func (e *HostError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("host #%d (%s): %s", e.Index+1, e.Name, e.Reason)
	}
	return fmt.Sprintf("host #%d (%s): %s %s", e.Index+1, e.Name, e.Field, e.Reason)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator. Field names in its errors are the
// json names, so messages match what users wrote in their hosts file.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// ValidateHosts checks every descriptor and label uniqueness. All problems
// are reported, joined with errors.Join; each is a *HostError.
func ValidateHosts(hosts []Host) error {
	var errs []error
	seen := make(map[string]int, len(hosts))

	for i, h := range hosts {
		if err := Validator().Struct(h); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					errs = append(errs, &HostError{
						Index:  i,
						Name:   h.Label(),
						Field:  fe.Field(),
						Reason: describeTag(fe),
					})
				}
			} else {
				errs = append(errs, &HostError{Index: i, Name: h.Label(), Reason: err.Error()})
			}
		}

		label := h.Label()
		if label == "" {
			continue
		}
		if first, dup := seen[label]; dup {
			errs = append(errs, &HostError{
				Index:  i,
				Name:   label,
				Field:  "hostname",
				Reason: fmt.Sprintf("duplicates host #%d", first+1),
			})
			continue
		}
		seen[label] = i
	}

	return errors.Join(errs...)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "max":
		return fmt.Sprintf("must be between 1 and 65535, got %v", fe.Value())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// Normalize fills defaults in place: the label falls back to the address, an
// ~/.ssh/config alias is resolved, a missing port or user comes from ssh
// config, and the port finally falls back to DefaultPort.
func Normalize(hosts []Host) {
	for i := range hosts {
		h := &hosts[i]
		h.Name = strings.TrimSpace(h.Name)
		h.Address = strings.TrimSpace(h.Address)
		if h.Name == "" {
			h.Name = h.Address
		}

		resolveAlias(h)
		if h.Port == 0 {
			h.Port = DefaultPort
		}
	}
}
