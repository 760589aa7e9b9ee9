package config

import (
	"fmt"
	"strconv"
	"time"
)

// Duration is a time.Duration that koanf can decode from YAML strings
// ("90s") and environment variables. A bare integer means seconds.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	parsed, err := time.ParseDuration(s)
	if err != nil {
		secs, convErr := strconv.ParseInt(s, 10, 64)
		if convErr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		parsed = time.Duration(secs) * time.Second
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret holds a credential such as a MySQL DSN. Every formatting and
// marshaling path prints a placeholder; only Value returns the content.
type Secret string

const secretPlaceholder = "[REDACTED]"

func (s Secret) placeholder() string {
	if s == "" {
		return ""
	}
	return secretPlaceholder
}

func (s Secret) String() string { return s.placeholder() }

// Format covers %v, %+v, %#v, %s and %q.
func (s Secret) Format(f fmt.State, verb rune) {
	switch {
	case verb == 'v' && f.Flag('#'):
		fmt.Fprintf(f, "config.Secret(%q)", s.placeholder())
	case verb == 'q':
		fmt.Fprintf(f, "%q", s.placeholder())
	default:
		fmt.Fprint(f, s.placeholder())
	}
}

// Value returns the raw secret.
func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.placeholder())), nil
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.placeholder()), nil
}

// UnmarshalText keeps the raw value.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
