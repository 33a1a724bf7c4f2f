package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// AuthMethod selects which handshake the server runs.
type AuthMethod int

const (
	// UsernameOnly admits clients that send a username.
	UsernameOnly AuthMethod = iota
	// Full admits clients that send a username and the server password.
	Full
	// InviteCode is recognised in settings files but has no handshake.
	InviteCode
)

// String returns the settings name of the method.
func (m AuthMethod) String() string {
	switch m {
	case UsernameOnly:
		return "UsernameOnly"
	case Full:
		return "Full"
	case InviteCode:
		return "InviteCode"
	default:
		return fmt.Sprintf("AuthMethod(%d)", int(m))
	}
}

// ParseAuthMethod parses a method name, ignoring case.
func ParseAuthMethod(name string) (AuthMethod, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "usernameonly":
		return UsernameOnly, nil
	case "full":
		return Full, nil
	case "invitecode":
		return InviteCode, nil
	default:
		return UsernameOnly, fmt.Errorf("unknown auth method %q", name)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *AuthMethod) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}

	parsed, err := ParseAuthMethod(name)
	if err != nil {
		return err
	}

	*m = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (m AuthMethod) MarshalYAML() (any, error) {
	return m.String(), nil
}

// Decode implements envdecode.Decoder.
func (m *AuthMethod) Decode(repl string) error {
	parsed, err := ParseAuthMethod(repl)
	if err != nil {
		return err
	}

	*m = parsed
	return nil
}
