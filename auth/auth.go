// Package auth runs the handshake that turns a freshly accepted connection
// into an established session or a rejection.
package auth

import (
	"bytes"
	"strings"

	"github.com/cyberinferno/chatrelay/codec"
	"github.com/cyberinferno/chatrelay/config"
	"github.com/cyberinferno/chatrelay/idgenerator"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/session"
	"github.com/cyberinferno/chatrelay/utils"
)

// ReadBufferSize is the largest credential reply the handshake reads.
const ReadBufferSize = 64

// ErrInviteCodeUnsupported is returned when the InviteCode method is in
// force. The socket is not touched.
var ErrInviteCodeUnsupported = config.ErrInviteCodeUnsupported

// Outcome is the result of one handshake.
type Outcome int

const (
	OK Outcome = iota
	BadFirstPacket
	BadPassword
	SocketError
	Rejected
)

// String returns the outcome as used in logs and metric labels.
func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case BadFirstPacket:
		return "bad_first_packet"
	case BadPassword:
		return "bad_password"
	case SocketError:
		return "socket_error"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Sentinel returns the bytes the acceptor answers an outcome with. Outcomes
// without an answer return nil.
func Sentinel(o Outcome) []byte {
	switch o {
	case OK:
		return codec.SentinelAccessGranted
	case BadFirstPacket, BadPassword:
		return codec.SentinelAccessDenied
	default:
		return nil
	}
}

// Settings provides the handshake settings. They are read on every
// handshake so reloaded values apply to the next connection.
type Settings interface {
	AuthMethod() config.AuthMethod
	Password() string
}

// NameChecker reports usernames already held by online sessions.
type NameChecker interface {
	UsernameTaken(username string) bool
}

var reservedNames = []string{"admin", "system", "server", "TODEA"}

// ReservedNames returns the names no client may take.
func ReservedNames() []string {
	return append([]string(nil), reservedNames...)
}

// IsReserved reports whether name matches a reserved name, ignoring case.
func IsReserved(name string) bool {
	for _, r := range reservedNames {
		if strings.EqualFold(name, r) {
			return true
		}
	}
	return false
}

// Authenticator runs handshakes. Calls must be serialized with registry
// admission so that resolved usernames stay unique.
type Authenticator struct {
	settings Settings
	names    NameChecker
	ids      *idgenerator.IdGenerator
	logger   logger.Logger
	letter   func() byte
}

// New creates an Authenticator.
//
// Parameters:
//   - settings: Source of the auth method and password
//   - names: Lookup of usernames already online
//   - ids: Source of session ids
//   - log: Logger
//
// Returns:
//   - A new Authenticator
func New(settings Settings, names NameChecker, ids *idgenerator.IdGenerator, log logger.Logger) *Authenticator {
	return &Authenticator{
		settings: settings,
		names:    names,
		ids:      ids,
		logger:   log.For(logger.Auth),
		letter:   utils.RandomLowercaseLetter,
	}
}

// Authenticate sends the credential prompt, reads one reply and, on success,
// establishes the session with a fresh id and a unique username. It neither
// answers the client nor touches the registry.
//
// Parameters:
//   - s: A Connecting session
//
// Returns:
//   - The outcome; the error is set for SocketError and for InviteCode
func (a *Authenticator) Authenticate(s *session.Session) (Outcome, error) {
	method := a.settings.AuthMethod()

	var prompt []byte
	switch method {
	case config.UsernameOnly:
		prompt = codec.SentinelNameRequired
	case config.Full:
		prompt = codec.SentinelFullAuthRequired
	default:
		return Rejected, ErrInviteCodeUnsupported
	}

	if err := s.WriteRaw(prompt); err != nil {
		return SocketError, err
	}

	buf := make([]byte, ReadBufferSize)
	n, err := s.ReadRaw(buf)
	if err != nil {
		return SocketError, err
	}

	kind, payload := buf[0], buf[1:n]
	if kind >= 128 {
		return BadFirstPacket, nil
	}

	var username string
	switch {
	case kind == codec.KeyUsername && method == config.UsernameOnly:
		username = string(codec.Obfuscate(payload, codec.KeyUsername))

	case kind == codec.KeyFull && method == config.Full:
		fields := bytes.Split(payload, []byte{codec.Separator})
		if len(fields) < 2 {
			return BadFirstPacket, nil
		}

		username = string(codec.Obfuscate(fields[0], codec.KeyFull))
		if string(codec.Obfuscate(fields[1], codec.KeyFull)) != a.settings.Password() {
			a.logger.Info("wrong password",
				logger.Field{Key: "addr", Value: s.RemoteAddr()},
				logger.Field{Key: "username", Value: username})
			return BadPassword, nil
		}

	default:
		return Rejected, nil
	}

	if username == "" {
		return BadFirstPacket, nil
	}

	if err := s.Establish(a.ids.Id(), a.resolve(username)); err != nil {
		return SocketError, err
	}

	return OK, nil
}

// resolve appends random letters until name is neither online nor reserved.
func (a *Authenticator) resolve(name string) string {
	for a.names.UsernameTaken(name) || IsReserved(name) {
		name += string(a.letter())
	}
	return name
}
