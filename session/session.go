// Package session holds the server-side state of one client connection, from
// accept through the handshake to teardown.
package session

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/chatrelay/codec"
)

// State is the lifecycle state of a Session.
type State int32

const (
	Connecting State = iota // accepted, handshake not yet resolved
	Online                  // admitted to the registry
	Offline                 // torn down; terminal
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Online:
		return "Online"
	case Offline:
		return "Offline"
	default:
		return "Unknown"
	}
}

var (
	// ErrNotConnecting is returned when an operation requires the Connecting state.
	ErrNotConnecting = errors.New("session is not connecting")
	// ErrClosed is returned when writing to a session that has been torn down.
	ErrClosed = errors.New("session is closed")

	errNoBytes = errors.New("handshake read returned no bytes")
)

// Options tunes the I/O behaviour of a Session.
type Options struct {
	// WriteTimeout bounds every write; 0 means no deadline.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds the handshake read; 0 means no deadline.
	HandshakeTimeout time.Duration
}

// Session is one accepted client connection. The identity fields are fixed
// by Establish during the handshake and are read-only afterwards.
type Session struct {
	id         int
	username   string
	remoteAddr string
	acceptedAt time.Time

	conn   net.Conn
	reader *bufio.Reader
	opts   Options

	state        atomic.Int32
	messagesSent atomic.Uint64

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// New wraps an accepted connection in a Connecting session. The remote
// address is captured once, without the port.
//
// Parameters:
//   - conn: The accepted connection
//   - opts: I/O options
//
// Returns:
//   - The new Session
func New(conn net.Conn, opts Options) *Session {
	s := &Session{
		id:         -1,
		remoteAddr: HostOf(conn.RemoteAddr()),
		acceptedAt: time.Now(),
		conn:       conn,
		reader:     bufio.NewReaderSize(conn, codec.MaxLineLength),
		opts:       opts,
	}
	s.state.Store(int32(Connecting))
	return s
}

// HostOf returns the host part of a network address, or the full string when
// it has no port.
func HostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}

	return host
}

// ID returns the session id, or -1 before the handshake succeeded.
func (s *Session) ID() int { return s.id }

// Username returns the resolved username.
func (s *Session) Username() string { return s.username }

// RemoteAddr returns the peer host used for ban matching.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// AcceptedAt returns when the connection was accepted.
func (s *Session) AcceptedAt() time.Time { return s.acceptedAt }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// MessagesSent returns how many chat messages the session has posted.
func (s *Session) MessagesSent() uint64 { return s.messagesSent.Load() }

// CountMessage records one accepted chat message.
func (s *Session) CountMessage() uint64 { return s.messagesSent.Add(1) }

// Establish fixes the identity of a session that passed the handshake.
//
// Parameters:
//   - id: The session id
//   - username: The resolved, unique username
//
// Returns:
//   - ErrNotConnecting if the session already left the Connecting state or
//     was already established
func (s *Session) Establish(id int, username string) error {
	if s.State() != Connecting || s.id != -1 {
		return ErrNotConnecting
	}

	s.id = id
	s.username = username
	return nil
}

// MarkOnline moves the session from Connecting to Online.
//
// Returns:
//   - true if the transition happened
func (s *Session) MarkOnline() bool {
	return s.state.CompareAndSwap(int32(Connecting), int32(Online))
}

// Close moves the session to Offline and closes the transport, which fails
// any blocked read. Only the first call has an effect.
//
// Returns:
//   - true for the call that performed the teardown
func (s *Session) Close() bool {
	closed := false
	s.closeOnce.Do(func() {
		s.state.Store(int32(Offline))
		_ = s.conn.Close()
		closed = true
	})

	return closed
}

// Send writes one packet line.
//
// Parameters:
//   - packet: The packet text, without line terminator
//
// Returns:
//   - ErrClosed if the session is Offline, or the write error
func (s *Session) Send(packet string) error {
	return s.write(codec.Frame(packet))
}

// WriteRaw writes a handshake sentinel as-is.
func (s *Session) WriteRaw(data []byte) error {
	return s.write(data)
}

func (s *Session) write(data []byte) error {
	if s.State() == Offline {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.opts.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
			return err
		}
	}

	_, err := s.conn.Write(data)
	return err
}

// ReadRaw performs a single blocking read into buf, used for the handshake
// reply. A zero-byte read is reported as an error.
//
// Parameters:
//   - buf: The destination buffer
//
// Returns:
//   - The number of bytes read, or the read error
func (s *Session) ReadRaw(buf []byte) (int, error) {
	if s.opts.HandshakeTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout)); err != nil {
			return 0, err
		}
		defer func() {
			_ = s.conn.SetReadDeadline(time.Time{})
		}()
	}

	n, err := s.reader.Read(buf)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, errNoBytes
	}

	return n, nil
}

// ReadPacket blocks until one packet line arrives and decodes it.
//
// Returns:
//   - The decoded packet, or a read or decode error; both end the session
func (s *Session) ReadPacket() (*codec.Packet, error) {
	line, err := s.reader.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, fmt.Errorf("packet exceeds %d bytes: %w", codec.MaxLineLength, err)
		}
		return nil, err
	}

	return codec.Decode(line)
}
