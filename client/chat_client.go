// Package client is an event-driven chat client for the relay. It runs the
// handshake, then notifies callers of every packet the server sends through
// registered handlers.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cyberinferno/chatrelay/codec"
	"github.com/cyberinferno/chatrelay/config"
	"github.com/cyberinferno/chatrelay/utils"
)

var (
	// ErrBlacklisted is returned when the server refuses the client's address.
	ErrBlacklisted = errors.New("address is blacklisted")
	// ErrServerFull is returned when the server has no free slot.
	ErrServerFull = errors.New("server is full")
	// ErrAccessDenied is returned when the server rejects the credentials.
	ErrAccessDenied = errors.New("access denied")
	// ErrMethodMismatch is returned when the server asks for a credential
	// format other than the configured one.
	ErrMethodMismatch = errors.New("server expects a different auth method")
	// ErrUnexpectedReply is returned for handshake bytes the client does not know.
	ErrUnexpectedReply = errors.New("unexpected handshake reply")
	// ErrNotConnected is returned when sending before Connect succeeded.
	ErrNotConnected = errors.New("not connected")
)

// ConnectionState represents the current state of the client connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Dialing or handshaking
	Connected                           // Admitted by the server
	Closed                              // Closed by the caller; terminal
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState
	Address   string
	Timestamp time.Time
	Error     error // set when the change was caused by an error
}

// PacketEvent is emitted for every packet line received after the handshake.
type PacketEvent struct {
	Header    string   // header field as sent
	Fields    []string // fields after the header
	Raw       string   // whole packet text
	Timestamp time.Time
}

// Code parses the header as a header code.
func (e PacketEvent) Code() (int, bool) {
	code, err := strconv.Atoi(e.Header)
	return code, err == nil
}

// ConnectionStateHandler is called when the connection state changes.
type ConnectionStateHandler func(event ConnectionStateEvent)

// PacketHandler is called for each received packet, in arrival order, from
// the read goroutine.
type PacketHandler func(event PacketEvent)

// Config holds the client settings.
type Config struct {
	// Address is the "host:port" of the relay.
	Address string
	// Username is the requested name; the server may append letters to it.
	Username string
	// Password is sent with the Full credential format.
	Password string
	// Method selects the credential format.
	Method config.AuthMethod
	// ConnectionTimeout bounds dialing.
	ConnectionTimeout time.Duration
	// HandshakeTimeout bounds the whole handshake; 0 means no timeout.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each write; 0 means no timeout.
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with default timeouts for a username-only
// login.
func DefaultConfig(address, username string) Config {
	return Config{
		Address:           address,
		Username:          username,
		Method:            config.UsernameOnly,
		ConnectionTimeout: 10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// ChatClient is one connection to the relay. Register handlers before
// calling Connect. It is safe for concurrent use.
type ChatClient struct {
	config Config
	conn   net.Conn
	reader *bufio.Reader
	state  ConnectionState

	id       int
	username string

	onConnectionState ConnectionStateHandler
	onPacket          PacketHandler

	mu      sync.RWMutex
	writeMu sync.Mutex
	wg      sync.WaitGroup
	closed  bool
}

// NewChatClient creates a disconnected client.
func NewChatClient(cfg Config) *ChatClient {
	return &ChatClient{
		config: cfg,
		state:  Disconnected,
		id:     -1,
	}
}

// OnConnectionState registers the handler for state changes, replacing any
// previous one.
func (c *ChatClient) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnPacket registers the handler for received packets, replacing any
// previous one.
func (c *ChatClient) OnPacket(handler PacketHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPacket = handler
}

// Connect dials the relay, completes the handshake and starts reading
// packets.
//
// Returns:
//   - nil once admitted; ErrBlacklisted, ErrServerFull, ErrAccessDenied,
//     ErrMethodMismatch, ErrUnexpectedReply or a network error otherwise
func (c *ChatClient) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return fmt.Errorf("already connected or connecting")
	}
	c.mu.Unlock()

	c.setState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		return err
	}

	reader := bufio.NewReaderSize(conn, codec.MaxLineLength)
	id, username, err := c.handshake(conn, reader)
	if err != nil {
		_ = conn.Close()
		c.setState(Disconnected, err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = reader
	c.id = id
	c.username = username
	c.mu.Unlock()

	c.setState(Connected, nil)

	c.wg.Add(1)
	go c.readLoop(reader)

	return nil
}

func (c *ChatClient) handshake(conn net.Conn, reader *bufio.Reader) (int, string, error) {
	if c.config.HandshakeTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.config.HandshakeTimeout)); err != nil {
			return 0, "", err
		}
		defer func() {
			_ = conn.SetDeadline(time.Time{})
		}()
	}

	prompt := make([]byte, 4)
	if _, err := io.ReadFull(reader, prompt[:len(codec.SentinelBlacklisted)]); err != nil {
		return 0, "", err
	}
	if codec.IsSentinel(prompt[:len(codec.SentinelBlacklisted)], codec.SentinelBlacklisted) {
		return 0, "", ErrBlacklisted
	}
	if _, err := io.ReadFull(reader, prompt[len(codec.SentinelBlacklisted):]); err != nil {
		return 0, "", err
	}

	switch {
	case codec.IsSentinel(prompt, codec.SentinelServerFull):
		return 0, "", ErrServerFull
	case codec.IsSentinel(prompt, codec.SentinelNameRequired) && c.config.Method == config.UsernameOnly,
		codec.IsSentinel(prompt, codec.SentinelFullAuthRequired) && c.config.Method == config.Full:
	case codec.IsSentinel(prompt, codec.SentinelNameRequired), codec.IsSentinel(prompt, codec.SentinelFullAuthRequired):
		return 0, "", ErrMethodMismatch
	default:
		return 0, "", fmt.Errorf("%w: %v", ErrUnexpectedReply, prompt)
	}

	if err := c.write(conn, Credentials(c.config.Method, c.config.Username, c.config.Password)); err != nil {
		return 0, "", err
	}

	verdict := make([]byte, len(codec.SentinelAccessGranted))
	if _, err := io.ReadFull(reader, verdict); err != nil {
		return 0, "", err
	}
	switch {
	case codec.IsSentinel(verdict, codec.SentinelAccessDenied):
		return 0, "", ErrAccessDenied
	case !codec.IsSentinel(verdict, codec.SentinelAccessGranted):
		return 0, "", fmt.Errorf("%w: %v", ErrUnexpectedReply, verdict)
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		return 0, "", err
	}
	p, err := codec.Decode([]byte(line))
	if err != nil {
		return 0, "", err
	}
	if code, ok := p.Code(); !ok || code != codec.HeaderInitAck {
		return 0, "", fmt.Errorf("%w: %q", ErrUnexpectedReply, line)
	}

	p.Seek(1)
	id, err := strconv.Atoi(p.ReadString())
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q", ErrUnexpectedReply, line)
	}

	return id, p.ReadString(), nil
}

// Credentials builds the handshake reply for the given method.
func Credentials(method config.AuthMethod, username, password string) []byte {
	if method == config.Full {
		return utils.JoinBytes(
			[]byte{codec.KeyFull},
			codec.Obfuscate([]byte(username), codec.KeyFull),
			[]byte{codec.Separator},
			codec.Obfuscate([]byte(password), codec.KeyFull),
		)
	}

	return utils.JoinBytes([]byte{codec.KeyUsername}, codec.Obfuscate([]byte(username), codec.KeyUsername))
}

// Post sends a chat message to everyone online.
func (c *ChatClient) Post(text string) error {
	return c.Send(codec.Build(codec.HeaderPostMessage, text))
}

// Whisper sends a private message to the user with exactly this name.
func (c *ChatClient) Whisper(target, text string) error {
	return c.Send(codec.Build(codec.HeaderWhisperRequest, target, text))
}

// Send writes one raw packet line.
func (c *ChatClient) Send(packet string) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	return c.write(conn, codec.Frame(packet))
}

func (c *ChatClient) write(conn net.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
		defer func() {
			_ = conn.SetWriteDeadline(time.Time{})
		}()
	}

	_, err := conn.Write(data)
	return err
}

// ID returns the id the server assigned, or -1 before Connect.
func (c *ChatClient) ID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Username returns the name the server resolved.
func (c *ChatClient) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// GetState returns the current connection state.
func (c *ChatClient) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Close disconnects and waits for the read goroutine. Idempotent.
func (c *ChatClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.setState(Closed, nil)

	return nil
}

func (c *ChatClient) readLoop(reader *bufio.Reader) {
	defer c.wg.Done()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !c.isClosed() {
				c.setState(Disconnected, err)
			}
			return
		}

		text := strings.TrimRight(line, "\r\n")
		if text == "" {
			continue
		}

		fields := strings.Split(text, string(codec.Separator))
		c.emitPacket(PacketEvent{
			Header:    fields[0],
			Fields:    fields[1:],
			Raw:       text,
			Timestamp: time.Now(),
		})
	}
}

func (c *ChatClient) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	handler := c.onConnectionState
	c.mu.Unlock()

	if handler != nil {
		handler(ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}

func (c *ChatClient) emitPacket(event PacketEvent) {
	c.mu.RLock()
	handler := c.onPacket
	c.mu.RUnlock()

	if handler != nil {
		handler(event)
	}
}

func (c *ChatClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
