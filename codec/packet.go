package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Separator splits the fields of a packet. Payloads are not escaped, so a
// field containing the separator breaks framing on the receiving side.
const Separator = '|'

// MaxLineLength is the largest inbound packet line accepted from a client.
const MaxLineLength = 1024

var (
	// ErrEmptyPacket is returned when a decoded buffer holds no bytes.
	ErrEmptyPacket = errors.New("empty packet")
	// ErrMissingHeader is returned when the header field cannot be isolated.
	ErrMissingHeader = errors.New("packet header missing")
)

// Build joins a header code and its fields into a packet. Fields are
// formatted with fmt and joined with Separator.
//
// Parameters:
//   - header: The header code
//   - fields: The packet fields in wire order
//
// Returns:
//   - The packet text without the trailing line terminator
func Build(header int, fields ...any) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(header))
	for _, f := range fields {
		sb.WriteByte(Separator)
		sb.WriteString(fmt.Sprint(f))
	}

	return sb.String()
}

// Frame appends the line terminator to a packet.
func Frame(packet string) []byte {
	b := make([]byte, 0, len(packet)+1)
	b = append(b, packet...)
	return append(b, '\n')
}

// Packet is a parsed inbound packet with a cursor over the fields that follow
// its header. A Packet is not safe for concurrent use.
type Packet struct {
	header string
	raw    string
	pos    int
}

// Decode parses one inbound line into a Packet. A trailing "\r\n" or "\n" is
// ignored.
//
// Parameters:
//   - line: The raw bytes of one packet line
//
// Returns:
//   - The parsed packet positioned right after the header
//   - ErrEmptyPacket if the line is empty, ErrMissingHeader if it starts with
//     the separator
func Decode(line []byte) (*Packet, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return nil, ErrEmptyPacket
	}

	raw := string(line)
	end := strings.IndexByte(raw, Separator)
	if end == -1 {
		end = len(raw)
	}

	if end == 0 {
		return nil, ErrMissingHeader
	}

	return &Packet{header: raw[:end], raw: raw, pos: end}, nil
}

// Header returns the header field as sent by the client.
func (p *Packet) Header() string {
	return p.header
}

// Code parses the header as a signed integer code.
//
// Returns:
//   - The header code and true, or 0 and false when the header is not numeric
func (p *Packet) Code() (int, bool) {
	code, err := strconv.Atoi(p.header)
	if err != nil {
		return 0, false
	}

	return code, true
}

// Seek moves the cursor n bytes forward, clamped to the end of the packet.
// Handlers call Seek(1) to step over the separator that follows the header.
func (p *Packet) Seek(n int) {
	p.pos += n
	if p.pos > len(p.raw) {
		p.pos = len(p.raw)
	}
	if p.pos < 0 {
		p.pos = 0
	}
}

// ReadString returns the field at the cursor, up to the next separator or the
// end of the packet, and moves the cursor past that separator.
func (p *Packet) ReadString() string {
	rest := p.raw[p.pos:]
	end := strings.IndexByte(rest, Separator)
	if end == -1 {
		p.pos = len(p.raw)
		return rest
	}

	p.pos += end + 1
	return rest[:end]
}

// String returns the packet text as received.
func (p *Packet) String() string {
	return p.raw
}
