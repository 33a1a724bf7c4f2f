package codec

// Keys of the handshake credential formats. The first byte of a handshake
// reply is both the discriminator and the obfuscation key of its payload.
const (
	KeyUsername byte = 0x45
	KeyFull     byte = 0x55
)

// Masks applied to session ids in packets that announce chat messages and
// departures. They hide raw ids from casual reading and nothing more.
const (
	messageSenderMask = 0x121
	departedMask      = 0x50
)

// Obfuscate XORs every byte of data with key and returns the result in a new
// slice. Applying it twice with the same key restores the input.
//
// Parameters:
//   - data: The bytes to transform
//   - key: The key byte
//
// Returns:
//   - The transformed bytes
func Obfuscate(data []byte, key byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key
	}

	return out
}

// MessageSenderID masks the sender id carried by a message notify packet.
func MessageSenderID(id int) int {
	return id ^ messageSenderMask
}

// DepartedID masks the id carried by a peer disconnected packet.
func DepartedID(id int) int {
	return id ^ departedMask
}
