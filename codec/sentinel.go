package codec

import "bytes"

// Handshake sentinels. They are raw byte blobs written before a connection is
// admitted and are never pipe-delimited.
var (
	SentinelNameRequired       = []byte{2, 8, 18, 32}
	SentinelServerFull         = []byte{2, 18, 8, 32}
	SentinelFullAuthRequired   = []byte{2, 32, 8, 18}
	SentinelAccessGranted      = []byte{2, 32, 18, 8}
	SentinelAccessDenied       = []byte{2, 18, 32, 8}
	SentinelBlacklisted        = []byte{33, 6, 1}
	SentinelPing               = []byte{4, 36}
	SentinelServerSocketOK     = []byte{64, 81, 100, 121}
	SentinelServerSocketDenied = []byte{49, 64, 81, 100}
)

// IsSentinel reports whether data equals the given sentinel.
func IsSentinel(data, sentinel []byte) bool {
	return bytes.Equal(data, sentinel)
}
