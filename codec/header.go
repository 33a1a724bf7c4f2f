// Package codec translates between raw connection bytes and chat packets. It
// builds the pipe-delimited text packets sent to clients, decodes the lines
// clients send back, and holds the fixed handshake sentinels.
package codec

import "strconv"

// Header codes of the chat protocol. Codes are carried as decimal text in the
// first field of a packet.
const (
	HeaderKick             = -1
	HeaderInitAck          = 1
	HeaderBroadcast        = 3
	HeaderSystemMessage    = 4
	HeaderPeerDisconnected = 12
	HeaderExistingPeer     = 29
	HeaderNewPeer          = 31
	HeaderPostMessage      = 32
	HeaderMessageNotify    = 34
	HeaderWhisperRequest   = 35
	HeaderWhisperReceived  = 37
	HeaderWhisperSent      = 38
	HeaderWhisperError     = -38
	HeaderServerInfo       = 69
)

var headerNames = map[string]string{
	strconv.Itoa(HeaderPostMessage):      "POST_MESSAGE",
	strconv.Itoa(HeaderInitAck):          "INIT_CLIENT",
	"E":                                  "GET_ROLE_of",
	strconv.Itoa(HeaderMessageNotify):    "NOTIFY_POST",
	strconv.Itoa(HeaderExistingPeer):     "ADD_PREV_USER",
	strconv.Itoa(HeaderNewPeer):          "ADD_NEW_USER",
	strconv.Itoa(HeaderPeerDisconnected): "CLIENT_DISCONNECTED",
	strconv.Itoa(HeaderBroadcast):        "BROADCAST",
	strconv.Itoa(HeaderSystemMessage):    "SYSTEM_MESSAGE",
	strconv.Itoa(HeaderServerInfo):       "SERVER_INFO",
	strconv.Itoa(HeaderWhisperReceived):  "RECEIVE_WHISPER",
	strconv.Itoa(HeaderWhisperRequest):   "SEND_WHISPER",
	strconv.Itoa(HeaderWhisperSent):      "SENT_WHISPER",
	strconv.Itoa(HeaderWhisperError):     "WHISPER_ERROR",
	strconv.Itoa(HeaderKick):             "KICK",
}

// HeaderName returns the name used in packet logs for the given header text,
// or "Unknown" when the header is not part of the protocol.
//
// Parameters:
//   - header: The raw header field of a packet
//
// Returns:
//   - The protocol name of the header
func HeaderName(header string) string {
	if name, ok := headerNames[header]; ok {
		return name
	}

	return "Unknown"
}
