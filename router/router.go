// Package router interprets packets from online sessions and fans out the
// resulting packets. It also carries the operator-initiated sends.
package router

import (
	"errors"
	"fmt"
	"time"

	"github.com/cyberinferno/chatrelay/codec"
	"github.com/cyberinferno/chatrelay/config"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/metrics"
	"github.com/cyberinferno/chatrelay/registry"
	"github.com/cyberinferno/chatrelay/session"
)

// ErrSessionNotFound is returned when an operator command names an id that
// is not online.
var ErrSessionNotFound = errors.New("session not found")

// BanExpiry lifts bans, either after a delay or at once.
type BanExpiry interface {
	Schedule(addr string, after time.Duration)
	Lift(addr string) bool
}

// Option configures a Router.
type Option func(*Router)

// WithBanExpiry schedules the end of kick bans through b.
func WithBanExpiry(b BanExpiry) Option {
	return func(r *Router) {
		r.bans = b
	}
}

// WithMetrics records relayed messages, whispers and kicks to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// Router dispatches inbound packets by header code.
type Router struct {
	registry *registry.Registry
	settings *config.Store
	bans     BanExpiry
	metrics  *metrics.Metrics

	chatLog   logger.Logger
	packetLog logger.Logger
	eventLog  logger.Logger
}

// New creates a Router over the registry.
//
// Parameters:
//   - reg: The connection table
//   - settings: Live settings
//   - log: Logger
//   - opts: Optional collaborators
//
// Returns:
//   - A new Router
func New(reg *registry.Registry, settings *config.Store, log logger.Logger, opts ...Option) *Router {
	r := &Router{
		registry:  reg,
		settings:  settings,
		chatLog:   log.For(logger.Chat),
		packetLog: log.For(logger.Packet),
		eventLog:  log.For(logger.UserEvent),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Handle processes one packet from an online session. Unknown or
// non-numeric headers are ignored.
func (r *Router) Handle(sender *session.Session, p *codec.Packet) {
	p.Seek(1)

	if r.settings.LogPackets() && p.Header() != "32" {
		r.packetLog.Info("received packet",
			logger.Field{Key: "type", Value: codec.HeaderName(p.Header())},
			logger.Field{Key: "username", Value: sender.Username()},
			logger.Field{Key: "id", Value: sender.ID()})
	}

	code, ok := p.Code()
	if !ok {
		return
	}

	switch code {
	case codec.HeaderPostMessage:
		r.postMessage(sender, p.ReadString())
	case codec.HeaderWhisperRequest:
		r.whisper(sender, p.ReadString(), p.ReadString())
	}
}

func (r *Router) postMessage(sender *session.Session, text string) {
	sender.CountMessage()
	r.registry.Broadcast(codec.Build(codec.HeaderMessageNotify, codec.MessageSenderID(sender.ID()), text))
	r.metrics.MessageRelayed()
	r.chatLog.Debug("message relayed",
		logger.Field{Key: "id", Value: sender.ID()},
		logger.Field{Key: "length", Value: len(text)})
}

func (r *Router) whisper(sender *session.Session, targetName, text string) {
	target, ok := r.registry.FindByUsername(targetName)
	if !ok {
		_ = sender.Send(codec.Build(codec.HeaderWhisperError))
		r.metrics.Whisper("not_found")
		return
	}

	_ = target.Send(codec.Build(codec.HeaderWhisperReceived, sender.ID(), text))
	_ = sender.Send(codec.Build(codec.HeaderWhisperSent, target.ID(), text))
	r.metrics.Whisper("delivered")
}

// Broadcast sends a server broadcast to every online session.
//
// Returns:
//   - The number of sessions that received it
func (r *Router) Broadcast(text string) int {
	start := time.Now()
	n := r.registry.Broadcast(codec.Build(codec.HeaderBroadcast, text))
	r.chatLog.Info("message broadcasted",
		logger.Field{Key: "recipients", Value: n},
		logger.Field{Key: "elapsed", Value: time.Since(start).String()})
	return n
}

// AdminMessage sends a system message to the listed ids.
//
// Returns:
//   - The ids that are not online
func (r *Router) AdminMessage(text string, ids []int) []int {
	packet := codec.Build(codec.HeaderSystemMessage, text)

	var missing []int
	for _, id := range ids {
		s, ok := r.registry.Get(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		_ = s.Send(packet)
	}

	return missing
}

// Kick announces the kick, bans the session's address, sends the kick
// packet and tears the session down. A positive banFor lifts the ban after
// that long; zero lifts it as soon as the session is gone.
//
// Parameters:
//   - id: The session to kick
//   - banFor: How long the address stays banned
//
// Returns:
//   - The kicked session, or ErrSessionNotFound
func (r *Router) Kick(id int, banFor time.Duration) (*session.Session, error) {
	s, ok := r.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("kick %d: %w", id, ErrSessionNotFound)
	}

	r.Broadcast(fmt.Sprintf("%s [%d] has been kicked from the server!", s.Username(), s.ID()))
	r.registry.Ban(s.RemoteAddr())
	_ = s.Send(codec.Build(codec.HeaderKick))
	r.registry.Remove(s)
	r.metrics.Kick()

	switch {
	case banFor > 0 && r.bans != nil:
		r.bans.Schedule(s.RemoteAddr(), banFor)
	case banFor <= 0 && r.bans != nil:
		r.bans.Lift(s.RemoteAddr())
	case banFor <= 0:
		r.registry.Unban(s.RemoteAddr())
	}

	r.eventLog.Info("kicked",
		logger.Field{Key: "username", Value: s.Username()},
		logger.Field{Key: "id", Value: s.ID()},
		logger.Field{Key: "addr", Value: s.RemoteAddr()},
		logger.Field{Key: "ban", Value: banFor.String()})

	return s, nil
}

// SendServerInfo sends the server owner and name followed by the welcome
// message to one session.
func (r *Router) SendServerInfo(s *session.Session) {
	cfg := r.settings.Get()
	_ = s.Send(codec.Build(codec.HeaderServerInfo, cfg.ServerOwner, cfg.ServerName))
	_ = s.Send(codec.Build(codec.HeaderBroadcast, cfg.WelcomeMessage))
}
