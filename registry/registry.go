// Package registry is the single authority over who is connected and which
// addresses are banned. Every mutation and every full iteration of the
// connection table happens under one exclusive lock, so presence
// notifications are never missed or duplicated.
package registry

import (
	"errors"
	"sync"

	"github.com/cyberinferno/chatrelay/codec"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/metrics"
	"github.com/cyberinferno/chatrelay/safeset"
	"github.com/cyberinferno/chatrelay/session"
)

var (
	// ErrNotAdmissible is returned when admitting a session that is not in
	// the Connecting state (e.g. torn down during the handshake).
	ErrNotAdmissible = errors.New("session cannot be admitted")
	// ErrAlreadyRegistered is returned when the session id is already in use.
	ErrAlreadyRegistered = errors.New("session id already registered")
	// ErrUsernameTaken is returned when another online session has the username.
	ErrUsernameTaken = errors.New("username already taken")
)

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics reports the number of online sessions to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// Registry owns the connection table and the ban list.
type Registry struct {
	mu       sync.Mutex
	sessions map[int]*session.Session
	order    []int

	banned  *safeset.SafeSet[string]
	logger  logger.Logger
	metrics *metrics.Metrics
}

// New creates an empty Registry.
//
// Parameters:
//   - log: Logger for user events
//   - opts: Optional settings
//
// Returns:
//   - A new Registry
func New(log logger.Logger, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[int]*session.Session),
		banned:   safeset.NewSafeSet[string](),
		logger:   log.For(logger.UserEvent),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Admit moves an established session into the table. Under the table lock it
// first tells the new session about every registered peer, then tells every
// registered peer about the new session, and only then inserts it.
//
// Parameters:
//   - s: A session that passed the handshake
//
// Returns:
//   - ErrNotAdmissible, ErrAlreadyRegistered or ErrUsernameTaken on rejection
func (r *Registry) Admit(s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID()]; ok {
		return ErrAlreadyRegistered
	}

	if r.usernameTakenLocked(s.Username()) {
		return ErrUsernameTaken
	}

	if !s.MarkOnline() {
		return ErrNotAdmissible
	}

	for _, id := range r.order {
		peer := r.sessions[id]
		r.send(s, codec.Build(codec.HeaderExistingPeer, peer.ID(), peer.Username()))
	}

	announce := codec.Build(codec.HeaderNewPeer, s.ID(), s.Username())
	for _, id := range r.order {
		r.send(r.sessions[id], announce)
	}

	r.sessions[s.ID()] = s
	r.order = append(r.order, s.ID())
	r.metrics.SetOnline(len(r.sessions))

	r.logger.Info("user connected",
		logger.Field{Key: "username", Value: s.Username()},
		logger.Field{Key: "id", Value: s.ID()},
	)

	return nil
}

// Remove tears a session down and, if it was registered, deletes it from the
// table and tells every remaining peer it left. It is safe to call for a
// session that was never admitted and to call more than once.
//
// Parameters:
//   - s: The session to remove
//
// Returns:
//   - true if the session was in the table
func (r *Registry) Remove(s *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.Close()

	current, ok := r.sessions[s.ID()]
	if !ok || current != s {
		return false
	}

	delete(r.sessions, s.ID())
	for i, id := range r.order {
		if id == s.ID() {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	departure := codec.Build(codec.HeaderPeerDisconnected, codec.DepartedID(s.ID()))
	for _, id := range r.order {
		r.send(r.sessions[id], departure)
	}
	r.metrics.SetOnline(len(r.sessions))

	r.logger.Info("user disconnected",
		logger.Field{Key: "username", Value: s.Username()},
		logger.Field{Key: "id", Value: s.ID()},
	)

	return true
}

// CloseAll removes every registered session.
func (r *Registry) CloseAll() {
	for _, s := range r.Sessions() {
		r.Remove(s)
	}
}

// Get returns the online session with the given id.
func (r *Registry) Get(id int) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// FindByUsername returns the online session with exactly this username.
func (r *Registry) FindByUsername(username string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if s := r.sessions[id]; s.Username() == username {
			return s, true
		}
	}

	return nil, false
}

// UsernameTaken reports whether an online session uses the username. The
// comparison is case-sensitive.
func (r *Registry) UsernameTaken(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usernameTakenLocked(username)
}

func (r *Registry) usernameTakenLocked(username string) bool {
	for _, s := range r.sessions {
		if s.Username() == username {
			return true
		}
	}

	return false
}

// Count returns the number of online sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns the online sessions in admission order.
func (r *Registry) Sessions() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session.Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}

	return out
}

// Broadcast sends a packet to every online session while holding the table
// lock.
//
// Returns:
//   - The number of sessions the packet was written to
func (r *Registry) Broadcast(packet string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for _, id := range r.order {
		if r.send(r.sessions[id], packet) {
			delivered++
		}
	}

	return delivered
}

func (r *Registry) send(s *session.Session, packet string) bool {
	if err := s.Send(packet); err != nil {
		r.logger.Debug("send failed",
			logger.Field{Key: "id", Value: s.ID()},
			logger.Err(err),
		)
		return false
	}

	return true
}

// IsBanned reports whether connections from addr are rejected.
func (r *Registry) IsBanned(addr string) bool {
	return r.banned.Contains(addr)
}

// Ban adds addr to the ban list.
func (r *Registry) Ban(addr string) bool {
	added := r.banned.Add(addr)
	if added {
		r.logger.Info("added to blacklist", logger.Field{Key: "addr", Value: addr})
		r.metrics.SetBanned(r.banned.Size())
	}

	return added
}

// Unban removes addr from the ban list.
func (r *Registry) Unban(addr string) bool {
	removed := r.banned.Remove(addr)
	if removed {
		r.logger.Info("removed from blacklist", logger.Field{Key: "addr", Value: addr})
		r.metrics.SetBanned(r.banned.Size())
	}

	return removed
}

// Banned returns the banned addresses in sorted order.
func (r *Registry) Banned() []string {
	return r.banned.Sorted()
}
