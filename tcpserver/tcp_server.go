// Package tcpserver runs the relay's accept loop: it gates connections on
// capacity and bans, runs the handshake, admits established sessions and
// starts one receive loop per session.
package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/chatrelay/auth"
	"github.com/cyberinferno/chatrelay/codec"
	"github.com/cyberinferno/chatrelay/config"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/metrics"
	"github.com/cyberinferno/chatrelay/perfmonitor"
	"github.com/cyberinferno/chatrelay/registry"
	"github.com/cyberinferno/chatrelay/router"
	"github.com/cyberinferno/chatrelay/session"
	"github.com/google/uuid"
)

// TCPServer accepts chat clients. The handshake and admission of one
// connection complete on the accept goroutine before the next connection is
// accepted, which keeps resolved usernames unique.
type TCPServer struct {
	Logger        logger.Logger
	Name          string
	Addr          string
	Listener      net.Listener
	Running       atomic.Bool
	Settings      *config.Store
	Registry      *registry.Registry
	Authenticator *auth.Authenticator
	Router        *router.Router
	Metrics       *metrics.Metrics

	pending  atomic.Pointer[session.Session]
	sessions sync.WaitGroup
	stop     chan struct{}
	done     chan struct{}
	err      error
}

// Start binds Addr and runs the accept loop in a goroutine. It is safe to
// call only when the server is not already running.
//
// Returns:
//   - An error if the server is already running or if listening on Addr fails
func (s *TCPServer) Start() error {
	if s.Running.Load() {
		s.Logger.Error("server already running")
		return fmt.Errorf("server %s already running", s.Name)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Err(err))
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.Listener = ln
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.err = nil
	s.Running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})
	go s.AcceptLoop()

	return nil
}

// Stop closes the listener, tears down every session and waits for the
// accept loop and all receive loops to finish. Safe to call when the server
// is not running.
func (s *TCPServer) Stop() {
	if !s.Running.CompareAndSwap(true, false) {
		s.Logger.Info(fmt.Sprintf("%s server not running", s.Name))
		return
	}

	close(s.stop)
	_ = s.Listener.Close()
	if p := s.pending.Load(); p != nil {
		p.Close()
	}

	<-s.done
	s.Registry.CloseAll()
	s.sessions.Wait()

	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// Done is closed when the accept loop has exited.
func (s *TCPServer) Done() <-chan struct{} {
	return s.done
}

// Err returns the listener error that ended the accept loop, or nil after
// a regular Stop. It is meaningful once Done is closed.
func (s *TCPServer) Err() error {
	return s.err
}

// ListenAddr returns the bound address, or "" before Start.
func (s *TCPServer) ListenAddr() string {
	if s.Listener == nil {
		return ""
	}
	return s.Listener.Addr().String()
}

// AcceptLoop accepts connections until the server stops or the listener
// fails. Accept timeouts are retried; any other accept error ends the loop
// and is reported by Err. Stop must still be called to tear sessions down.
func (s *TCPServer) AcceptLoop() {
	defer close(s.done)

	for s.Running.Load() {
		cfg := s.Settings.Get()
		if !cfg.RejectWhenFull && s.Registry.Count()+1 > cfg.MaxClients {
			select {
			case <-s.stop:
				return
			case <-time.After(cfg.CapacityPollInterval):
			}
			continue
		}

		conn, err := s.Listener.Accept()
		if err != nil {
			if !s.Running.Load() {
				return
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.Logger.Warn(fmt.Sprintf("%s server accept timeout", s.Name), logger.Err(err))
				continue
			}

			s.err = err
			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Err(err))
			return
		}

		s.handleConnection(conn, cfg)
	}
}

func (s *TCPServer) handleConnection(conn net.Conn, cfg *config.Config) {
	log := s.Logger.For(logger.Network).With(
		logger.Field{Key: "conn", Value: uuid.NewString()},
		logger.Field{Key: "remote", Value: conn.RemoteAddr().String()},
	)
	s.Metrics.ConnectionAccepted()

	sess := session.New(conn, session.Options{
		WriteTimeout:     cfg.WriteTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
	})

	if s.Registry.IsBanned(sess.RemoteAddr()) {
		log.For(logger.Auth).Info("rejected blacklisted address")
		_ = sess.WriteRaw(codec.SentinelBlacklisted)
		sess.Close()
		s.Metrics.ConnectionRejected("blacklisted")
		return
	}

	if s.Registry.Count()+1 > cfg.MaxClients {
		log.Info("rejected connection, server full")
		_ = sess.WriteRaw(codec.SentinelServerFull)
		sess.Close()
		s.Metrics.ConnectionRejected("server_full")
		return
	}

	log.Debug("incoming connection")
	pm := perfmonitor.NewPerformanceMonitor()
	pm.Start()
	defer func() {
		pm.Stop()
		log.For(logger.Trace).Debug(fmt.Sprintf("handled new connection in %.3f ms", pm.ElapsedMilliseconds()))
	}()

	s.pending.Store(sess)
	if !s.Running.Load() {
		s.pending.Store(nil)
		log.Debug("server stopping, dropping connection")
		sess.Close()
		return
	}
	outcome, err := s.Authenticator.Authenticate(sess)
	s.pending.Store(nil)
	s.Metrics.Handshake(outcome.String(), time.Since(sess.AcceptedAt()).Seconds())

	switch {
	case errors.Is(err, auth.ErrInviteCodeUnsupported):
		log.Error("handshake unavailable", logger.Err(err))
		sess.Close()
		return
	case outcome == auth.SocketError:
		log.For(logger.Auth).Warn("socket error on connection", logger.Err(err))
		sess.Close()
		return
	case outcome != auth.OK:
		if reply := auth.Sentinel(outcome); reply != nil {
			_ = sess.WriteRaw(reply)
		}
		log.For(logger.Auth).Info("a client failed to connect", logger.Field{Key: "outcome", Value: outcome.String()})
		sess.Close()
		return
	}

	if err := s.welcome(sess); err != nil {
		log.Warn("failed to greet client", logger.Err(err))
		sess.Close()
		return
	}

	if err := s.Registry.Admit(sess); err != nil {
		log.Warn("admission failed", logger.Err(err))
		sess.Close()
		s.Metrics.ConnectionRejected("admission")
		return
	}

	if cfg.SendServerInfo {
		s.Router.SendServerInfo(sess)
	}

	log.For(logger.UserEvent).Info("user connected",
		logger.Field{Key: "username", Value: sess.Username()},
		logger.Field{Key: "id", Value: sess.ID()})

	s.sessions.Add(1)
	go s.serveSession(sess, log)
}

// welcome sends the access grant and the init ack that carries the
// session's id and resolved username.
func (s *TCPServer) welcome(sess *session.Session) error {
	if err := sess.WriteRaw(codec.SentinelAccessGranted); err != nil {
		return err
	}
	return sess.Send(codec.Build(codec.HeaderInitAck, sess.ID(), sess.Username()))
}
