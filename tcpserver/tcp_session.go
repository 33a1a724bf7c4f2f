package tcpserver

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/session"
)

// serveSession reads packets from an admitted session until its transport
// fails, handing each one to the router. Teardown runs exactly once however
// the loop ends, and a panic while handling a packet only ends this session.
func (s *TCPServer) serveSession(sess *session.Session, log logger.Logger) {
	defer s.sessions.Done()
	defer s.Registry.Remove(sess)
	defer func() {
		if r := recover(); r != nil {
			log.Error("session handler panic", logger.Field{Key: "panic", Value: fmt.Sprint(r)})
		}
	}()

	for sess.State() == session.Online {
		p, err := sess.ReadPacket()
		if err != nil {
			if !isDisconnect(err) {
				log.Debug("dropping session", logger.Err(err))
			}
			return
		}

		s.Router.Handle(sess, p)
	}
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
