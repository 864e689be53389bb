package rtltcp

import (
	"net"

	"github.com/quan-to/slog"
)

// Session is one connected client.
type Session struct {
	id   string
	conn net.Conn
	log  slog.Instance
}

// ID returns the random identifier passed to the callbacks.
func (s *Session) ID() string { return s.id }
