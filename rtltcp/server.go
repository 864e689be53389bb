// Package rtltcp serves converted IQ samples to rtl_tcp clients and
// forwards their tuning commands.
package rtltcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quan-to/slog"
	fifo "github.com/racerxdl/go.fifo"
)

const (
	readTimeout = time.Second
	chunkLength = 4096

	// Broadcast buffers queued beyond this are dropped.
	maxFifoLength = 64
)

var log = slog.Scope("RTLTCP")

// OnCommand handles a client command. Returning false drops the client.
type OnCommand func(sessionID string, cmd Command) bool

// OnConnect is called for every new client.
type OnConnect func(sessionID string, address string)

// Server is an rtl_tcp server.
type Server struct {
	address    string
	dongleInfo DongleInfo
	onCommand  OnCommand
	onConnect  OnConnect

	mu       sync.Mutex
	sessions []*Session
	listener net.Listener
	running  bool
	wg       sync.WaitGroup
	stop     chan struct{}

	buffers *fifo.Queue
	dropped int
}

// NewServer creates a server that will listen on address.
func NewServer(address string) *Server {
	return &Server{
		address:    address,
		dongleInfo: DongleInfo{Magic: magic, TunerType: TunerUnknown},
		buffers:    fifo.NewQueue(),
	}
}

// SetDongleInfo sets the greeting; the magic is always RTL0.
func (s *Server) SetDongleInfo(info DongleInfo) {
	info.Magic = magic
	s.dongleInfo = info
}

func (s *Server) SetOnCommand(cb OnCommand) { s.onCommand = cb }
func (s *Server) SetOnConnect(cb OnConnect) { s.onConnect = cb }

// Addr returns the listening address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("already running")
	}
	l, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	log.Info("Listening on %s", l.Addr())

	s.listener = l
	s.running = true
	s.stop = make(chan struct{})
	s.wg.Add(2)
	go s.acceptLoop(l)
	go s.txLoop(s.stop)
	return nil
}

// Stop closes the listener and every client, then waits for the loops.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.listener.Close()
	for _, session := range s.sessions {
		session.conn.Close()
	}
	s.mu.Unlock()

	log.Info("Waiting for server to finish")
	s.wg.Wait()
}

// Sessions returns the number of connected clients.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ComplexBroadcast converts samples to unsigned 8-bit IQ and queues them
// for every client.
func (s *Server) ComplexBroadcast(data []complex64) {
	if s.buffers.Len() >= maxFifoLength {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		log.Debug("TX fifo full")
		return
	}
	s.buffers.Add(EncodeU8(data))
}

// EncodeU8 maps unit-range samples to the rtl_tcp byte format.
func EncodeU8(data []complex64) []byte {
	out := make([]byte, len(data)*2)
	for i, v := range data {
		out[i*2] = toU8(real(v))
		out[i*2+1] = toU8(imag(v))
	}
	return out
}

func toU8(v float32) uint8 {
	x := 128 + v*127
	if x < 0 {
		x = 0
	}
	if x > 255 {
		x = 255
	}
	return uint8(x)
}

func (s *Server) broadcast(data []byte) {
	s.mu.Lock()
	sessions := make([]*Session, len(s.sessions))
	copy(sessions, s.sessions)
	s.mu.Unlock()

	for start := 0; start < len(data); start += chunkLength {
		end := start + chunkLength
		if end > len(data) {
			end = len(data)
		}
		for _, session := range sessions {
			if _, err := session.conn.Write(data[start:end]); err != nil {
				session.log.Debug("Write failed: %s", err)
			}
		}
	}
}

func (s *Server) txLoop(stop <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}
		if s.buffers.Len() == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if b, ok := s.buffers.Next().([]byte); ok {
			s.broadcast(b)
		}
	}
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			log.Error("Error accepting: %s", err)
			continue
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
	log.Info("Server finished listening")
}

func (s *Server) addSession(session *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.sessions = append(s.sessions, session)
	return true
}

func (s *Server) removeSession(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range s.sessions {
		if v == session {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			break
		}
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	uid, err := uuid.NewRandom()
	if err != nil {
		log.Error("Cannot create session id: %s", err)
		return
	}
	session := &Session{
		id:   uid.String(),
		conn: conn,
		log:  slog.Scope(conn.RemoteAddr().String()),
	}
	clog := session.log
	clog.Info("Received connection, session %s", session.ID())

	if _, err := conn.Write(s.dongleInfo.Bytes()); err != nil {
		clog.Error("Error sending greeting: %s", err)
		return
	}
	if !s.addSession(session) {
		return
	}
	defer s.removeSession(session)

	if s.onConnect != nil {
		s.onConnect(session.ID(), conn.RemoteAddr().String())
	}

	buf := make([]byte, CommandSize)
	got := 0
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := io.ReadFull(conn, buf[got:])
		got += n
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				clog.Error("Error receiving data: %s", err)
			}
			break
		}
		got = 0

		cmd := parseCommand(buf)
		clog.Debug("Received %s with arg %d", cmd.Type, cmd.Value())
		if s.onCommand != nil && !s.onCommand(session.ID(), cmd) {
			break
		}
	}
	clog.Info("Connection closed")
}
