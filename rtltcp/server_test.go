package rtltcp

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quan-to/slog"

	"github.com/sergev/sdrtool/source"
)

// fakeSource records the settings applied through the command handler.
type fakeSource struct {
	source.Source

	mu        sync.Mutex
	frequency int64
	rate      int
	gain      int
	agc       bool
}

func (f *fakeSource) SetFrequency(v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frequency = v
}

func (f *fakeSource) SetSampleRate(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rate = v
}

func (f *fakeSource) SetGain(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gain = v
}

func (f *fakeSource) SetAGC(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agc = v
}

func (f *fakeSource) snapshot() (int64, int, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frequency, f.rate, f.gain, f.agc
}

func TestDongleInfoBytes(t *testing.T) {
	info := SourceDongleInfo()
	info.Magic = magic
	b := info.Bytes()
	if len(b) != 12 {
		t.Fatalf("greeting is %d bytes, expected 12", len(b))
	}
	if string(b[:4]) != "RTL0" {
		t.Errorf("magic = %q", b[:4])
	}
	if n := binary.BigEndian.Uint32(b[8:]); n != uint32(len(TunerGains)) {
		t.Errorf("gain count = %d", n)
	}
}

func TestEncodeU8(t *testing.T) {
	b := EncodeU8([]complex64{complex(0, 1), complex(-1, 2)})
	expected := []byte{128, 255, 1, 255}
	if !bytes.Equal(b, expected) {
		t.Errorf("EncodeU8() = %v, expected %v", b, expected)
	}
}

func TestCommandRoundTrip(t *testing.T) {
	c := NewCommand(SetFrequency, 100000000)
	if got := parseCommand(c.Bytes()); got != c || got.Value() != 100000000 {
		t.Errorf("parseCommand() = %v", got)
	}
	if SetAgcMode.String() != "SetAgcMode" || CommandType(0x42).String() != "Command(0x42)" {
		t.Errorf("CommandType.String() broken")
	}
}

func TestServerDispatch(t *testing.T) {
	src := &fakeSource{agc: true}
	server := NewServer("127.0.0.1:0")
	server.SetDongleInfo(SourceDongleInfo())
	server.SetOnCommand(SourceHandler(src))
	connected := make(chan string, 1)
	server.SetOnConnect(func(sessionID string, address string) {
		connected <- sessionID
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer server.Stop()

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	greeting := make([]byte, 12)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(conn, greeting); err != nil {
		t.Fatalf("reading greeting: %v", err)
	}
	if string(greeting[:4]) != "RTL0" {
		t.Errorf("greeting magic = %q", greeting[:4])
	}
	select {
	case id := <-connected:
		if _, err := uuid.Parse(id); err != nil {
			t.Errorf("session id %q: %v", id, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("OnConnect not called")
	}

	for _, c := range []Command{
		NewCommand(SetFrequency, 433920000),
		NewCommand(SetSampleRate, 2000000),
		NewCommand(SetGainMode, 1),
		NewCommand(SetTunerGainByIndex, 4),
	} {
		conn.Write(c.Bytes())
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		f, r, g, agc := src.snapshot()
		if f == 433920000 && r == 2000000 && g == 12 && !agc {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("source state = %d %d %d %v", f, r, g, agc)
		}
		time.Sleep(time.Millisecond)
	}

	// Samples reach the client.
	for server.Sessions() == 0 {
		time.Sleep(time.Millisecond)
	}
	server.ComplexBroadcast([]complex64{complex(0, 0), complex(1, -1)})
	samples := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(conn, samples); err != nil {
		t.Fatalf("reading samples: %v", err)
	}
	if !bytes.Equal(samples, []byte{128, 128, 255, 1}) {
		t.Errorf("samples = %v", samples)
	}
}

func TestBroadcastFifoBounded(t *testing.T) {
	server := NewServer("127.0.0.1:0")
	for i := 0; i < maxFifoLength+10; i++ {
		server.ComplexBroadcast([]complex64{0})
	}
	if server.buffers.Len() != maxFifoLength {
		t.Errorf("fifo length = %d, expected %d", server.buffers.Len(), maxFifoLength)
	}
	if server.dropped != 10 {
		t.Errorf("dropped = %d, expected 10", server.dropped)
	}
}

// stuckConn is a client that never drains its socket.
type stuckConn struct {
	net.Conn
	writing chan struct{}
	release chan struct{}
}

func (c *stuckConn) Write(b []byte) (int, error) {
	c.writing <- struct{}{}
	<-c.release
	return len(b), nil
}

func TestSlowClientDoesNotBlockSessions(t *testing.T) {
	server := NewServer("127.0.0.1:0")
	conn := &stuckConn{writing: make(chan struct{}, 1), release: make(chan struct{})}
	server.sessions = append(server.sessions, &Session{id: "slow", conn: conn, log: slog.Scope("slow")})

	done := make(chan struct{})
	go func() {
		server.broadcast([]byte{1, 2, 3})
		close(done)
	}()
	<-conn.writing

	counted := make(chan int)
	go func() { counted <- server.Sessions() }()
	select {
	case n := <-counted:
		if n != 1 {
			t.Errorf("Sessions() = %d, expected 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Errorf("Sessions() blocked by a slow client")
	}

	close(conn.release)
	<-done
}
