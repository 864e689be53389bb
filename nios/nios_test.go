package nios

import (
	"context"
	"errors"
	"testing"

	"github.com/google/gousb"
)

// fakeDevice plays both peripheral endpoints. Each written packet is
// passed to respond and the result is returned by the next read.
type fakeDevice struct {
	respond  func(req Packet) Packet
	pending  *Packet
	writes   []Packet
	writeErr error
	readErr  error
}

func (f *fakeDevice) WriteContext(ctx context.Context, buf []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	var req Packet
	copy(req[:], buf)
	f.writes = append(f.writes, req)
	resp := f.respond(req)
	f.pending = &resp
	return len(buf), nil
}

func (f *fakeDevice) ReadContext(ctx context.Context, buf []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if f.pending == nil {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	n := copy(buf, f.pending[:])
	f.pending = nil
	return n, nil
}

func echo(req Packet) Packet { return req }

func newFakeClient(respond func(Packet) Packet) (*Client, *fakeDevice) {
	dev := &fakeDevice{respond: respond}
	return NewClient(dev, dev), dev
}

func TestPacketLayout(t *testing.T) {
	p := New8x16(Target8x16INA219, 5, true, 0x1234)
	expected := Packet{'B', 4, 1, 0, 5, 0x34, 0x12}
	if p != expected {
		t.Errorf("New8x16() = %s, expected %s", p, expected)
	}

	p = New8x32(Target8x32Version, 7, false, 0x11223344)
	expected = Packet{'C', 0, 0, 0, 7, 0x44, 0x33, 0x22, 0x11}
	if p != expected {
		t.Errorf("New8x32() = %s, expected %s", p, expected)
	}

	p = New16x64(Target16x64RFIC, 4, ChannelInvalid, true, 0x0102030405060708)
	expected = Packet{'E', 1, 1, 0, 4, 0xff, 8, 7, 6, 5, 4, 3, 2, 1}
	if p != expected {
		t.Errorf("New16x64() = %s, expected %s", p, expected)
	}
	if p.Data64() != 0x0102030405060708 || p.Channel() != ChannelInvalid {
		t.Errorf("decode 16x64: data=%x channel=%x", p.Data64(), p.Channel())
	}
}

// The write ack depends only on the flags bit, never on the echoed data.
func TestWriteAckRoundTrip(t *testing.T) {
	for _, data := range []uint64{0, 1, 0xffffffffffffffff} {
		client, _ := newFakeClient(func(req Packet) Packet {
			resp := New16x64(req.Target(), req.Addr(), req.Channel(), true, data)
			return resp
		})
		if err := client.Write16x64(Target16x64RFIC, 3, 0, 42); err != nil {
			t.Errorf("ack set, data %x: unexpected error %v", data, err)
		}

		client, _ = newFakeClient(func(req Packet) Packet {
			return New16x64(req.Target(), req.Addr(), req.Channel(), false, data)
		})
		err := client.Write16x64(Target16x64RFIC, 3, 0, 42)
		if !errors.Is(err, ErrWriteRejected) {
			t.Errorf("ack clear, data %x: got %v, expected ErrWriteRejected", data, err)
		}
	}
}

func TestReadValues(t *testing.T) {
	client, dev := newFakeClient(func(req Packet) Packet {
		switch req.Magic() {
		case Magic8x16:
			return New8x16(req.Target(), req.Addr(), false, 0x1f3f)
		case Magic8x32:
			return New8x32(req.Target(), req.Addr(), false, 0x00070e00)
		default:
			return New16x64(req.Target(), req.Addr(), req.Channel(), false, 1<<40)
		}
	})

	v16, err := client.VCTCXOTrim()
	if err != nil || v16 != 0x1f3f {
		t.Errorf("VCTCXOTrim() = 0x%x, %v", v16, err)
	}
	if dev.writes[0].Target() != Target8x16AD56X1DAC || dev.writes[0].Flags() != 0 {
		t.Errorf("VCTCXOTrim() sent %s", dev.writes[0])
	}

	version, err := client.FPGAVersion()
	if err != nil {
		t.Fatalf("FPGAVersion() error: %v", err)
	}
	if version != "0.14.7" {
		t.Errorf("FPGAVersion() = %q, expected %q", version, "0.14.7")
	}

	v64, err := client.Read16x64(Target16x64RFIC, 0, ChannelInvalid)
	if err != nil || v64 != 1<<40 {
		t.Errorf("Read16x64() = %d, %v", v64, err)
	}
}

func TestTransportErrors(t *testing.T) {
	client, dev := newFakeClient(echo)

	dev.writeErr = gousb.TransferTimedOut
	if _, err := client.Read8x16(0, 0); !errors.Is(err, ErrTransportTimeout) {
		t.Errorf("timed out write: got %v, expected ErrTransportTimeout", err)
	}

	dev.writeErr = gousb.ErrorNoDevice
	if _, err := client.Read8x32(0, 0); !errors.Is(err, ErrTransportIO) {
		t.Errorf("failed write: got %v, expected ErrTransportIO", err)
	}

	dev.writeErr = nil
	dev.readErr = gousb.TransferStall
	if err := client.Write8x16(0, 0, 1); !errors.Is(err, ErrTransportIO) {
		t.Errorf("failed read: got %v, expected ErrTransportIO", err)
	}
}

// A device that never answers must fail within the quiet timeout.
func TestQuietReadTimesOut(t *testing.T) {
	client, _ := newFakeClient(echo)
	client.in = blockingIn{}
	if _, err := client.Read16x64Quiet(Target16x64RFIC, 0, ChannelInvalid); !errors.Is(err, ErrTransportTimeout) {
		t.Errorf("Read16x64Quiet() got %v, expected ErrTransportTimeout", err)
	}
}

type blockingIn struct{}

func (blockingIn) ReadContext(ctx context.Context, buf []byte) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}
