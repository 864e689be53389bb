package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sergev/sdrtool/config"
	"github.com/sergev/sdrtool/iq"
	"github.com/sergev/sdrtool/stream"
)

// idleRequests never completes, so the stream stalls.
type idleRequests struct{ cancelled bool }

func (r *idleRequests) Slots() int { return 2 }

func (r *idleRequests) Queue(slot int, b []byte) error { return nil }

func (r *idleRequests) Cancel() { r.cancelled = true }

func (r *idleRequests) Wait(timeout time.Duration) (int, []byte, error) {
	time.Sleep(time.Millisecond)
	return 0, nil, stream.ErrWaitTimeout
}

type fakeRadio struct {
	openErr    error
	open       bool
	rate       int
	frequency  int64
	manual     bool
	gain       int
	rxEnabled  bool
	rxDisabled int
	calls      []string
	requests   *idleRequests
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{rate: 4000000, frequency: 433920000, manual: true, gain: 16, requests: &idleRequests{}}
}

func (f *fakeRadio) Open(ctx context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	return nil
}

func (f *fakeRadio) Close() error {
	f.open = false
	return nil
}

func (f *fakeRadio) IsOpen() bool { return f.open }

func (f *fakeRadio) SampleRate() (int, error) { return f.rate, nil }

func (f *fakeRadio) SetSampleRate(rate int) error {
	f.calls = append(f.calls, "rate")
	f.rate = rate
	return nil
}

func (f *fakeRadio) Frequency() (int64, error) { return f.frequency, nil }

func (f *fakeRadio) SetFrequency(frequency int64, quiet bool) error {
	f.calls = append(f.calls, "frequency")
	f.frequency = frequency
	return nil
}

func (f *fakeRadio) ManualGain() (bool, error) { return f.manual, nil }

func (f *fakeRadio) SetManualGain(manual bool) error {
	f.calls = append(f.calls, "gainmode")
	f.manual = manual
	return nil
}

func (f *fakeRadio) Gain() (int, error) { return f.gain, nil }

func (f *fakeRadio) SetGain(gain int) error {
	f.calls = append(f.calls, "gain")
	f.gain = gain
	return nil
}

func (f *fakeRadio) EnableRx() error {
	f.calls = append(f.calls, "rx on")
	f.rxEnabled = true
	return nil
}

func (f *fakeRadio) DisableRx() {
	f.calls = append(f.calls, "rx off")
	f.rxEnabled = false
	f.rxDisabled++
}

func (f *fakeRadio) MinFrequency() int64         { return 70000000 }
func (f *fakeRadio) MaxFrequency() int64         { return 6000000000 }
func (f *fakeRadio) MinSampleRate() int          { return 520834 }
func (f *fakeRadio) MaxSampleRate() int          { return 61440000 }
func (f *fakeRadio) SupportedSampleRates() []int { return []int{520834, 1000000, 2000000, 4000000} }
func (f *fakeRadio) PacketSize() int             { return 16 }

func (f *fakeRadio) Requests() (stream.RequestQueue, error) { return f.requests, nil }

type recorder struct {
	ready  bool
	reason string
}

func (r *recorder) OnSourceReady(src Source)                { r.ready = true }
func (r *recorder) OnSourceError(src Source, reason string) { r.reason = reason }

func TestOpenPullsDefaults(t *testing.T) {
	dev := newFakeRadio()
	s := newBladeRF(dev, 4)
	cb := &recorder{}

	if !s.Open(context.Background(), cb) {
		t.Fatalf("Open() = false")
	}
	if !cb.ready {
		t.Errorf("OnSourceReady not called")
	}
	if s.SampleRate() != 4000000 || s.Frequency() != 433920000 {
		t.Errorf("defaults: rate %d frequency %d", s.SampleRate(), s.Frequency())
	}
	if s.AGC() || s.Gain() != 16 {
		t.Errorf("defaults: agc %v gain %d", s.AGC(), s.Gain())
	}
	if s.conv.SampleRate() != 4000000 || s.conv.Frequency() != 433920000 {
		t.Errorf("converter not synchronized")
	}
}

func TestOpenKeepsSettings(t *testing.T) {
	dev := newFakeRadio()
	s := newBladeRF(dev, 4)
	s.SetSampleRate(2000000)
	s.SetGain(40)

	s.Open(context.Background(), nil)
	if s.SampleRate() != 2000000 || s.Gain() != 40 || !s.AGC() {
		t.Errorf("settings overwritten: rate %d gain %d agc %v", s.SampleRate(), s.Gain(), s.AGC())
	}
}

func TestOpenFailure(t *testing.T) {
	dev := newFakeRadio()
	dev.openErr = errors.New("bladeRF device not found")
	s := newBladeRF(dev, 4)
	cb := &recorder{}

	if s.Open(context.Background(), cb) {
		t.Fatalf("Open() = true")
	}
	if cb.reason != "bladeRF device not found" {
		t.Errorf("reason = %q", cb.reason)
	}
	if s.MaxSampleRate() != 0 || s.NextHigherOptimalSampleRate(1000) != 1000 {
		t.Errorf("closed source reports device limits")
	}
}

func TestFrequencyRoundsToEven(t *testing.T) {
	dev := newFakeRadio()
	s := newBladeRF(dev, 4)
	s.Open(context.Background(), nil)

	s.SetFrequency(1000000001)
	if s.Frequency() != 1000000002 {
		t.Errorf("Frequency() = %d, expected 1000000002", s.Frequency())
	}
	if dev.frequency != 1000000002 {
		t.Errorf("device tuned to %d", dev.frequency)
	}
}

func TestSampleRateDeferredUntilSampling(t *testing.T) {
	dev := newFakeRadio()
	s := newBladeRF(dev, 4)
	s.Open(context.Background(), nil)

	s.SetSampleRate(1000000)
	if dev.rate != 4000000 {
		t.Errorf("device rate changed to %d while idle", dev.rate)
	}
	if s.conv.SampleRate() != 1000000 {
		t.Errorf("converter rate = %d", s.conv.SampleRate())
	}
}

func TestOptimalSampleRates(t *testing.T) {
	s := newBladeRF(newFakeRadio(), 4)
	s.Open(context.Background(), nil)

	tests := []struct {
		rate          int
		higher, lower int
	}{
		{100, 520834, 520834},
		{1000000, 2000000, 1000000},
		{1500000, 2000000, 1000000},
		{9000000, 4000000, 4000000},
	}
	for _, tt := range tests {
		if got := s.NextHigherOptimalSampleRate(tt.rate); got != tt.higher {
			t.Errorf("NextHigherOptimalSampleRate(%d) = %d, expected %d", tt.rate, got, tt.higher)
		}
		if got := s.NextLowerOptimalSampleRate(tt.rate); got != tt.lower {
			t.Errorf("NextLowerOptimalSampleRate(%d) = %d, expected %d", tt.rate, got, tt.lower)
		}
	}
}

func TestStallLeavesDeviceOpen(t *testing.T) {
	dev := newFakeRadio()
	s := newBladeRF(dev, 4)
	s.Open(context.Background(), nil)

	if err := s.StartSampling(); err != nil {
		t.Fatalf("StartSampling() error: %v", err)
	}
	expected := []string{"frequency", "rate", "gainmode", "gain", "rx on"}
	for i, c := range expected {
		if i >= len(dev.calls) || dev.calls[i] != c {
			t.Fatalf("device calls = %v, expected %v", dev.calls, expected)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.IsSampling() {
		if time.Now().After(deadline) {
			t.Fatalf("stream did not stall")
		}
		time.Sleep(time.Millisecond)
	}
	if !errors.Is(s.StreamErr(), stream.ErrStreamStalled) {
		t.Errorf("StreamErr() = %v", s.StreamErr())
	}
	if !s.IsOpen() {
		t.Errorf("device closed by a stall")
	}
	if !dev.requests.cancelled {
		t.Errorf("requests not cancelled after stall")
	}

	s.StopSampling()
	if dev.rxDisabled != 1 {
		t.Errorf("Rx disabled %d times, expected 1", dev.rxDisabled)
	}
	s.StopSampling()
	if dev.rxDisabled != 1 {
		t.Errorf("second StopSampling() disabled Rx again")
	}
}

func TestStartSamplingClosed(t *testing.T) {
	s := newBladeRF(newFakeRadio(), 4)
	if err := s.StartSampling(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("StartSampling() error = %v, expected ErrNotOpen", err)
	}
}

func TestConversion(t *testing.T) {
	s := newBladeRF(newFakeRadio(), 4)
	s.Open(context.Background(), nil)

	sp := iq.NewSamplePacket(4)
	if n := s.FillPacketIntoSamplePacket(make([]byte, 16), sp); n != 4 {
		t.Errorf("FillPacketIntoSamplePacket() = %d", n)
	}
	sp = iq.NewSamplePacket(4)
	if n := s.MixPacketIntoSamplePacket(make([]byte, 16), sp, 433900000); n != 4 {
		t.Errorf("MixPacketIntoSamplePacket() = %d", n)
	}
	if sp.Frequency() != 433900000 {
		t.Errorf("mixed packet frequency = %d", sp.Frequency())
	}
}

func TestRegistry(t *testing.T) {
	src, err := New(config.Device{Name: "x", Backend: "bladerf", QueueSize: 8})
	if err != nil {
		t.Fatalf("New(bladerf) error: %v", err)
	}
	if src.Name() != "bladeRF" || src.IsOpen() {
		t.Errorf("New(bladerf) = %s, open %v", src.Name(), src.IsOpen())
	}
	if _, err := New(config.Device{Backend: "hackrf"}); err == nil {
		t.Errorf("New(hackrf) returned nil error")
	}
}
