package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quan-to/slog"

	"github.com/sergev/sdrtool/bladerf"
	"github.com/sergev/sdrtool/config"
	"github.com/sergev/sdrtool/iq"
	"github.com/sergev/sdrtool/stream"
)

var log = slog.Scope("Source")

// Gain value meaning "never set".
const gainUnset = -1000

var ErrNotOpen = errors.New("source is not open")

// radio is the part of *bladerf.Device the source drives.
type radio interface {
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	SampleRate() (int, error)
	SetSampleRate(rate int) error
	Frequency() (int64, error)
	SetFrequency(frequency int64, quiet bool) error
	ManualGain() (bool, error)
	SetManualGain(manual bool) error
	Gain() (int, error)
	SetGain(gain int) error
	EnableRx() error
	DisableRx()

	MinFrequency() int64
	MaxFrequency() int64
	MinSampleRate() int
	MaxSampleRate() int
	SupportedSampleRates() []int
	PacketSize() int

	Requests() (stream.RequestQueue, error)
}

func init() {
	Register("bladerf", NewBladeRF)
}

// BladeRF is a Source backed by a bladeRF board.
type BladeRF struct {
	mu       sync.Mutex
	dev      radio
	pipeline *stream.Pipeline
	conv     *iq.Converter

	opened     bool
	sampling   bool
	sampleRate int
	frequency  int64
	agc        bool
	gain       int
}

// NewBladeRF creates a closed bladeRF source for a configured device.
func NewBladeRF(dev config.Device) Source {
	return newBladeRF(bladerf.New(bladerf.Options{
		Serial:          dev.Serial,
		VCTCXOTrim:      dev.VCTCXOTrim,
		FirstGeneration: dev.FirstGeneration,
		DumpMessages:    dev.DumpMessages,
	}), dev.QueueSize)
}

func newBladeRF(dev radio, queueSize int) *BladeRF {
	return &BladeRF{
		dev:      dev,
		pipeline: stream.New(dev.PacketSize(), queueSize),
		conv:     iq.NewConverter(),
		agc:      true,
		gain:     gainUnset,
	}
}

func (s *BladeRF) Name() string { return "bladeRF" }

// Open brings the board up. Settings never made before open are read
// back from the device.
func (s *BladeRF) Open(ctx context.Context, cb Callback) bool {
	if err := s.dev.Open(ctx); err != nil {
		log.Error("Open failed: %s", err)
		if cb != nil {
			cb.OnSourceError(s, err.Error())
		}
		return false
	}

	s.mu.Lock()
	s.opened = true
	if s.sampleRate == 0 {
		if v, err := s.dev.SampleRate(); err == nil {
			s.sampleRate = v
		}
	}
	if s.frequency == 0 {
		if v, err := s.dev.Frequency(); err == nil {
			s.frequency = v
		}
	}
	if s.gain == gainUnset {
		if manual, err := s.dev.ManualGain(); err == nil {
			s.agc = !manual
		}
		if v, err := s.dev.Gain(); err == nil {
			s.gain = v
		}
	}
	s.conv.SetSampleRate(s.sampleRate)
	s.conv.SetFrequency(s.frequency)
	s.mu.Unlock()

	log.Info("Opened at %d Hz, %d S/s", s.frequency, s.sampleRate)
	if cb != nil {
		cb.OnSourceReady(s)
	}
	return true
}

func (s *BladeRF) IsOpen() bool {
	return s.dev.IsOpen()
}

// Close stops sampling and releases the device.
func (s *BladeRF) Close() error {
	s.StopSampling()

	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()
	return s.dev.Close()
}

func (s *BladeRF) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate
}

// SetSampleRate caches rate; the device is reprogrammed only while sampling.
func (s *BladeRF) SetSampleRate(rate int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rate == s.sampleRate {
		return
	}
	s.sampleRate = rate
	if s.opened && s.sampling {
		if err := s.dev.SetSampleRate(rate); err != nil {
			log.Warn("Could not set sample rate %d: %s", rate, err)
		}
	}
	s.conv.SetSampleRate(rate)
}

func (s *BladeRF) Frequency() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frequency
}

// SetFrequency tunes to frequency rounded up to an even number of Hz.
func (s *BladeRF) SetFrequency(frequency int64) {
	if frequency%2 == 1 {
		frequency++
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if frequency == s.frequency {
		return
	}
	s.frequency = frequency
	if s.opened {
		if err := s.dev.SetFrequency(frequency, true); err != nil {
			log.Warn("Could not tune to %d Hz: %s", frequency, err)
		}
	}
	s.conv.SetFrequency(frequency)
}

func (s *BladeRF) isOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func (s *BladeRF) MinFrequency() int64 {
	if !s.isOpened() {
		return 0
	}
	return s.dev.MinFrequency()
}

func (s *BladeRF) MaxFrequency() int64 {
	if !s.isOpened() {
		return 0
	}
	return s.dev.MaxFrequency()
}

func (s *BladeRF) MinSampleRate() int {
	if !s.isOpened() {
		return 0
	}
	return s.dev.MinSampleRate()
}

func (s *BladeRF) MaxSampleRate() int {
	if !s.isOpened() {
		return 0
	}
	return s.dev.MaxSampleRate()
}

// SupportedSampleRates returns {0} while the source is closed.
func (s *BladeRF) SupportedSampleRates() []int {
	if !s.isOpened() {
		return []int{0}
	}
	return s.dev.SupportedSampleRates()
}

// NextHigherOptimalSampleRate returns the first supported rate above
// rate, or the highest one.
func (s *BladeRF) NextHigherOptimalSampleRate(rate int) int {
	if !s.isOpened() {
		return rate
	}
	rates := s.dev.SupportedSampleRates()
	for _, r := range rates {
		if r > rate {
			return r
		}
	}
	return rates[len(rates)-1]
}

// NextLowerOptimalSampleRate returns the supported rate just below the
// first one above rate, or the highest one.
func (s *BladeRF) NextLowerOptimalSampleRate(rate int) int {
	if !s.isOpened() {
		return rate
	}
	rates := s.dev.SupportedSampleRates()
	for i := 1; i < len(rates); i++ {
		if rates[i] > rate {
			return rates[i-1]
		}
	}
	return rates[len(rates)-1]
}

func (s *BladeRF) Gain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

func (s *BladeRF) SetGain(gain int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gain == s.gain {
		return
	}
	s.gain = gain
	if s.opened {
		if err := s.dev.SetGain(gain); err != nil {
			log.Warn("Could not set gain %d: %s", gain, err)
		}
	}
}

func (s *BladeRF) AGC() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agc
}

func (s *BladeRF) SetAGC(agc bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if agc == s.agc {
		return
	}
	s.agc = agc
	if s.opened {
		if err := s.dev.SetManualGain(!agc); err != nil {
			log.Warn("Could not set gain mode: %s", err)
		}
	}
}

// StartSampling programs the cached settings, enables Rx and starts the
// acquisition worker.
func (s *BladeRF) StartSampling() error {
	if s.IsSampling() {
		return nil
	}
	// A stalled stream leaves the flag set; clean it up first.
	s.StopSampling()

	log.Info("Starting reception")
	s.pipeline.Clear()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return ErrNotOpen
	}

	if err := s.dev.SetFrequency(s.frequency, false); err != nil {
		log.Warn("Could not tune to %d Hz: %s", s.frequency, err)
	}
	if err := s.dev.SetSampleRate(s.sampleRate); err != nil {
		log.Warn("Could not set sample rate %d: %s", s.sampleRate, err)
	}
	if err := s.dev.SetManualGain(!s.agc); err != nil {
		log.Warn("Could not set gain mode: %s", err)
	}
	if err := s.dev.SetGain(s.gain); err != nil {
		log.Warn("Could not set gain %d: %s", s.gain, err)
	}
	if err := s.dev.EnableRx(); err != nil {
		log.Warn("Rx enable reported: %s", err)
	}

	rq, err := s.dev.Requests()
	if err == nil {
		err = s.pipeline.Start(rq)
	}
	if err != nil {
		s.dev.DisableRx()
		return err
	}
	s.sampling = true
	return nil
}

// StopSampling disables Rx and waits for the worker. It does nothing
// when not sampling.
func (s *BladeRF) StopSampling() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sampling {
		return
	}
	log.Info("Stopping reception")
	s.dev.DisableRx()
	s.pipeline.Stop()
	s.sampling = false
}

// IsSampling reports whether the worker is delivering packets. A stalled
// stream reads as not sampling while the device stays open.
func (s *BladeRF) IsSampling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampling && s.pipeline.Running()
}

// StreamErr returns why the worker stopped on its own, if it did.
func (s *BladeRF) StreamErr() error {
	return s.pipeline.Err()
}

func (s *BladeRF) PacketSize() int { return s.dev.PacketSize() }

func (s *BladeRF) Packet(timeout time.Duration) []byte {
	return s.pipeline.Packet(timeout)
}

// ReturnPacket recycles a buffer from Packet.
func (s *BladeRF) ReturnPacket(buf []byte) {
	s.pipeline.Return(buf)
}

func (s *BladeRF) FillPacketIntoSamplePacket(packet []byte, sp *iq.SamplePacket) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Fill(packet, sp)
}

func (s *BladeRF) MixPacketIntoSamplePacket(packet []byte, sp *iq.SamplePacket, channelFrequency int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Mix(packet, sp, channelFrequency)
}

// PrintStatus prints the device state to stdout.
func (s *BladeRF) PrintStatus() {
	if p, ok := s.dev.(interface{ PrintStatus() }); ok {
		p.PrintStatus()
		return
	}
	fmt.Printf("%s: open %v\n", s.Name(), s.IsOpen())
}
