// Package source defines the IQ sample source contract consumed by the
// commands and the rtl_tcp server, with a registry of backends.
package source

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sergev/sdrtool/config"
	"github.com/sergev/sdrtool/iq"
)

// Callback receives the outcome of Open.
type Callback interface {
	OnSourceReady(src Source)
	OnSourceError(src Source, reason string)
}

// Source is a receiver producing raw sample packets plus the converter
// that turns them into IQ.
type Source interface {
	// Open brings the device up and reports the outcome through cb
	// (which may be nil) as well as the return value.
	Open(ctx context.Context, cb Callback) bool
	Close() error
	IsOpen() bool
	Name() string

	SampleRate() int
	SetSampleRate(rate int)
	Frequency() int64
	SetFrequency(frequency int64)
	MinFrequency() int64
	MaxFrequency() int64
	MinSampleRate() int
	MaxSampleRate() int
	SupportedSampleRates() []int
	NextHigherOptimalSampleRate(rate int) int
	NextLowerOptimalSampleRate(rate int) int

	Gain() int
	SetGain(gain int)
	AGC() bool
	SetAGC(agc bool)

	StartSampling() error
	StopSampling()
	IsSampling() bool

	PacketSize() int
	Packet(timeout time.Duration) []byte
	ReturnPacket(buf []byte)
	FillPacketIntoSamplePacket(packet []byte, sp *iq.SamplePacket) int
	MixPacketIntoSamplePacket(packet []byte, sp *iq.SamplePacket, channelFrequency int64) int
}

// Factory creates a closed source for a configured device.
type Factory func(dev config.Device) Source

var registered = map[string]Factory{}

// Register makes a backend available to New.
func Register(backend string, factory Factory) {
	registered[backend] = factory
}

// Backends lists the registered backend names.
func Backends() []string {
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates a source for dev using its backend.
func New(dev config.Device) (Source, error) {
	factory, ok := registered[dev.Backend]
	if !ok {
		return nil, fmt.Errorf("no source backend %q (have %v)", dev.Backend, Backends())
	}
	return factory(dev), nil
}
