// Package iq converts bladeRF wire samples into float IQ and
// optionally shifts them into a sub-channel with a lookup-table mixer.
//
// Wire format: interleaved little-endian int16 pairs (I then Q), each
// carrying a signed 12-bit value.
package iq

import (
	"encoding/binary"
	"math"
)

const (
	// TableSize covers every 12-bit code.
	TableSize = 4096

	// BytesPerSample is one I and one Q value.
	BytesPerSample = 4

	codeOffset = 2048

	// Mixer tables never exceed this many time steps.
	maxCosineLength = 500
)

// Converter keeps the state needed to convert one stream: the amplitude
// table, the mixer table for the last mix frequency and the mixer phase.
// A converter must not be shared between streams.
type Converter struct {
	sampleRate int
	frequency  int64

	lookup [TableSize]float32

	cosFrequency int64
	cosRe        [][TableSize]float32
	cosIm        [][TableSize]float32
	cosIndex     int
}

// NewConverter builds a converter with the amplitude table filled in.
func NewConverter() *Converter {
	c := &Converter{}
	for i := range c.lookup {
		c.lookup[i] = Amplitude(i)
	}
	return c
}

// Amplitude maps a raw code in [0, 4096) to a unit-range amplitude.
func Amplitude(code int) float32 {
	return float32(code-codeOffset) / codeOffset
}

func (c *Converter) SampleRate() int      { return c.sampleRate }
func (c *Converter) Frequency() int64     { return c.frequency }
func (c *Converter) SetFrequency(f int64) { c.frequency = f }

// SetSampleRate changes the rate used for mixing; the mixer table is
// rebuilt on the next Mix call.
func (c *Converter) SetSampleRate(rate int) {
	if rate != c.sampleRate {
		c.sampleRate = rate
		c.cosRe = nil
		c.cosIm = nil
	}
}

// code extracts the table index of the sample value at offset.
func code(packet []byte, offset int) int {
	v := int16(binary.LittleEndian.Uint16(packet[offset:]))
	return (int(v) + codeOffset) & (TableSize - 1)
}

func (c *Converter) count(packet []byte, sp *SamplePacket) int {
	n := len(packet) / BytesPerSample
	if r := sp.Remaining(); r < n {
		n = r
	}
	return n
}

// Fill converts packet into sp without frequency shift and returns the
// number of samples appended.
func (c *Converter) Fill(packet []byte, sp *SamplePacket) int {
	n := c.count(packet, sp)
	start := sp.Size()
	re, im := sp.Re(), sp.Im()

	for i := 0; i < n; i++ {
		re[start+i] = c.lookup[code(packet, i*BytesPerSample)]
		im[start+i] = c.lookup[code(packet, i*BytesPerSample+2)]
	}

	sp.SetSize(start + n)
	sp.SetSampleRate(c.sampleRate)
	sp.SetFrequency(c.frequency)
	return n
}

// Mix converts packet into sp, shifting channelFrequency to baseband.
// The mixer phase carries over between calls so consecutive packets
// join without a phase jump.
func (c *Converter) Mix(packet []byte, sp *SamplePacket, channelFrequency int64) int {
	c.prepareMixer(c.frequency - channelFrequency)

	n := c.count(packet, sp)
	start := sp.Size()
	re, im := sp.Re(), sp.Im()
	period := len(c.cosRe)

	for i := 0; i < n; i++ {
		sre := code(packet, i*BytesPerSample)
		sim := code(packet, i*BytesPerSample+2)
		cr, ci := &c.cosRe[c.cosIndex], &c.cosIm[c.cosIndex]
		re[start+i] = cr[sre] - ci[sim]
		im[start+i] = cr[sim] + ci[sre]
		c.cosIndex++
		if c.cosIndex == period {
			c.cosIndex = 0
		}
	}

	sp.SetSize(start + n)
	sp.SetSampleRate(c.sampleRate)
	sp.SetFrequency(channelFrequency)
	return n
}

// prepareMixer rebuilds the mixer table when the mix frequency changes.
// A zero mix frequency, or one whose period would not fit in the table,
// is aliased up by the sample rate.
func (c *Converter) prepareMixer(mixFrequency int64) {
	rate := int64(c.sampleRate)
	if mixFrequency == 0 || (rate > 0 && rate/abs(mixFrequency) > maxCosineLength) {
		mixFrequency += rate
	}

	if c.cosRe != nil && mixFrequency == c.cosFrequency {
		return
	}
	c.cosFrequency = mixFrequency

	length := c.optimalCosineLength()
	c.cosRe = make([][TableSize]float32, length)
	c.cosIm = make([][TableSize]float32, length)

	for t := 0; t < length; t++ {
		phase := 2 * math.Pi * float64(c.cosFrequency) * float64(t) / float64(c.sampleRate)
		if c.sampleRate <= 0 {
			phase = 0
		}
		cos := float32(math.Cos(phase))
		sin := float32(math.Sin(phase))
		for i := 0; i < TableSize; i++ {
			c.cosRe[t][i] = c.lookup[i] * cos
			c.cosIm[t][i] = c.lookup[i] * sin
		}
	}
	c.cosIndex = 0
}

// optimalCosineLength finds the table length, up to maxCosineLength,
// holding a whole number of mixer periods with the smallest phase error.
func (c *Converter) optimalCosineLength() int {
	if c.sampleRate <= 0 || c.cosFrequency == 0 {
		return 1
	}
	cycle := float64(c.sampleRate) / math.Abs(float64(c.cosFrequency))
	best := int(cycle)
	bestError := math.Abs(float64(best) - cycle)

	for i := 1; float64(i)*cycle < maxCosineLength; i++ {
		l := float64(i) * cycle
		if e := l - math.Trunc(l); e < bestError {
			best = int(l)
			bestError = e
		}
	}
	if best < 1 {
		best = 1
	}
	if best > maxCosineLength {
		best = maxCosineLength
	}
	return best
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
