package iq

// SamplePacket is a growable batch of float IQ samples handed to the
// consumer, tagged with the rate and frequency it was produced at.
type SamplePacket struct {
	re         []float32
	im         []float32
	size       int
	sampleRate int
	frequency  int64
}

// NewSamplePacket allocates a packet able to hold capacity samples.
func NewSamplePacket(capacity int) *SamplePacket {
	return &SamplePacket{
		re: make([]float32, capacity),
		im: make([]float32, capacity),
	}
}

// Re returns the whole in-phase array; only the first Size() entries are valid.
func (p *SamplePacket) Re() []float32 { return p.re }

// Im returns the whole quadrature array; only the first Size() entries are valid.
func (p *SamplePacket) Im() []float32 { return p.im }

// Capacity returns the total number of samples the packet can hold.
func (p *SamplePacket) Capacity() int { return len(p.re) }

// Remaining returns how many samples still fit.
func (p *SamplePacket) Remaining() int { return len(p.re) - p.size }

func (p *SamplePacket) Size() int { return p.size }

// SetSize sets the number of valid samples, clamped to the capacity.
func (p *SamplePacket) SetSize(size int) {
	if size < 0 {
		size = 0
	}
	if size > len(p.re) {
		size = len(p.re)
	}
	p.size = size
}

func (p *SamplePacket) SampleRate() int        { return p.sampleRate }
func (p *SamplePacket) SetSampleRate(rate int) { p.sampleRate = rate }
func (p *SamplePacket) Frequency() int64       { return p.frequency }
func (p *SamplePacket) SetFrequency(f int64)   { p.frequency = f }

// Complex64 returns a copy of the valid samples as complex values.
func (p *SamplePacket) Complex64() []complex64 {
	out := make([]complex64, p.size)
	for i := range out {
		out[i] = complex(p.re[i], p.im[i])
	}
	return out
}
