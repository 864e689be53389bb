package rtltcp

import (
	"bytes"
	"encoding/binary"
)

type TunerType uint32

const (
	TunerUnknown TunerType = iota
	TunerE4000
	TunerFC0012
	TunerFC0013
	TunerFC2580
	TunerR820T
	TunerR828D
)

// DongleInfo is the greeting sent to every client.
type DongleInfo struct {
	Magic          [4]uint8
	TunerType      TunerType
	TunerGainCount uint32
}

var magic = [4]uint8{'R', 'T', 'L', '0'}

// Bytes returns the big-endian wire form.
func (d DongleInfo) Bytes() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, d)
	return buf.Bytes()
}
