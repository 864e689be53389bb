package nios

import (
	"encoding/binary"
	"fmt"
)

// PacketSize is the size of every NIOS request and response.
const PacketSize = 16

// Packet magic bytes
const (
	Magic8x16  = 'B'
	Magic8x32  = 'C'
	Magic16x64 = 'E'
)

// Field offsets shared by all packet shapes
const (
	idxMagic  = 0
	idxTarget = 1
	idxFlags  = 2
	idxAddr   = 4

	idx8x16Data  = 5
	idx8x32Data  = 5
	idx16x64Chan = 5
	idx16x64Data = 6
)

// FlagWrite marks a write request; on response it signals the write was accepted.
const FlagWrite = 1 << 0

// Targets of 8x16 packets
const (
	Target8x16VCTCXODAC = 0
	Target8x16IQCorr    = 1
	Target8x16AGCCorr   = 2
	Target8x16AD56X1DAC = 3
	Target8x16INA219    = 4
)

// Targets of 8x32 packets
const (
	Target8x32Version  = 0
	Target8x32Control  = 1
	Target8x32ADF4351  = 2
	Target8x32RFFECSR  = 3
	Target8x32ADF400X  = 4
	Target8x32Fastlock = 5
)

// Targets of 16x64 packets
const (
	Target16x64AD9361 = 0
	Target16x64RFIC   = 1
)

// ChannelInvalid selects no channel, for channel-agnostic RF-IC commands.
const ChannelInvalid = 0xff

// Packet is a raw NIOS request or response.
type Packet [PacketSize]byte

// New8x16 builds a packet with 8-bit address and 16-bit data.
func New8x16(target, addr byte, write bool, data uint16) Packet {
	var p Packet
	p.setHeader(Magic8x16, target, write)
	p[idxAddr] = addr
	binary.LittleEndian.PutUint16(p[idx8x16Data:], data)
	return p
}

// New8x32 builds a packet with 8-bit address and 32-bit data.
func New8x32(target, addr byte, write bool, data uint32) Packet {
	var p Packet
	p.setHeader(Magic8x32, target, write)
	p[idxAddr] = addr
	binary.LittleEndian.PutUint32(p[idx8x32Data:], data)
	return p
}

// New16x64 builds a packet with 16-bit address (command and channel) and 64-bit data.
func New16x64(target, cmd, channel byte, write bool, data uint64) Packet {
	var p Packet
	p.setHeader(Magic16x64, target, write)
	p[idxAddr] = cmd
	p[idx16x64Chan] = channel
	binary.LittleEndian.PutUint64(p[idx16x64Data:], data)
	return p
}

func (p *Packet) setHeader(magic, target byte, write bool) {
	p[idxMagic] = magic
	p[idxTarget] = target
	if write {
		p[idxFlags] = FlagWrite
	}
}

func (p Packet) Magic() byte  { return p[idxMagic] }
func (p Packet) Target() byte { return p[idxTarget] }
func (p Packet) Flags() byte  { return p[idxFlags] }
func (p Packet) Addr() byte   { return p[idxAddr] }

// Channel returns the channel selector of a 16x64 packet.
func (p Packet) Channel() byte { return p[idx16x64Chan] }

// Data16 returns the data field of an 8x16 packet.
func (p Packet) Data16() uint16 { return binary.LittleEndian.Uint16(p[idx8x16Data:]) }

// Data32 returns the data field of an 8x32 packet.
func (p Packet) Data32() uint32 { return binary.LittleEndian.Uint32(p[idx8x32Data:]) }

// Data64 returns the data field of a 16x64 packet.
func (p Packet) Data64() uint64 { return binary.LittleEndian.Uint64(p[idx16x64Data:]) }

// WriteAcked reports whether the device accepted a write.
// Only the flags byte matters; the data field of the echo is ignored.
func (p Packet) WriteAcked() bool {
	return p[idxFlags]&FlagWrite != 0
}

// String formats the packet as hex, for message dumps.
func (p Packet) String() string {
	return fmt.Sprintf("%X", p[:])
}
