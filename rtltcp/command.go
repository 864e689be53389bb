package rtltcp

import (
	"encoding/binary"
	"fmt"
)

type CommandType uint8

const (
	SetFrequency           CommandType = 0x01
	SetSampleRate          CommandType = 0x02
	SetGainMode            CommandType = 0x03
	SetGain                CommandType = 0x04
	SetFrequencyCorrection CommandType = 0x05
	SetIfStage             CommandType = 0x06
	SetTestMode            CommandType = 0x07
	SetAgcMode             CommandType = 0x08
	SetDirectSampling      CommandType = 0x09
	SetOffsetTuning        CommandType = 0x0A
	SetRtlCrystal          CommandType = 0x0B
	SetTunerCrystal        CommandType = 0x0C
	SetTunerGainByIndex    CommandType = 0x0D
	SetTunerBandwidth      CommandType = 0x0E
	SetBiasTee             CommandType = 0x0F
)

var commandNames = map[CommandType]string{
	SetFrequency:           "SetFrequency",
	SetSampleRate:          "SetSampleRate",
	SetGainMode:            "SetGainMode",
	SetGain:                "SetGain",
	SetFrequencyCorrection: "SetFrequencyCorrection",
	SetIfStage:             "SetIfStage",
	SetTestMode:            "SetTestMode",
	SetAgcMode:             "SetAgcMode",
	SetDirectSampling:      "SetDirectSampling",
	SetOffsetTuning:        "SetOffsetTuning",
	SetRtlCrystal:          "SetRtlCrystal",
	SetTunerCrystal:        "SetTunerCrystal",
	SetTunerGainByIndex:    "SetTunerGainByIndex",
	SetTunerBandwidth:      "SetTunerBandwidth",
	SetBiasTee:             "SetBiasTee",
}

func (c CommandType) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(0x%02x)", uint8(c))
}

// CommandSize is the wire size of a client command.
const CommandSize = 5

// Command is a client request: one type byte and a big-endian parameter.
type Command struct {
	Type  CommandType
	Param [4]byte
}

// Value returns the parameter as an integer.
func (c Command) Value() uint32 {
	return binary.BigEndian.Uint32(c.Param[:])
}

// NewCommand builds a command with the given parameter.
func NewCommand(t CommandType, value uint32) Command {
	c := Command{Type: t}
	binary.BigEndian.PutUint32(c.Param[:], value)
	return c
}

// Bytes returns the wire form of c.
func (c Command) Bytes() []byte {
	return append([]byte{byte(c.Type)}, c.Param[:]...)
}

func parseCommand(buf []byte) Command {
	var c Command
	c.Type = CommandType(buf[0])
	copy(c.Param[:], buf[1:CommandSize])
	return c
}
