package bladerf

import (
	"errors"
	"fmt"
	"time"
)

const (
	VendorID  = 0x2cf0 // 11504
	ProductID = 0x5250 // 21072
	Interface = 1

	EndpointSampleIn      = 0x81
	EndpointSampleOut     = 0x01
	EndpointPeripheralIn  = 0x82
	EndpointPeripheralOut = 0x02

	ControlRequestType = 0xc0 // IN | VENDOR | DEVICE

	RequestQueryVersion     = 0
	RequestQueryFPGAStatus  = 1
	RequestRFRx             = 4
	RequestRFTx             = 5
	RequestQueryDeviceReady = 6
	RequestReset            = 105

	ControlTimeout = 1000 * time.Millisecond

	PacketSize   = 8192
	NumTransfers = 32

	MinSampleRate = 520834
	MaxSampleRate = 61440000

	// Below this rate the RF-IC needs x4 FIR decimation.
	FIRSampleRate = 2083334

	MinFrequency = 70000000
	MaxFrequency = 6000000000

	// Applied after open unless the configuration overrides it.
	DefaultVCTCXOTrim = 0x1f3f

	// Gain forced on first-generation boards.
	FirstGenerationGain = 16
)

var supportedSampleRates = []int{
	520834, 1000000, 2000000, 4000000, 8000000,
	10000000, 20000000, 30000000, 40000000, 61440000,
}

var (
	ErrDeviceNotFound   = errors.New("bladeRF device not found")
	ErrPermissionDenied = errors.New("USB permission denied")
	ErrUSBClaimFailed   = errors.New("failed to claim USB interface")
	ErrFirmwareNotReady = errors.New("device firmware is not ready")
	ErrFPGANotLoaded    = errors.New("FPGA is not loaded")
	ErrNotOpen          = errors.New("device is not open")
	ErrResponseLength   = errors.New("control response length mismatch")
)

// State is the lifecycle position of a Device.
type State int

const (
	StateClosed State = iota
	StateEnumerating
	StatePermissionPending
	StateOpening
	StateReady
	StateStreaming
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateEnumerating:
		return "enumerating"
	case StatePermissionPending:
		return "permission pending"
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}
