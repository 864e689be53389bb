// Package rfic controls the AD9361 RF transceiver through the
// RF-IC command set of the NIOS 16x64 protocol.
//
// The firmware applies register writes asynchronously, so every write
// is followed by polling the status command until the firmware's write
// queue drains.
package rfic

import (
	"errors"
	"fmt"
	"time"

	"github.com/quan-to/slog"

	"github.com/sergev/sdrtool/nios"
)

// Channels
const (
	ChannelRx0     = 0
	ChannelTx0     = 1
	ChannelRx1     = 2
	ChannelTx1     = 3
	ChannelInvalid = nios.ChannelInvalid
)

// Commands
const (
	CmdStatus     = 0
	CmdInit       = 1
	CmdEnable     = 2
	CmdSampleRate = 3
	CmdFrequency  = 4
	CmdBandwidth  = 5
	CmdGainMode   = 6
	CmdGain       = 7
	CmdRSSI       = 8
	CmdFilter     = 9
	CmdTxMute     = 10
)

// Subsystem states
const (
	StateOff     = 0
	StateOn      = 1
	StateStandby = 2
)

// Rx FIR modes
const (
	RxFIRBypass = 0
	RxFIRCustom = 1
	RxFIRDec1   = 2
	RxFIRDec2   = 3
	RxFIRDec4   = 4
)

// Tx FIR modes
const (
	TxFIRBypass = 0
	TxFIRCustom = 1
	TxFIRInt1   = 2
	TxFIRInt2   = 3
	TxFIRInt4   = 4
)

// GainMode selects manual or automatic gain control of the Rx chain.
type GainMode uint64

const (
	GainDefault       GainMode = 0
	GainManual        GainMode = 1 // MGC
	GainFastAttackAGC GainMode = 2
	GainSlowAttackAGC GainMode = 3
	GainHybridAGC     GainMode = 4
)

func (m GainMode) String() string {
	switch m {
	case GainDefault:
		return "default"
	case GainManual:
		return "manual"
	case GainFastAttackAGC:
		return "fast attack AGC"
	case GainSlowAttackAGC:
		return "slow attack AGC"
	case GainHybridAGC:
		return "hybrid AGC"
	}
	return fmt.Sprintf("unknown (%d)", uint64(m))
}

// Write flow control
const (
	drainTries = 50
	drainDelay = 100 * time.Microsecond

	queueFull = 255
)

// ErrRegisterIO wraps every failed RF-IC access.
var ErrRegisterIO = errors.New("RF-IC register access failed")

var log = slog.Scope("RFIC")

// Registers is the subset of the NIOS client used by the controller.
type Registers interface {
	Read16x64(target, cmd, channel byte) (uint64, error)
	Read16x64Quiet(target, cmd, channel byte) (uint64, error)
	Write16x64(target, cmd, channel byte, data uint64) error
}

// Controller issues RF-IC commands.
type Controller struct {
	regs   Registers
	opened bool
	sleep  func(time.Duration)
}

// New creates a controller on top of a NIOS client.
func New(regs Registers) *Controller {
	return &Controller{regs: regs, sleep: time.Sleep}
}

func (c *Controller) read(cmd, channel byte) (uint64, error) {
	v, err := c.regs.Read16x64(nios.Target16x64RFIC, cmd, channel)
	if err != nil {
		return 0, fmt.Errorf("%w: command %d channel %d: %v", ErrRegisterIO, cmd, channel, err)
	}
	return v, nil
}

// writeQueueLength decodes the status word: bit 0 is set once the RF-IC
// is initialized, bits 8..15 hold the number of pending writes.
// A failed read counts as a full queue so the caller keeps polling.
func (c *Controller) writeQueueLength() int {
	status, err := c.regs.Read16x64Quiet(nios.Target16x64RFIC, CmdStatus, ChannelInvalid)
	if err != nil {
		return queueFull
	}
	if status&1 == 0 {
		return queueFull
	}
	return int((status >> 8) & 0xff)
}

// write issues a command and waits, bounded, for the firmware to apply it.
func (c *Controller) write(cmd, channel byte, value uint64) error {
	err := c.regs.Write16x64(nios.Target16x64RFIC, cmd, channel, value)

	for tries := 0; tries < drainTries; tries++ {
		if c.writeQueueLength() == 0 {
			break
		}
		c.sleep(drainDelay)
	}

	if err != nil {
		return fmt.Errorf("%w: command %d channel %d: %v", ErrRegisterIO, cmd, channel, err)
	}
	return nil
}

// Open initializes the RF-IC subsystem.
func (c *Controller) Open() error {
	log.Info("Opening RFIC")
	if err := c.write(CmdInit, ChannelInvalid, StateOn); err != nil {
		return err
	}
	c.opened = true
	return nil
}

// Close shuts the RF-IC subsystem down. Closing twice does nothing.
func (c *Controller) Close() error {
	if !c.opened {
		return nil
	}
	log.Info("Closing RFIC")
	c.opened = false
	return c.write(CmdInit, ChannelInvalid, StateOff)
}

// Enable turns the Rx0 chain on or off.
func (c *Controller) Enable(on bool) error {
	state := uint64(StateOff)
	if on {
		log.Info("Enabling RFIC Rx")
		state = StateOn
	} else {
		log.Info("Disabling RFIC Rx")
	}
	return c.write(CmdEnable, ChannelRx0, state)
}

// SampleRate returns the Rx sample rate in Hz.
func (c *Controller) SampleRate() (uint64, error) {
	return c.read(CmdSampleRate, ChannelRx0)
}

// SetSampleRate sets the Rx sample rate in Hz.
func (c *Controller) SetSampleRate(rate uint64) error {
	log.Info("Setting RFIC sample rate to %d", rate)
	if err := c.write(CmdSampleRate, ChannelRx0, rate); err != nil {
		return err
	}
	if actual, err := c.SampleRate(); err == nil {
		log.Info("RFIC sample rate set to %d", actual)
	}
	return nil
}

// Bandwidth returns the Rx analog bandwidth in Hz.
func (c *Controller) Bandwidth() (uint64, error) {
	return c.read(CmdBandwidth, ChannelRx0)
}

// SetBandwidth sets the Rx analog bandwidth in Hz.
func (c *Controller) SetBandwidth(bandwidth uint64) error {
	log.Info("Setting RFIC bandwidth to %d", bandwidth)
	return c.write(CmdBandwidth, ChannelRx0, bandwidth)
}

// GainMode returns the Rx gain control mode.
func (c *Controller) GainMode() (GainMode, error) {
	v, err := c.read(CmdGainMode, ChannelRx0)
	return GainMode(v), err
}

// SetGainMode sets the Rx gain control mode.
func (c *Controller) SetGainMode(mode GainMode) error {
	log.Info("Setting RFIC gain mode to %s", mode)
	return c.write(CmdGainMode, ChannelRx0, uint64(mode))
}

// Gain returns the Rx gain in dB.
func (c *Controller) Gain() (int, error) {
	v, err := c.read(CmdGain, ChannelRx0)
	return int(int32(v)), err
}

// SetGain sets the Rx gain in dB.
func (c *Controller) SetGain(gain int) error {
	log.Info("Setting RFIC gain to %d", gain)
	return c.write(CmdGain, ChannelRx0, uint64(int64(gain)))
}

// Frequency returns the Rx LO frequency in Hz.
func (c *Controller) Frequency() (uint64, error) {
	return c.read(CmdFrequency, ChannelRx0)
}

// SetFrequency tunes the Rx LO. Quiet suppresses logging for fast re-tuning.
func (c *Controller) SetFrequency(frequency uint64, quiet bool) error {
	if !quiet {
		log.Info("Setting RFIC frequency to %d", frequency)
	}
	return c.write(CmdFrequency, ChannelRx0, frequency)
}

// RxFilter returns the Rx FIR mode.
func (c *Controller) RxFilter() (uint64, error) {
	return c.read(CmdFilter, ChannelRx0)
}

// SetRxFilter sets the Rx FIR mode.
func (c *Controller) SetRxFilter(filter uint64) error {
	log.Info("Setting RFIC Rx filter to %d", filter)
	return c.write(CmdFilter, ChannelRx0, filter)
}

// SetTxFilter sets the Tx FIR mode.
func (c *Controller) SetTxFilter(filter uint64) error {
	log.Info("Setting RFIC Tx filter to %d", filter)
	return c.write(CmdFilter, ChannelTx0, filter)
}

// RSSI returns the raw received signal strength of Rx0.
func (c *Controller) RSSI() (uint64, error) {
	return c.read(CmdRSSI, ChannelRx0)
}

// SetTxMute mutes both transmit channels.
func (c *Controller) SetTxMute() error {
	log.Info("Setting RFIC Tx mute")
	err0 := c.write(CmdTxMute, ChannelTx0, 1)
	err1 := c.write(CmdTxMute, ChannelTx1, 1)
	return errors.Join(err0, err1)
}
