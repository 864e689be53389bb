package bladerf

import (
	"errors"

	"github.com/sergev/sdrtool/rfic"
)

// FIRModeForRate returns the Rx decimation and Tx interpolation filter
// modes for a target sample rate.
func FIRModeForRate(rate int) (rx, tx uint64) {
	switch {
	case rate < FIRSampleRate:
		return rfic.RxFIRDec4, rfic.TxFIRInt4
	case rate <= MaxSampleRate/2:
		return rfic.RxFIRDec2, rfic.TxFIRInt2
	default:
		return rfic.RxFIRDec1, rfic.TxFIRInt1
	}
}

func firFactor(rx uint64) int {
	switch rx {
	case rfic.RxFIRDec4:
		return 4
	case rfic.RxFIRDec2:
		return 2
	}
	return 1
}

// SampleRate returns the RF-IC sample rate.
func (d *Device) SampleRate() (int, error) {
	if d.rfic == nil {
		return 0, ErrNotOpen
	}
	v, err := d.rfic.SampleRate()
	return int(v), err
}

// SetSampleRate selects the FIR filters for rate, then commits the rate
// and a bandwidth of 90% of it. Moving up from below FIRSampleRate, the
// RF-IC is first raised to FIRSampleRate so the new filter mode is
// valid at the current rate.
func (d *Device) SetSampleRate(rate int) error {
	if d.rfic == nil {
		return ErrNotOpen
	}

	rx, tx := FIRModeForRate(rate)
	if rate >= FIRSampleRate {
		current, err := d.rfic.SampleRate()
		if err != nil || current < FIRSampleRate {
			if err := d.rfic.SetSampleRate(FIRSampleRate); err != nil {
				log.Warn("Could not raise sample rate to %d: %s", FIRSampleRate, err)
			}
		}
	}

	err := d.rfic.SetRxFilter(rx)
	if err == nil {
		err = d.rfic.SetTxFilter(tx)
	}
	if err != nil {
		factor := firFactor(rx)
		log.Error("Failed to set FIR filters to %dx decimate/interpolate: %s", factor, err)
	}

	if err := d.rfic.SetSampleRate(uint64(rate)); err != nil {
		return err
	}
	return d.rfic.SetBandwidth(uint64(float64(rate) * 0.9))
}

// Frequency returns the Rx LO frequency in Hz.
func (d *Device) Frequency() (int64, error) {
	if d.rfic == nil {
		return 0, ErrNotOpen
	}
	v, err := d.rfic.Frequency()
	return int64(v), err
}

// SetFrequency tunes the Rx LO. Quiet suppresses the read-back log line.
func (d *Device) SetFrequency(frequency int64, quiet bool) error {
	if d.rfic == nil {
		return ErrNotOpen
	}
	if frequency < 0 {
		return errors.New("negative frequency")
	}
	return d.rfic.SetFrequency(uint64(frequency), quiet)
}

// ManualGain reports whether the Rx chain is in manual gain mode.
func (d *Device) ManualGain() (bool, error) {
	if d.rfic == nil {
		return false, ErrNotOpen
	}
	mode, err := d.rfic.GainMode()
	return mode == rfic.GainManual, err
}

// SetManualGain selects manual gain or slow-attack AGC.
func (d *Device) SetManualGain(manual bool) error {
	if d.rfic == nil {
		return ErrNotOpen
	}
	mode := rfic.GainSlowAttackAGC
	if manual {
		mode = rfic.GainManual
	}
	return d.rfic.SetGainMode(mode)
}

func (d *Device) Gain() (int, error) {
	if d.rfic == nil {
		return 0, ErrNotOpen
	}
	return d.rfic.Gain()
}

func (d *Device) SetGain(gain int) error {
	if d.rfic == nil {
		return ErrNotOpen
	}
	return d.rfic.SetGain(gain)
}

// EnableRx turns on the firmware sample path and the RF-IC receiver.
// Both steps are attempted; the first failure is returned. The device
// stays ready when neither step succeeds.
func (d *Device) EnableRx() error {
	if d.rfic == nil {
		return ErrNotOpen
	}

	fwErr := d.toggleRx(true)
	if fwErr != nil {
		log.Error("Failed to enable Rx (firmware error): %s", fwErr)
	} else {
		log.Info("Rx enabled")
	}

	rfErr := d.rfic.Enable(true)
	if rfErr != nil {
		log.Error("Failed to enable Rx (RFIC error): %s", rfErr)
	}

	if fwErr != nil && rfErr != nil {
		return errors.Join(fwErr, rfErr)
	}
	d.setState(StateStreaming)
	if fwErr != nil {
		return fwErr
	}
	return rfErr
}

// DisableRx turns off the RF-IC receiver, then the firmware sample path.
// It does nothing on a closed device.
func (d *Device) DisableRx() {
	if d.rfic == nil {
		return
	}
	if err := d.rfic.Enable(false); err != nil {
		log.Warn("Failed to disable Rx (RFIC error): %s", err)
	}
	if err := d.toggleRx(false); err != nil {
		log.Warn("Failed to disable Rx (firmware error): %s", err)
	}
	if d.State() == StateStreaming {
		d.setState(StateReady)
	}
}
