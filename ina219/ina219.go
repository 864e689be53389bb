// Package ina219 initializes and reads the INA219 current/voltage
// monitor on the bladeRF power rail.
package ina219

import (
	"errors"
	"fmt"

	"github.com/quan-to/slog"

	"github.com/sergev/sdrtool/nios"
)

// Registers
const (
	RegConfiguration = 0
	RegShuntVoltage  = 1
	RegBusVoltage    = 2
	RegPower         = 3
	RegCurrent       = 4
	RegCalibration   = 5
)

const (
	configReset = 0x8000

	// BRNG   (13) = 0 for 16V FSR
	// PG  (12-11) = 00 for 40mV
	// BADC (10-7) = 0011 for 12-bit / 532uS
	// SADC  (6-3) = 0011 for 12-bit / 532uS
	// MODE  (2-0) = 111 for continuous shunt & bus
	configValue = 0x019f

	Shunt      = 0.001 // ohm
	CurrentLSB = 0.001 // A per bit

	// Upper bound on reset polls; the chip leaves reset within one access.
	maxResetPolls = 100
)

var ErrResetTimeout = errors.New("INA219 did not leave reset")

var log = slog.Scope("INA219")

// Registers is the subset of the NIOS client used by the monitor.
type Registers interface {
	Read8x16(target, addr byte) (uint16, error)
	Write8x16(target, addr byte, data uint16) error
}

// Monitor drives the INA219 through NIOS 8x16 packets.
type Monitor struct {
	regs Registers
}

func New(regs Registers) *Monitor {
	return &Monitor{regs: regs}
}

func (m *Monitor) read(reg byte) (uint16, error) {
	return m.regs.Read8x16(nios.Target8x16INA219, reg)
}

func (m *Monitor) write(reg byte, value uint16) error {
	return m.regs.Write8x16(nios.Target8x16INA219, reg, value)
}

// Calibration returns the calibration register value for the fixed shunt
// and current resolution.
func Calibration() uint16 {
	shunt, lsb := Shunt, CurrentLSB
	return uint16(0.04096/(lsb*shunt) + 0.5)
}

// Initialize soft-resets the chip, then programs configuration and calibration.
func (m *Monitor) Initialize() error {
	log.Info("Resetting INA219")

	if err := m.write(RegConfiguration, configReset); err != nil {
		return fmt.Errorf("INA219 soft reset: %w", err)
	}

	value := uint16(configReset)
	for polls := 0; value&configReset != 0; polls++ {
		if polls == maxResetPolls {
			return ErrResetTimeout
		}
		var err error
		value, err = m.read(RegConfiguration)
		if err != nil {
			return fmt.Errorf("INA219 soft reset poll: %w", err)
		}
	}

	if err := m.write(RegConfiguration, configValue); err != nil {
		return fmt.Errorf("INA219 configuration: %w", err)
	}
	log.Info("Configuration register: 0x%04x", configValue)

	calibration := Calibration()
	if err := m.write(RegCalibration, calibration); err != nil {
		return fmt.Errorf("INA219 calibration: %w", err)
	}
	log.Info("Calibration register: 0x%04x", calibration)

	return nil
}

// BusVoltage returns the bus voltage in volts.
func (m *Monitor) BusVoltage() (float64, error) {
	v, err := m.read(RegBusVoltage)
	if err != nil {
		return 0, err
	}
	// Bits 15..3 hold the voltage in 4 mV steps.
	return float64(v>>3) * 0.004, nil
}

// ShuntVoltage returns the shunt voltage in volts.
func (m *Monitor) ShuntVoltage() (float64, error) {
	v, err := m.read(RegShuntVoltage)
	if err != nil {
		return 0, err
	}
	return float64(int16(v)) * 0.00001, nil
}

// Current returns the current in amperes.
func (m *Monitor) Current() (float64, error) {
	v, err := m.read(RegCurrent)
	if err != nil {
		return 0, err
	}
	return float64(int16(v)) * CurrentLSB, nil
}

// Power returns the power in watts.
func (m *Monitor) Power() (float64, error) {
	v, err := m.read(RegPower)
	if err != nil {
		return 0, err
	}
	return float64(v) * 20 * CurrentLSB, nil
}
