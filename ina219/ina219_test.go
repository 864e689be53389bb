package ina219

import (
	"errors"
	"testing"

	"github.com/sergev/sdrtool/nios"
)

// fakeChip reports the reset bit for resetReads configuration reads
// and rejects writes to rejectReg (-1 for none).
type fakeChip struct {
	regs       map[byte]uint16
	writes     []byte
	resetReads int
	rejectReg  int
	readErr    error
}

func newFakeChip() *fakeChip {
	return &fakeChip{regs: make(map[byte]uint16), rejectReg: -1}
}

func (f *fakeChip) Read8x16(target, addr byte) (uint16, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if addr == RegConfiguration && f.resetReads > 0 {
		f.resetReads--
		return configReset, nil
	}
	return f.regs[addr], nil
}

func (f *fakeChip) Write8x16(target, addr byte, data uint16) error {
	if target != nios.Target8x16INA219 {
		return errors.New("wrong target")
	}
	f.writes = append(f.writes, addr)
	if int(addr) == f.rejectReg {
		return nios.ErrWriteRejected
	}
	if addr == RegConfiguration && data&configReset != 0 {
		// Reset clears to the power-on default.
		f.regs[addr] = 0x399f
		return nil
	}
	f.regs[addr] = data
	return nil
}

func TestCalibration(t *testing.T) {
	if c := Calibration(); c != 40960 {
		t.Errorf("Calibration() = %d, expected 40960", c)
	}
}

func TestInitialize(t *testing.T) {
	chip := newFakeChip()
	chip.resetReads = 3

	if err := New(chip).Initialize(); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if chip.regs[RegConfiguration] != configValue {
		t.Errorf("configuration = 0x%04x, expected 0x%04x", chip.regs[RegConfiguration], configValue)
	}
	if chip.regs[RegCalibration] != Calibration() {
		t.Errorf("calibration = 0x%04x, expected 0x%04x", chip.regs[RegCalibration], Calibration())
	}
}

func TestInitializeResetBounded(t *testing.T) {
	chip := newFakeChip()
	chip.resetReads = maxResetPolls + 10

	err := New(chip).Initialize()
	if !errors.Is(err, ErrResetTimeout) {
		t.Errorf("Initialize() error = %v, expected ErrResetTimeout", err)
	}
}

func TestInitializeFailsFast(t *testing.T) {
	chip := newFakeChip()
	chip.rejectReg = RegCalibration
	if err := New(chip).Initialize(); !errors.Is(err, nios.ErrWriteRejected) {
		t.Errorf("rejected calibration: error = %v", err)
	}

	chip = newFakeChip()
	chip.readErr = nios.ErrTransportIO
	if err := New(chip).Initialize(); !errors.Is(err, nios.ErrTransportIO) {
		t.Errorf("failed poll: error = %v", err)
	}
	if len(chip.writes) != 1 {
		t.Errorf("failed poll: %d writes issued, expected only the reset", len(chip.writes))
	}
}

func TestReadings(t *testing.T) {
	chip := newFakeChip()
	chip.regs[RegBusVoltage] = 5000 << 3 / 4 // 5.000 V
	chip.regs[RegCurrent] = 0xfff6           // -10 mA

	m := New(chip)
	v, err := m.BusVoltage()
	if err != nil || v < 4.999 || v > 5.001 {
		t.Errorf("BusVoltage() = %v, %v", v, err)
	}
	i, err := m.Current()
	if err != nil || i > -0.0099 || i < -0.0101 {
		t.Errorf("Current() = %v, %v", i, err)
	}
}
