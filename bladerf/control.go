package bladerf

import (
	"encoding/binary"
	"fmt"
)

// controlIn performs a vendor IN request and decodes the 4-byte
// little-endian response.
func (d *Device) controlIn(request uint8, value uint16, silent bool) (uint32, error) {
	if d.control == nil {
		return 0, ErrNotOpen
	}
	buf := make([]byte, 4)
	n, err := d.control.Control(ControlRequestType, request, value, 0, buf)
	if err != nil {
		if !silent {
			log.Error("USB control transfer failed, request=%d: %s", request, err)
		}
		return 0, fmt.Errorf("control transfer %d failed: %w", request, err)
	}
	if n != len(buf) {
		if !silent {
			log.Error("Response length mismatch, request=%d: %d bytes", request, n)
		}
		return 0, ErrResponseLength
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (d *Device) firmwareReady() (bool, error) {
	log.Info("Reading firmware ready state")
	v, err := d.controlIn(RequestQueryDeviceReady, 0, false)
	return v == 1, err
}

func (d *Device) fpgaLoaded() (bool, error) {
	log.Info("Reading FPGA ready state")
	v, err := d.controlIn(RequestQueryFPGAStatus, 0, false)
	return v == 1, err
}

// queryFirmwareVersion returns "major.minor".
func (d *Device) queryFirmwareVersion() (string, error) {
	log.Info("Reading firmware version")
	v, err := d.controlIn(RequestQueryVersion, 0, false)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d", int16(v), int16(v>>16)), nil
}

// reset reboots the device. The device drops off the bus, so the
// transfer result is ignored.
func (d *Device) reset() {
	d.controlIn(RequestReset, 1, true)
}

// toggleRx switches the firmware's Rx sample path.
func (d *Device) toggleRx(on bool) error {
	var value uint16
	if on {
		value = 1
	}
	status, err := d.controlIn(RequestRFRx, value, false)
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("firmware returned status %d", int32(status))
	}
	return nil
}
