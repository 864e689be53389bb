package bladerf

import (
	"fmt"
)

// PrintStatus prints device information to stdout
func (d *Device) PrintStatus() {
	fmt.Printf("bladeRF Info:\n")
	fmt.Printf("Serial Number: %s\n", d.serial)
	fmt.Printf("Firmware Version: %s\n", d.firmwareVersion)
	fmt.Printf("FPGA Version: %s\n", d.fpgaVersion)
	fmt.Printf("State: %s\n", d.State())

	if d.rfic == nil {
		return
	}

	if v, err := d.SampleRate(); err == nil {
		fmt.Printf("Sample Rate: %d Hz\n", v)
	}
	if v, err := d.Frequency(); err == nil {
		fmt.Printf("Frequency: %d Hz\n", v)
	}
	if v, err := d.rfic.Bandwidth(); err == nil {
		fmt.Printf("Bandwidth: %d Hz\n", v)
	}
	if v, err := d.rfic.GainMode(); err == nil {
		fmt.Printf("Gain Mode: %s\n", v)
	}
	if v, err := d.Gain(); err == nil {
		fmt.Printf("Gain: %d dB\n", v)
	}
	if v, err := d.rfic.RxFilter(); err == nil {
		fmt.Printf("Rx FIR: %dx decimation\n", firFactor(v))
	}
	if v, err := d.rfic.RSSI(); err == nil {
		fmt.Printf("RSSI: %d\n", v)
	}

	if d.power != nil {
		volts, err1 := d.power.BusVoltage()
		amps, err2 := d.power.Current()
		watts, err3 := d.power.Power()
		if err1 == nil && err2 == nil && err3 == nil {
			fmt.Printf("Power: %.3f V, %.3f A, %.3f W\n", volts, amps, watts)
		}
	}

	fmt.Printf("Supported Sample Rates:")
	for _, rate := range supportedSampleRates {
		fmt.Printf(" %d", rate)
	}
	fmt.Printf("\n")
}
