// Package bladerf opens a Nuand bladeRF 2.0 over USB and exposes the
// receive controls used by a sample source: sample rate, frequency,
// gain and Rx enable, plus the sample-in receive requests.
package bladerf

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/gousb"
	"github.com/quan-to/slog"

	"github.com/sergev/sdrtool/ina219"
	"github.com/sergev/sdrtool/nios"
	"github.com/sergev/sdrtool/rfic"
	"github.com/sergev/sdrtool/stream"
)

var log = slog.Scope("bladeRF")

// Options tune the open sequence.
type Options struct {
	// Serial selects one board when several are attached. Empty matches any.
	Serial string

	// VCTCXOTrim is written to the trim DAC after open; zero means DefaultVCTCXOTrim.
	VCTCXOTrim uint16

	// FirstGeneration forces manual gain mode and FirstGenerationGain after open.
	FirstGeneration bool

	// DumpMessages logs every NIOS packet at debug level.
	DumpMessages bool

	// Permission is consulted before opening; nil grants immediately.
	Permission Permission
}

// controlDevice issues vendor control transfers. *gousb.Device satisfies it.
type controlDevice interface {
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
}

// sampleReader is the sample-in endpoint. *gousb.InEndpoint satisfies it.
type sampleReader interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

// Device is an open bladeRF.
type Device struct {
	opts Options

	mu    sync.Mutex
	state State

	ctx      *gousb.Context
	dev      *gousb.Device
	done     func()
	control  controlDevice
	sampleIn sampleReader

	nios  *nios.Client
	rfic  *rfic.Controller
	power *ina219.Monitor

	serial          string
	firmwareVersion string
	fpgaVersion     string
}

// New returns a closed device configured by opts.
func New(opts Options) *Device {
	if opts.Permission == nil {
		opts.Permission = libusbPermission{}
	}
	if opts.VCTCXOTrim == 0 {
		opts.VCTCXOTrim = DefaultVCTCXOTrim
	}
	return &Device{opts: opts}
}

func (d *Device) setState(s State) {
	d.mu.Lock()
	if d.state != s {
		log.Debug("%s -> %s", d.state, s)
	}
	d.state = s
	d.mu.Unlock()
}

// State returns the lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// IsOpen reports whether the RF-IC is up and the device accepts commands.
func (d *Device) IsOpen() bool {
	s := d.State()
	return s == StateReady || s == StateStreaming
}

func matches(desc *gousb.DeviceDesc) bool {
	return uint16(desc.Vendor) == VendorID && uint16(desc.Product) == ProductID
}

// enumerate lists attached bladeRFs without opening them.
func enumerate(ctx *gousb.Context) ([]*gousb.DeviceDesc, error) {
	var found []*gousb.DeviceDesc
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if matches(desc) {
			log.Info("Found bladeRF at bus %d address %d", desc.Bus, desc.Address)
			found = append(found, desc)
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w (VID=0x%04X PID=0x%04X)", ErrDeviceNotFound, VendorID, ProductID)
	}
	return found, nil
}

// openDesc opens the device at the bus position of desc.
func openDesc(ctx *gousb.Context, desc *gousb.DeviceDesc) (*gousb.Device, error) {
	devs, err := ctx.OpenDevices(func(d *gousb.DeviceDesc) bool {
		return d.Bus == desc.Bus && d.Address == desc.Address && matches(d)
	})
	if len(devs) == 0 {
		if errors.Is(err, gousb.ErrorAccess) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open USB device: %w", err)
		}
		return nil, ErrDeviceNotFound
	}
	for _, extra := range devs[1:] {
		extra.Close()
	}
	return devs[0], nil
}

// Open finds the board, claims its interface and brings up the NIOS
// link, RF-IC and power monitor. On failure everything opened so far is
// released and the first error is returned.
func (d *Device) Open(ctx context.Context) error {
	if d.State() != StateClosed {
		return errors.New("device already open")
	}

	d.setState(StateEnumerating)
	d.ctx = gousb.NewContext()

	descs, err := enumerate(d.ctx)
	if err != nil {
		d.release()
		return err
	}

	var dev *gousb.Device
	for _, desc := range descs {
		d.setState(StatePermissionPending)
		if err = awaitPermission(ctx, d.opts.Permission, desc); err != nil {
			err = fmt.Errorf("%w: %v", ErrPermissionDenied, err)
			continue
		}
		d.setState(StateOpening)
		dev, err = openDesc(d.ctx, desc)
		if err != nil {
			continue
		}
		serial, _ := dev.SerialNumber()
		if d.opts.Serial != "" && serial != d.opts.Serial {
			log.Info("Skipping bladeRF with serial number %s", serial)
			dev.Close()
			dev, err = nil, fmt.Errorf("%w (serial %s)", ErrDeviceNotFound, d.opts.Serial)
			continue
		}
		d.serial = serial
		break
	}
	if dev == nil {
		d.release()
		return err
	}

	d.setState(StateOpening)
	d.dev = dev
	d.control = dev
	dev.ControlTimeout = ControlTimeout

	if err := d.claim(); err != nil {
		d.release()
		return err
	}

	return d.bringUp()
}

// bringUp initializes a claimed device and marks it ready, releasing
// it on failure.
func (d *Device) bringUp() error {
	if err := d.initialize(); err != nil {
		d.release()
		return err
	}

	d.setState(StateReady)
	log.Info("Device with serial number %s is ready", d.serial)
	return nil
}

// claim selects the interface and resolves the four endpoints.
func (d *Device) claim() error {
	cfg, err := d.dev.Config(1)
	if err != nil {
		return fmt.Errorf("%w: config 1: %v", ErrUSBClaimFailed, err)
	}

	intf, err := cfg.Interface(Interface, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("%w: interface %d: %v", ErrUSBClaimFailed, Interface, err)
	}

	d.done = func() {
		intf.Close()
		cfg.Close()
	}

	sampleIn, err := intf.InEndpoint(EndpointSampleIn)
	if err != nil {
		return fmt.Errorf("failed to open sample in endpoint: %w", err)
	}
	if _, err := intf.OutEndpoint(EndpointSampleOut); err != nil {
		return fmt.Errorf("failed to open sample out endpoint: %w", err)
	}
	peripheralIn, err := intf.InEndpoint(EndpointPeripheralIn)
	if err != nil {
		return fmt.Errorf("failed to open peripheral in endpoint: %w", err)
	}
	peripheralOut, err := intf.OutEndpoint(EndpointPeripheralOut)
	if err != nil {
		return fmt.Errorf("failed to open peripheral out endpoint: %w", err)
	}

	log.Info("Rx endpoint %s", sampleIn)

	d.sampleIn = sampleIn
	d.nios = nios.NewClient(peripheralOut, peripheralIn)
	d.nios.DumpMessages = d.opts.DumpMessages
	return nil
}

// initialize runs the firmware checks and brings up the peripherals.
func (d *Device) initialize() error {
	ready, err := d.firmwareReady()
	if err != nil || !ready {
		log.Error("Device firmware is not ready, resetting device")
		d.reset()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFirmwareNotReady, err)
		}
		return ErrFirmwareNotReady
	}
	log.Info("Device firmware is ready")

	d.firmwareVersion, err = d.queryFirmwareVersion()
	if err != nil {
		return fmt.Errorf("failed to read firmware version: %w", err)
	}
	log.Info("Firmware version is %s", d.firmwareVersion)

	loaded, err := d.fpgaLoaded()
	if err != nil || !loaded {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFPGANotLoaded, err)
		}
		return ErrFPGANotLoaded
	}
	log.Info("FPGA is loaded")

	d.fpgaVersion, err = d.nios.FPGAVersion()
	if err != nil {
		log.Error("Could not get FPGA version: %s", err)
	} else {
		log.Info("FPGA version is %s", d.fpgaVersion)
	}

	return d.setup(d.nios)
}

// setup opens the RF-IC and power monitor and applies the post-open defaults.
func (d *Device) setup(client *nios.Client) error {
	rf := rfic.New(client)
	if err := rf.Open(); err != nil {
		return fmt.Errorf("failed to initialize RF-IC: %w", err)
	}
	d.rfic = rf

	if err := rf.SetTxMute(); err != nil {
		log.Warn("Could not mute Tx: %s", err)
	}

	d.power = ina219.New(client)
	if err := d.power.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize INA219: %w", err)
	}

	d.logState()

	if err := client.SetVCTCXOTrim(d.opts.VCTCXOTrim); err != nil {
		log.Error("Could not set VCTCXO trim: %s", err)
	}

	if d.opts.FirstGeneration {
		if err := rf.SetGainMode(rfic.GainManual); err != nil {
			log.Warn("Could not set manual gain mode: %s", err)
		}
		if err := rf.SetGain(FirstGenerationGain); err != nil {
			log.Warn("Could not set gain: %s", err)
		}
	}
	return nil
}

// logState dumps the RF-IC and NIOS registers after open.
func (d *Device) logState() {
	if v, err := d.rfic.SampleRate(); err == nil {
		log.Info("Sample rate is %d", v)
	}
	if v, err := d.rfic.Frequency(); err == nil {
		log.Info("Frequency is %d", v)
	}
	if v, err := d.rfic.Bandwidth(); err == nil {
		log.Info("Bandwidth is %d", v)
	}
	if v, err := d.rfic.GainMode(); err == nil {
		log.Info("Gain mode is %s", v)
	}
	if v, err := d.rfic.Gain(); err == nil {
		log.Info("Gain is %d", v)
	}
	if v, err := d.rfic.RxFilter(); err == nil {
		log.Info("Rx filter is %d", v)
	}
	if v, err := d.nios.VCTCXOTrim(); err == nil {
		log.Info("VCTCXO trim is 0x%04x", v)
	}
	if v, err := d.nios.GPIO(); err == nil {
		log.Info("GPIO is 0x%08x", v)
	}
	if v, err := d.nios.RFFECSR(); err == nil {
		log.Info("RFFE CSR is 0x%08x", v)
	}
}

// release tears down whatever Open managed to acquire.
func (d *Device) release() {
	if d.rfic != nil {
		if err := d.rfic.Close(); err != nil {
			log.Warn("RF-IC close: %s", err)
		}
		d.rfic = nil
	}
	d.power = nil
	d.nios = nil
	d.sampleIn = nil
	d.control = nil

	if d.done != nil {
		d.done()
		d.done = nil
	}
	if d.dev != nil {
		d.dev.Close()
		d.dev = nil
	}
	if d.ctx != nil {
		d.ctx.Close()
		d.ctx = nil
	}
	d.setState(StateClosed)
}

// Close disables Rx if it is on and releases the device. The Device may
// be opened again afterwards.
func (d *Device) Close() error {
	switch d.State() {
	case StateClosed:
		return nil
	case StateStreaming:
		d.DisableRx()
	}
	d.setState(StateClosing)
	d.release()
	log.Info("Device closed")
	return nil
}

// Requests returns a fresh set of NumTransfers receive requests on the
// sample-in endpoint.
func (d *Device) Requests() (stream.RequestQueue, error) {
	if d.sampleIn == nil {
		return nil, ErrNotOpen
	}
	return newRequestQueue(d.sampleIn, NumTransfers), nil
}

// PowerMonitor returns the INA219 of an open device.
func (d *Device) PowerMonitor() *ina219.Monitor { return d.power }

func (d *Device) Serial() string          { return d.serial }
func (d *Device) FirmwareVersion() string { return d.firmwareVersion }
func (d *Device) FPGAVersion() string     { return d.fpgaVersion }
func (d *Device) PacketSize() int         { return PacketSize }

func (d *Device) MinFrequency() int64 { return MinFrequency }
func (d *Device) MaxFrequency() int64 { return MaxFrequency }
func (d *Device) MinSampleRate() int  { return MinSampleRate }
func (d *Device) MaxSampleRate() int  { return MaxSampleRate }

// SupportedSampleRates returns the discrete rates offered to users.
func (d *Device) SupportedSampleRates() []int {
	return append([]int(nil), supportedSampleRates...)
}
