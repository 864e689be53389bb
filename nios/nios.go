// Package nios talks to the embedded NIOS II controller of a bladeRF
// through fixed 16-byte packets carried over a pair of bulk endpoints.
package nios

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
	"github.com/quan-to/slog"
)

// Timeout bounds each half of an exchange. Quiet exchanges use a tenth of it.
const Timeout = 1000 * time.Millisecond

var (
	ErrTransportTimeout = errors.New("NIOS transfer timed out")
	ErrTransportIO      = errors.New("NIOS transfer failed")
	ErrWriteRejected    = errors.New("NIOS write not acknowledged")
)

var log = slog.Scope("NIOS")

// BulkOut is the peripheral OUT endpoint. *gousb.OutEndpoint satisfies it.
type BulkOut interface {
	WriteContext(ctx context.Context, buf []byte) (int, error)
}

// BulkIn is the peripheral IN endpoint. *gousb.InEndpoint satisfies it.
type BulkIn interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

// Client performs NIOS register accesses.
// Exchanges are not reentrant: only one request may be outstanding at a time.
type Client struct {
	out          BulkOut
	in           BulkIn
	DumpMessages bool
}

// NewClient creates a client on the given peripheral endpoints.
func NewClient(out BulkOut, in BulkIn) *Client {
	return &Client{out: out, in: in}
}

// Exchange sends a request and returns the device response.
// In quiet mode the timeout is shortened and failures are not logged.
func (c *Client) Exchange(req Packet, quiet bool) (Packet, error) {
	timeout := Timeout
	if quiet {
		timeout = Timeout / 10
	}

	if c.DumpMessages {
		log.Debug("request %s", req)
	}

	resp, err := c.transfer(req, timeout)
	if err != nil {
		if !quiet {
			log.Error("%s", err)
		}
		return resp, err
	}

	if c.DumpMessages {
		log.Debug("response %s", resp)
	}
	return resp, nil
}

func (c *Client) transfer(req Packet, timeout time.Duration) (Packet, error) {
	var resp Packet

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	n, err := c.out.WriteContext(ctx, req[:])
	cancel()
	if err != nil {
		return resp, fmt.Errorf("peripheral bulk out: %w", classify(err))
	}
	if n != PacketSize {
		return resp, fmt.Errorf("peripheral bulk out: short write of %d bytes: %w", n, ErrTransportIO)
	}

	ctx, cancel = context.WithTimeout(context.Background(), timeout)
	n, err = c.in.ReadContext(ctx, resp[:])
	cancel()
	if err != nil {
		return resp, fmt.Errorf("peripheral bulk in: %w", classify(err))
	}
	if n != PacketSize {
		return resp, fmt.Errorf("peripheral bulk in: short read of %d bytes: %w", n, ErrTransportIO)
	}
	return resp, nil
}

// classify maps endpoint errors onto the transport error kinds.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(err, gousb.TransferCancelled) ||
		errors.Is(err, gousb.ErrorTimeout) {
		return fmt.Errorf("%w: %v", ErrTransportTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTransportIO, err)
}

func (c *Client) write(req Packet, quiet bool) error {
	resp, err := c.Exchange(req, quiet)
	if err != nil {
		return err
	}
	if !resp.WriteAcked() {
		return fmt.Errorf("target %d address %d: %w", req.Target(), req.Addr(), ErrWriteRejected)
	}
	return nil
}

// Read8x16 reads a 16-bit register.
func (c *Client) Read8x16(target, addr byte) (uint16, error) {
	resp, err := c.Exchange(New8x16(target, addr, false, 0), false)
	if err != nil {
		return 0, err
	}
	return resp.Data16(), nil
}

// Write8x16 writes a 16-bit register.
func (c *Client) Write8x16(target, addr byte, data uint16) error {
	return c.write(New8x16(target, addr, true, data), false)
}

// Read8x32 reads a 32-bit register.
func (c *Client) Read8x32(target, addr byte) (uint32, error) {
	resp, err := c.Exchange(New8x32(target, addr, false, 0), false)
	if err != nil {
		return 0, err
	}
	return resp.Data32(), nil
}

// Write8x32 writes a 32-bit register.
func (c *Client) Write8x32(target, addr byte, data uint32) error {
	return c.write(New8x32(target, addr, true, data), false)
}

// Read16x64 reads a 64-bit value addressed by command and channel.
func (c *Client) Read16x64(target, cmd, channel byte) (uint64, error) {
	return c.read16x64(target, cmd, channel, false)
}

// Read16x64Quiet is Read16x64 with the short timeout and no error logging,
// for tight polling loops.
func (c *Client) Read16x64Quiet(target, cmd, channel byte) (uint64, error) {
	return c.read16x64(target, cmd, channel, true)
}

func (c *Client) read16x64(target, cmd, channel byte, quiet bool) (uint64, error) {
	resp, err := c.Exchange(New16x64(target, cmd, channel, false, 0), quiet)
	if err != nil {
		return 0, err
	}
	return resp.Data64(), nil
}

// Write16x64 writes a 64-bit value addressed by command and channel.
func (c *Client) Write16x64(target, cmd, channel byte, data uint64) error {
	return c.write(New16x64(target, cmd, channel, true, data), false)
}

// FPGAVersion returns the FPGA version as "major.minor.patch".
func (c *Client) FPGAVersion() (string, error) {
	v, err := c.Read8x32(Target8x32Version, 0)
	if err != nil {
		return "", fmt.Errorf("failed to read FPGA version: %w", err)
	}
	return fmt.Sprintf("%d.%d.%d", v&0xff, (v>>8)&0xff, (v>>16)&0xffff), nil
}

// VCTCXOTrim reads the trim DAC value.
func (c *Client) VCTCXOTrim() (uint16, error) {
	return c.Read8x16(Target8x16AD56X1DAC, 0)
}

// SetVCTCXOTrim sets the trim DAC value.
func (c *Client) SetVCTCXOTrim(value uint16) error {
	log.Info("Setting VCTCXO trim to 0x%04x", value)
	return c.Write8x16(Target8x16AD56X1DAC, 0, value)
}

// GPIO reads the FPGA control register.
func (c *Client) GPIO() (uint32, error) {
	return c.Read8x32(Target8x32Control, 0)
}

// RFFECSR reads the RF front end control/status register.
func (c *Client) RFFECSR() (uint32, error) {
	return c.Read8x32(Target8x32RFFECSR, 0)
}
