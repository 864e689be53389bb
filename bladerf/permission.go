package bladerf

import (
	"context"

	"github.com/google/gousb"
)

// Permission grants access to a USB device before it is opened.
//
// Request returns a channel that delivers exactly one result: nil when
// access is granted, an error when it is denied. There is no timeout;
// the caller bounds the wait through ctx.
type Permission interface {
	Request(ctx context.Context, desc *gousb.DeviceDesc) <-chan error
}

// libusbPermission grants immediately. Missing access rights surface as
// ErrPermissionDenied when the device is opened.
type libusbPermission struct{}

func (libusbPermission) Request(ctx context.Context, desc *gousb.DeviceDesc) <-chan error {
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

// awaitPermission blocks until the request resolves or ctx is done.
func awaitPermission(ctx context.Context, p Permission, desc *gousb.DeviceDesc) error {
	select {
	case err := <-p.Request(ctx, desc):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
