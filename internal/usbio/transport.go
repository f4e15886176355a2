// Package usbio provides the USB transport for the panda adapter: device
// discovery and claiming, asynchronous bulk and interrupt transfers, and the
// vendor control channel gating the adapter's output stage. It is a thin
// layer over gousb/libusb; the driver core talks to it through Transport.
package usbio

import "context"

// Transport is the I/O surface the driver core drives. BulkOut and IntIn
// must be safe for concurrent use from different goroutines; both honor
// context cancellation by aborting the in-flight transfer.
type Transport interface {
	// BulkOut writes one wire message to the adapter's bulk endpoint.
	BulkOut(ctx context.Context, buf []byte) (int, error)
	// IntIn reads the next batch of wire messages from the interrupt
	// endpoint into buf, blocking until data arrives or ctx is done.
	IntIn(ctx context.Context, buf []byte) (int, error)
	// SetOutputEnable gates the adapter's CAN output stage.
	SetOutputEnable(on bool) error
	Close() error
}
