package usbio

import (
	"context"
	"errors"

	"github.com/google/gousb"
)

// Error classification over gousb's two error kinds: libusb call errors
// (gousb.Error) and asynchronous transfer statuses (gousb.TransferStatus).
// Both can surface from the same endpoint method depending on where the
// transfer failed.

// IsGone reports whether err means the adapter has left the bus. Once a
// transfer fails this way no further I/O can succeed until reattach.
func IsGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeviceNotFound) {
		return true
	}
	var ge gousb.Error
	if errors.As(err, &ge) {
		return ge == gousb.ErrorNoDevice || ge == gousb.ErrorNotFound
	}
	var ts gousb.TransferStatus
	if errors.As(err, &ts) {
		return ts == gousb.TransferNoDevice
	}
	return false
}

// IsCancelled reports whether err is the result of deliberate transfer
// cancellation (context cancellation or an aborted libusb transfer).
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var ts gousb.TransferStatus
	if errors.As(err, &ts) {
		return ts == gousb.TransferCancelled
	}
	return false
}

// IsTimeout reports whether err is a transfer timeout. Timeouts are
// transient; the transfer may be retried.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ge gousb.Error
	if errors.As(err, &ge) && ge == gousb.ErrorTimeout {
		return true
	}
	var ts gousb.TransferStatus
	if errors.As(err, &ts) {
		return ts == gousb.TransferTimedOut
	}
	return false
}
