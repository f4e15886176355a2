package usbio

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"

	"github.com/pandacan/panda-server/internal/logging"
)

// USB identity and topology of the panda adapter. The device exposes a
// single configuration; alternate setting 1 of interface 0 carries the CAN
// endpoints.
const (
	VendorID  gousb.ID = 0xbbaa
	ProductID gousb.ID = 0xddcc

	configNum    = 1
	interfaceNum = 0
	altSetting   = 1

	bulkOutEpNum = 3
	intInEpNum   = 1
)

// Vendor control request gating the CAN output stage.
const (
	reqOutputEnable uint8  = 0xDC
	valueEnable     uint16 = 0x1337
	valueDisable    uint16 = 0
)

// ErrDeviceNotFound is returned by Open when no panda adapter is on the bus.
var ErrDeviceNotFound = errors.New("usbio: panda device not found")

// Device is one opened and claimed panda adapter. It satisfies Transport.
type Device struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	out  *gousb.OutEndpoint
	in   *gousb.InEndpoint

	serial  string
	product string
}

// Open finds the first panda adapter by VID/PID, detaches any kernel driver
// bound to it, claims interface 0 alternate setting 1 and resolves the CAN
// endpoints. The returned Device must be closed by the caller.
func Open() (*Device, error) {
	ctx := gousb.NewContext()
	d, err := open(ctx)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	d.ctx = ctx
	logging.L().Info("usb_device_opened",
		"vid", fmt.Sprintf("%04x", uint16(VendorID)),
		"pid", fmt.Sprintf("%04x", uint16(ProductID)),
		"serial", d.serial,
		"product", d.product)
	return d, nil
}

func open(ctx *gousb.Context) (*Device, error) {
	dev, err := ctx.OpenDeviceWithVIDPID(VendorID, ProductID)
	if err != nil {
		return nil, fmt.Errorf("usbio: open device: %w", err)
	}
	if dev == nil {
		return nil, ErrDeviceNotFound
	}
	d := &Device{dev: dev}
	// String descriptors are best effort; some units have none flashed.
	d.serial, _ = dev.SerialNumber()
	d.product, _ = dev.Product()

	if err := dev.SetAutoDetach(true); err != nil {
		d.closePartial()
		return nil, fmt.Errorf("usbio: auto detach: %w", err)
	}
	cfg, err := dev.Config(configNum)
	if err != nil {
		d.closePartial()
		return nil, fmt.Errorf("usbio: claim config %d: %w", configNum, err)
	}
	d.cfg = cfg
	intf, err := cfg.Interface(interfaceNum, altSetting)
	if err != nil {
		d.closePartial()
		return nil, fmt.Errorf("usbio: claim interface %d alt %d: %w", interfaceNum, altSetting, err)
	}
	d.intf = intf
	out, err := intf.OutEndpoint(bulkOutEpNum)
	if err != nil {
		d.closePartial()
		return nil, fmt.Errorf("usbio: bulk out endpoint %d: %w", bulkOutEpNum, err)
	}
	d.out = out
	in, err := intf.InEndpoint(intInEpNum)
	if err != nil {
		d.closePartial()
		return nil, fmt.Errorf("usbio: interrupt in endpoint %d: %w", intInEpNum, err)
	}
	d.in = in
	return d, nil
}

// Serial returns the unit's serial string descriptor, if flashed.
func (d *Device) Serial() string { return d.serial }

// Product returns the unit's product string descriptor, if flashed.
func (d *Device) Product() string { return d.product }

func (d *Device) BulkOut(ctx context.Context, buf []byte) (int, error) {
	return d.out.WriteContext(ctx, buf)
}

func (d *Device) IntIn(ctx context.Context, buf []byte) (int, error) {
	return d.in.ReadContext(ctx, buf)
}

// SetOutputEnable issues the vendor control transfer gating the adapter's
// CAN output stage.
func (d *Device) SetOutputEnable(on bool) error {
	val := valueDisable
	if on {
		val = valueEnable
	}
	_, err := d.dev.Control(
		gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice,
		reqOutputEnable, val, 0, nil)
	if err != nil {
		return fmt.Errorf("usbio: output enable=%v: %w", on, err)
	}
	return nil
}

// Close releases the interface, configuration, device handle and the
// libusb context, in that order. Safe after a failed Open.
func (d *Device) Close() error {
	err := d.closePartial()
	if d.ctx != nil {
		if cerr := d.ctx.Close(); err == nil {
			err = cerr
		}
		d.ctx = nil
	}
	return err
}

func (d *Device) closePartial() error {
	if d.intf != nil {
		d.intf.Close()
		d.intf = nil
	}
	var err error
	if d.cfg != nil {
		err = d.cfg.Close()
		d.cfg = nil
	}
	if d.dev != nil {
		if cerr := d.dev.Close(); err == nil {
			err = cerr
		}
		d.dev = nil
	}
	return err
}
