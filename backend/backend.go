// Package backend implements the access methods devices are driven
// through: hub and unsupported placeholders, the composite router, the
// WinUSB-like family (libusbK, WinUSB, libusb0 filter) and HID. Each
// implementation registers itself with the device package; the composite
// router forwards every call to the implementation bound to the addressed
// interface.
package backend

import (
	"fmt"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/usb"
)

func init() {
	device.Register(device.APIUnsupported, unsupportedBackend{name: "unsupported"})
	device.Register(device.APIHub, unsupportedBackend{name: "hub"})
	device.Register(device.APIComposite, compositeBackend{})
}

// errNotSupported builds the uniform refusal for an unimplementable op.
func errNotSupported(name, op string) error {
	return fmt.Errorf("%w: %s by the %s access method", usb.ErrNotSupported, op, name)
}
