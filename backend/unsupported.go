package backend

import (
	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/usb"
)

// unsupportedBackend refuses every operation. It backs both devices with
// no recognized driver and hubs, which are enumerable (their topology
// position matters) but not openable.
type unsupportedBackend struct {
	name string
}

func (u unsupportedBackend) Name() string { return u.name }

func (u unsupportedBackend) Init() error { return nil }
func (u unsupportedBackend) Exit() error { return nil }

func (u unsupportedBackend) Open(h *device.Handle) error {
	return errNotSupported(u.name, "open")
}

func (u unsupportedBackend) Close(h *device.Handle) {}

func (u unsupportedBackend) ConfigureEndpoints(h *device.Handle, iface int) error {
	return errNotSupported(u.name, "configuring endpoints")
}

func (u unsupportedBackend) ClaimInterface(h *device.Handle, iface int) error {
	return errNotSupported(u.name, "claiming an interface")
}

func (u unsupportedBackend) SetAltSetting(h *device.Handle, iface int, alt uint8) error {
	return errNotSupported(u.name, "selecting an alternate setting")
}

func (u unsupportedBackend) ReleaseInterface(h *device.Handle, iface int) error {
	return errNotSupported(u.name, "releasing an interface")
}

func (u unsupportedBackend) ClearHalt(h *device.Handle, endpoint uint8) error {
	return errNotSupported(u.name, "clearing a halt")
}

func (u unsupportedBackend) ResetDevice(h *device.Handle) error {
	return errNotSupported(u.name, "resetting")
}

func (u unsupportedBackend) SubmitControlTransfer(t *device.Transfer) error {
	return errNotSupported(u.name, "control transfers")
}

func (u unsupportedBackend) SubmitBulkTransfer(t *device.Transfer) error {
	return errNotSupported(u.name, "bulk transfers")
}

func (u unsupportedBackend) SubmitIsoTransfer(t *device.Transfer) error {
	return errNotSupported(u.name, "isochronous transfers")
}

func (u unsupportedBackend) AbortControl(t *device.Transfer) error {
	return errNotSupported(u.name, "aborting control transfers")
}

func (u unsupportedBackend) AbortTransfers(t *device.Transfer) error {
	return errNotSupported(u.name, "aborting transfers")
}

func (u unsupportedBackend) CopyTransferData(t *device.Transfer, length uint32) (int, usb.TransferStatus) {
	return 0, usb.TransferError
}
