package backend

import (
	"fmt"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/usb"
)

// compositeBackend is a pure router: it holds no I/O state and forwards
// every call to the access method bound to the addressed interface.
type compositeBackend struct{}

func (compositeBackend) Name() string { return "composite" }

func (compositeBackend) Init() error { return nil }
func (compositeBackend) Exit() error { return nil }

// subAPIs collects the distinct access methods bound across the device's
// interfaces, in interface order.
func subAPIs(d *device.Device) []device.APIKind {
	var kinds []device.APIKind
	d.EachBinding(func(_ int, b device.Binding) bool {
		for _, k := range kinds {
			if k == b.API {
				return true
			}
		}
		kinds = append(kinds, b.API)
		return true
	})
	return kinds
}

// route resolves the backend owning interface iface.
func route(d *device.Device, iface int) (device.Backend, error) {
	b, ok := d.Binding(iface)
	if !ok {
		return nil, fmt.Errorf("%w: interface %d has no binding", usb.ErrNotFound, iface)
	}
	return device.BackendFor(b.API), nil
}

// Open opens the device through every access method bound to at least one
// interface. Failure of any sub-open rolls the others back.
func (c compositeBackend) Open(h *device.Handle) error {
	kinds := subAPIs(h.Dev)
	if len(kinds) == 0 {
		return fmt.Errorf("%w: composite device has no bound interfaces", usb.ErrNotFound)
	}
	var opened []device.APIKind
	for _, k := range kinds {
		if err := device.BackendFor(k).Open(h); err != nil {
			for _, o := range opened {
				device.BackendFor(o).Close(h)
			}
			return err
		}
		opened = append(opened, k)
	}
	return nil
}

func (c compositeBackend) Close(h *device.Handle) {
	for _, k := range subAPIs(h.Dev) {
		device.BackendFor(k).Close(h)
	}
}

func (c compositeBackend) ConfigureEndpoints(h *device.Handle, iface int) error {
	b, err := route(h.Dev, iface)
	if err != nil {
		return err
	}
	return b.ConfigureEndpoints(h, iface)
}

func (c compositeBackend) ClaimInterface(h *device.Handle, iface int) error {
	b, err := route(h.Dev, iface)
	if err != nil {
		return err
	}
	return b.ClaimInterface(h, iface)
}

func (c compositeBackend) SetAltSetting(h *device.Handle, iface int, alt uint8) error {
	b, err := route(h.Dev, iface)
	if err != nil {
		return err
	}
	return b.SetAltSetting(h, iface, alt)
}

func (c compositeBackend) ReleaseInterface(h *device.Handle, iface int) error {
	b, err := route(h.Dev, iface)
	if err != nil {
		return err
	}
	return b.ReleaseInterface(h, iface)
}

func (c compositeBackend) ClearHalt(h *device.Handle, endpoint uint8) error {
	iface, err := h.Dev.InterfaceByEndpoint(endpoint)
	if err != nil {
		return err
	}
	b, err := route(h.Dev, iface)
	if err != nil {
		return err
	}
	return b.ClearHalt(h, endpoint)
}

// ResetDevice resets through every bound access method; the first failure
// is kept but the remaining methods still run.
func (c compositeBackend) ResetDevice(h *device.Handle) error {
	var first error
	for _, k := range subAPIs(h.Dev) {
		if err := device.BackendFor(k).ResetDevice(h); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SubmitControlTransfer routes a device-level control transfer to the
// first available interface. Restricted interfaces (HID keyboards/mice
// held by the OS) are skipped on the first pass and used only when nothing
// else can carry the request.
func (c compositeBackend) SubmitControlTransfer(t *device.Transfer) error {
	d := t.Handle.Dev
	for pass := 0; pass < 2; pass++ {
		var (
			chosen  = -1
			binding device.Binding
		)
		d.EachBinding(func(i int, b device.Binding) bool {
			if pass == 0 && b.Restricted {
				return true
			}
			chosen, binding = i, b
			return false
		})
		if chosen < 0 {
			continue
		}
		t.Iface = chosen
		return device.BackendFor(binding.API).SubmitControlTransfer(t)
	}
	return fmt.Errorf("%w: no interface can carry a control transfer", usb.ErrNotFound)
}

func (c compositeBackend) SubmitBulkTransfer(t *device.Transfer) error {
	iface, err := t.Handle.Dev.InterfaceByEndpoint(t.Endpoint)
	if err != nil {
		return err
	}
	b, err := route(t.Handle.Dev, iface)
	if err != nil {
		return err
	}
	t.Iface = iface
	return b.SubmitBulkTransfer(t)
}

func (c compositeBackend) SubmitIsoTransfer(t *device.Transfer) error {
	iface, err := t.Handle.Dev.InterfaceByEndpoint(t.Endpoint)
	if err != nil {
		return err
	}
	b, err := route(t.Handle.Dev, iface)
	if err != nil {
		return err
	}
	t.Iface = iface
	return b.SubmitIsoTransfer(t)
}

func (c compositeBackend) AbortControl(t *device.Transfer) error {
	b, err := route(t.Handle.Dev, t.Iface)
	if err != nil {
		return err
	}
	return b.AbortControl(t)
}

func (c compositeBackend) AbortTransfers(t *device.Transfer) error {
	b, err := route(t.Handle.Dev, t.Iface)
	if err != nil {
		return err
	}
	return b.AbortTransfers(t)
}

func (c compositeBackend) CopyTransferData(t *device.Transfer, length uint32) (int, usb.TransferStatus) {
	b, err := route(t.Handle.Dev, t.Iface)
	if err != nil {
		return 0, usb.TransferError
	}
	return b.CopyTransferData(t, length)
}
