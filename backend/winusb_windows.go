//go:build windows

package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/internal/winapi"
	"github.com/kettleby/usbhost/transfer"
	"github.com/kettleby/usbhost/usb"
)

func init() {
	device.Register(device.APIWinUSB, &winusbBackend{})
}

// winusbBackend drives devices bound to a WinUSB-compatible driver. The
// three drivers (WinUSB, libusbK, the libusb0 filter) share one calling
// surface; libusbK additionally supports port-level device reset.
type winusbBackend struct {
	// apis is indexed by device.SubAPI. Slots fall back to whichever
	// DLL resolved at Init.
	apis [3]*winapi.WinUSBAPI
}

func (b *winusbBackend) Name() string { return "winusb" }

func (b *winusbBackend) Init() error {
	k := winapi.LoadLibusbK()
	w := winapi.LoadWinUSB()
	if k == nil && w == nil {
		return fmt.Errorf("%w: neither libusbK.dll nor winusb.dll is available", usb.ErrNotSupported)
	}
	// libusbK serves its own devices and libusb0-filtered ones; stock
	// WinUSB devices prefer winusb.dll.
	kOrW, wOrK := k, w
	if kOrW == nil {
		kOrW = w
	}
	if wOrK == nil {
		wOrK = k
	}
	b.apis[device.SubLibusbK] = kOrW
	b.apis[device.SubLibusb0] = kOrW
	b.apis[device.SubWinUSB] = wOrK
	slog.Debug("winusb backend ready",
		"libusbk", b.apis[device.SubLibusbK].Name, "winusb", b.apis[device.SubWinUSB].Name)
	return nil
}

func (b *winusbBackend) Exit() error {
	b.apis = [3]*winapi.WinUSBAPI{}
	return nil
}

// apiFor picks the driver table for one interface binding.
func (b *winusbBackend) apiFor(h *device.Handle, iface int) (*winapi.WinUSBAPI, error) {
	sub := h.Dev.Sub
	if bind, ok := h.Dev.Binding(iface); ok && bind.Sub != device.SubNotSet {
		sub = bind.Sub
	}
	if sub == device.SubNotSet {
		sub = device.SubWinUSB
	}
	api := b.apis[sub]
	if api == nil {
		return nil, fmt.Errorf("%w: no driver table for %s", usb.ErrNotSupported, sub)
	}
	return api, nil
}

// Open opens the device file behind every bound interface. Composite
// functions carry distinct paths; interfaces sharing a path share the file
// handle of the first one.
func (b *winusbBackend) Open(h *device.Handle) error {
	opened := map[string]uintptr{}
	var err error
	h.Dev.EachBinding(func(iface int, bind device.Binding) bool {
		if bind.API != device.APIWinUSB || bind.Path == "" {
			return true
		}
		if file, ok := opened[bind.Path]; ok {
			h.SetInterface(iface, device.InterfaceHandle{File: file})
			return true
		}
		var f windows.Handle
		f, err = winapi.OpenDeviceFile(bind.Path, windows.GENERIC_READ|windows.GENERIC_WRITE)
		if err != nil {
			err = mapWinUSBError(fmt.Errorf("open %s: %w", bind.Path, err))
			return false
		}
		opened[bind.Path] = uintptr(f)
		h.SetInterface(iface, device.InterfaceHandle{File: uintptr(f)})
		return true
	})
	if err != nil {
		b.Close(h)
		return err
	}
	if len(opened) == 0 {
		return fmt.Errorf("%w: device has no interface path", usb.ErrNotFound)
	}
	return nil
}

func (b *winusbBackend) Close(h *device.Handle) {
	closed := map[uintptr]bool{}
	for i := 0; i < device.MaxInterfaces; i++ {
		ih := h.Interface(i)
		if ih.API != 0 {
			if api, err := b.apiFor(h, i); err == nil {
				api.Free(ih.API)
			}
		}
		if ih.Valid() && !closed[ih.File] {
			closed[ih.File] = true
			_ = windows.CloseHandle(windows.Handle(ih.File))
		}
		if ih.Valid() || ih.API != 0 {
			h.SetInterface(i, device.InterfaceHandle{})
		}
	}
}

// ClaimInterface layers the driver handle over the interface. An interface
// without its own file handle is an associated interface reached through
// interface 0 of the same function.
func (b *winusbBackend) ClaimInterface(h *device.Handle, iface int) error {
	iface, err := h.ValidInterface(iface, device.APIWinUSB)
	if err != nil {
		return err
	}
	api, err := b.apiFor(h, iface)
	if err != nil {
		return err
	}
	ih := h.Interface(iface)
	if ih.API != 0 {
		return nil
	}
	if ih.Valid() {
		winusb, err := api.Initialize(windows.Handle(ih.File))
		if err != nil {
			return mapWinUSBError(fmt.Errorf("initialize interface %d: %w", iface, err))
		}
		ih.API = winusb
		h.SetInterface(iface, ih)
	} else {
		if iface == 0 {
			return fmt.Errorf("%w: interface 0 has no file handle", usb.ErrNotFound)
		}
		if err := b.ClaimInterface(h, 0); err != nil {
			return err
		}
		root := h.Interface(0)
		winusb, err := api.GetAssociatedInterface(root.API, uint8(iface-1))
		if err != nil {
			return mapWinUSBError(fmt.Errorf("associated interface %d: %w", iface, err))
		}
		ih.API = winusb
		h.SetInterface(iface, ih)
	}
	return b.ConfigureEndpoints(h, iface)
}

// ConfigureEndpoints applies the pipe policies of the interface's current
// alternate setting: no driver timeout, raw short-packet behavior for
// reads, automatic stall recovery.
func (b *winusbBackend) ConfigureEndpoints(h *device.Handle, iface int) error {
	api, err := b.apiFor(h, iface)
	if err != nil {
		return err
	}
	ih := h.Interface(iface)
	if ih.API == 0 {
		return fmt.Errorf("%w: interface %d is not claimed", usb.ErrNotFound, iface)
	}
	if err := api.SetPipePolicyUint32(ih.API, 0, winapi.PolicyPipeTransferTimeout, 0); err != nil {
		slog.Debug("control pipe timeout policy failed", "iface", iface, "error", err)
	}
	cfg, err := h.Dev.ActiveConfigDescriptor()
	if err != nil {
		return nil
	}
	setting, ok := cfg.Setting(uint8(iface), h.AltSetting(iface))
	if !ok {
		return nil
	}
	for _, ep := range setting.Endpoints {
		addr := ep.BEndpointAddress
		_ = api.SetPipePolicyUint32(ih.API, addr, winapi.PolicyPipeTransferTimeout, 0)
		_ = api.SetPipePolicyBool(ih.API, addr, winapi.PolicyShortPacketTerminate, false)
		_ = api.SetPipePolicyBool(ih.API, addr, winapi.PolicyIgnoreShortPackets, false)
		_ = api.SetPipePolicyBool(ih.API, addr, winapi.PolicyAllowPartialReads, true)
		_ = api.SetPipePolicyBool(ih.API, addr, winapi.PolicyAutoClearStall, true)
	}
	return nil
}

func (b *winusbBackend) SetAltSetting(h *device.Handle, iface int, alt uint8) error {
	api, err := b.apiFor(h, iface)
	if err != nil {
		return err
	}
	ih := h.Interface(iface)
	if ih.API == 0 {
		return fmt.Errorf("%w: interface %d is not claimed", usb.ErrNotFound, iface)
	}
	if err := api.SetCurrentAlternateSetting(ih.API, alt); err != nil {
		return mapWinUSBError(fmt.Errorf("set alt %d on interface %d: %w", alt, iface, err))
	}
	h.SetAltSetting(iface, alt)
	return b.ConfigureEndpoints(h, iface)
}

func (b *winusbBackend) ReleaseInterface(h *device.Handle, iface int) error {
	iface, err := h.ValidInterface(iface, device.APIWinUSB)
	if err != nil {
		return err
	}
	ih := h.Interface(iface)
	if ih.API == 0 {
		return nil
	}
	if api, err := b.apiFor(h, iface); err == nil {
		api.Free(ih.API)
	}
	ih.API = 0
	h.SetInterface(iface, ih)
	return nil
}

func (b *winusbBackend) ClearHalt(h *device.Handle, endpoint uint8) error {
	iface, err := h.Dev.InterfaceByEndpoint(endpoint)
	if err != nil {
		return err
	}
	api, err := b.apiFor(h, iface)
	if err != nil {
		return err
	}
	ih := h.Interface(iface)
	if ih.API == 0 {
		return fmt.Errorf("%w: interface %d is not claimed", usb.ErrNotFound, iface)
	}
	if err := api.ResetPipe(ih.API, endpoint); err != nil {
		return mapWinUSBError(fmt.Errorf("reset pipe 0x%02x: %w", endpoint, err))
	}
	return nil
}

// ResetDevice drains and resets every pipe of every claimed interface.
// A port-level reset follows when the driver supports it.
func (b *winusbBackend) ResetDevice(h *device.Handle) error {
	cfg, _ := h.Dev.ActiveConfigDescriptor()
	for _, iface := range h.ClaimedInterfaces() {
		api, err := b.apiFor(h, iface)
		if err != nil {
			continue
		}
		ih := h.Interface(iface)
		if ih.API == 0 {
			continue
		}
		if cfg != nil {
			if setting, ok := cfg.Setting(uint8(iface), h.AltSetting(iface)); ok {
				for _, ep := range setting.Endpoints {
					addr := ep.BEndpointAddress
					_ = api.AbortPipe(ih.API, addr)
					if addr&usb.EndpointDirMask != 0 {
						_ = api.FlushPipe(ih.API, addr)
					}
					_ = api.ResetPipe(ih.API, addr)
				}
			}
		}
		if err := api.ResetDevice(ih.API); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: driver cannot reset the port", usb.ErrNotSupported)
}

func (b *winusbBackend) SubmitControlTransfer(t *device.Transfer) error {
	if err := transfer.AutoClaim(t, device.APIWinUSB); err != nil {
		return err
	}
	setup := t.Setup
	if setup.RequestType&usb.RequestTypeMask == usb.RequestTypeStandard &&
		setup.Request == usb.RequestSetConfiguration &&
		uint8(setup.Value) != t.Handle.Dev.ActiveConfig {
		return fmt.Errorf("%w: only the active configuration can be re-selected", usb.ErrInvalidParam)
	}
	api, err := b.apiFor(t.Handle, t.Iface)
	if err != nil {
		return err
	}
	ih := t.Handle.Interface(t.Iface)
	if ih.API == 0 {
		return fmt.Errorf("%w: interface %d is not claimed", usb.ErrNotFound, t.Iface)
	}

	event, overlapped, err := winapi.AllocOverlapped()
	if err != nil {
		return err
	}
	t.Event = uintptr(event)
	t.Overlapped = overlapped

	var packet [8]byte
	copy(packet[:], setup.Bytes())
	sync, transferred, err := api.ControlTransfer(ih.API, packet, t.Buffer, overlapped)
	if err != nil {
		releaseTransferHandles(t)
		return mapWinUSBError(fmt.Errorf("control transfer: %w", err))
	}
	if sync {
		t.CompletedSynchronously = true
		t.SyncSize = transferred
		_ = windows.SetEvent(event)
	}
	return nil
}

func (b *winusbBackend) SubmitBulkTransfer(t *device.Transfer) error {
	iface, err := t.Handle.Dev.InterfaceByEndpoint(t.Endpoint)
	if err != nil {
		return err
	}
	t.Iface = iface
	api, err := b.apiFor(t.Handle, iface)
	if err != nil {
		return err
	}
	ih := t.Handle.Interface(iface)
	if ih.API == 0 {
		return fmt.Errorf("%w: interface %d is not claimed", usb.ErrNotFound, iface)
	}

	event, overlapped, err := winapi.AllocOverlapped()
	if err != nil {
		return err
	}
	t.Event = uintptr(event)
	t.Overlapped = overlapped

	var (
		sync        bool
		transferred uint32
	)
	if t.In() {
		sync, transferred, err = api.ReadPipe(ih.API, t.Endpoint, t.Buffer, overlapped)
	} else {
		sync, transferred, err = api.WritePipe(ih.API, t.Endpoint, t.Buffer, overlapped)
	}
	if err != nil {
		releaseTransferHandles(t)
		return mapWinUSBError(fmt.Errorf("pipe 0x%02x: %w", t.Endpoint, err))
	}
	if sync {
		t.CompletedSynchronously = true
		t.SyncSize = transferred
		_ = windows.SetEvent(event)
	}
	return nil
}

func (b *winusbBackend) SubmitIsoTransfer(t *device.Transfer) error {
	return errNotSupported(b.Name(), "isochronous transfers")
}

// AbortControl cancels the overlapped operation on the interface file.
func (b *winusbBackend) AbortControl(t *device.Transfer) error {
	ih := t.Handle.Interface(t.Iface)
	if !ih.Valid() || t.Overlapped == 0 {
		return nil
	}
	err := windows.CancelIoEx(windows.Handle(ih.File), overlappedPtr(t))
	if err != nil && !errors.Is(err, windows.ERROR_NOT_FOUND) {
		return mapWinUSBError(err)
	}
	return nil
}

// AbortTransfers aborts the endpoint pipe, which fails every transfer
// pending on it.
func (b *winusbBackend) AbortTransfers(t *device.Transfer) error {
	api, err := b.apiFor(t.Handle, t.Iface)
	if err != nil {
		return err
	}
	ih := t.Handle.Interface(t.Iface)
	if ih.API == 0 {
		return nil
	}
	if err := api.AbortPipe(ih.API, t.Endpoint); err != nil {
		return mapWinUSBError(fmt.Errorf("abort pipe 0x%02x: %w", t.Endpoint, err))
	}
	return nil
}

// CopyTransferData passes the length through: IN data was written straight
// into the caller buffer at submit time.
func (b *winusbBackend) CopyTransferData(t *device.Transfer, length uint32) (int, usb.TransferStatus) {
	if int(length) > len(t.Buffer) {
		return len(t.Buffer), usb.TransferOverflow
	}
	return int(length), usb.TransferCompleted
}

// mapWinUSBError folds the driver error codes into the shared taxonomy.
func mapWinUSBError(err error) error {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch uint32(errno) {
	case winapi.ErrorNoMoreItems:
		return fmt.Errorf("%w: %v", usb.ErrNotFound, err)
	case winapi.ErrorBadCommand:
		return fmt.Errorf("%w: %v", usb.ErrNoDevice, err)
	case winapi.ErrorAlreadyExists:
		return fmt.Errorf("%w: %v", usb.ErrBusy, err)
	case winapi.ErrorAccessDenied, winapi.ErrorSharingViolation:
		return fmt.Errorf("%w: %v", usb.ErrAccess, err)
	case winapi.ErrorFileNotFound:
		return fmt.Errorf("%w: %v", usb.ErrNoDevice, err)
	case winapi.ErrorNotEnoughMemory, winapi.ErrorNoSystemResources:
		return fmt.Errorf("%w: %v", usb.ErrNoMem, err)
	case winapi.ErrorInvalidParameter:
		return fmt.Errorf("%w: %v", usb.ErrInvalidParam, err)
	default:
		return fmt.Errorf("%w: %v", usb.ErrIO, err)
	}
}
