//go:build windows

package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/internal/winapi"
	"github.com/kettleby/usbhost/transfer"
	"github.com/kettleby/usbhost/usb"
)

func init() {
	device.Register(device.APIHID, newHIDBackend())
}

// HID class requests handled on the control path.
const (
	hidRequestGetReport = 0x01
	hidRequestSetReport = 0x09
)

// hidPending carries the wire-level framing of one in-flight report
// transfer, keyed by the transfer until completion.
type hidPending struct {
	wire     []byte
	expected uint32
	stripID  bool
	padded   bool // an id byte was prepended on the way out
}

// hidBackend drives HID devices through the OS HID class driver. There is
// no endpoint access; reports move through dedicated ioctls and the
// standard descriptors are synthesized from the probed capabilities.
type hidBackend struct {
	mu      sync.Mutex
	pending map[*device.Transfer]hidPending
}

func newHIDBackend() *hidBackend {
	return &hidBackend{pending: make(map[*device.Transfer]hidPending)}
}

func (b *hidBackend) Name() string { return "hid" }

func (b *hidBackend) Init() error {
	return nil
}

func (b *hidBackend) Exit() error {
	return nil
}

// Open opens every bound collection path. Read/write access is tried
// first; keyboards and mice held by the OS fall back to a restricted open
// that still answers the control path.
func (b *hidBackend) Open(h *device.Handle) error {
	var firstErr error
	opened := 0
	h.Dev.EachBinding(func(iface int, bind device.Binding) bool {
		if bind.API != device.APIHID || bind.Path == "" {
			return true
		}
		f, err := winapi.OpenDeviceFile(bind.Path, windows.GENERIC_READ|windows.GENERIC_WRITE)
		if err != nil {
			f, err = winapi.OpenDeviceFile(bind.Path, 0)
			if err != nil {
				if firstErr == nil {
					firstErr = mapWinUSBError(fmt.Errorf("open %s: %w", bind.Path, err))
				}
				return true
			}
			h.HIDRestricted = true
			slog.Debug("hid device opened without data access", "path", bind.Path)
		}
		h.SetInterface(iface, device.InterfaceHandle{File: uintptr(f)})
		opened++
		if h.Dev.HID == nil {
			b.probeCapabilities(h, f)
		}
		return true
	})
	if opened == 0 {
		if firstErr != nil {
			return firstErr
		}
		return fmt.Errorf("%w: device has no collection path", usb.ErrNotFound)
	}
	return nil
}

// probeCapabilities fills the device's HID info from an open handle.
func (b *hidBackend) probeCapabilities(h *device.Handle, f windows.Handle) {
	info := &device.HIDInfo{}
	if attrs, err := winapi.HidGetAttributes(f); err == nil {
		info.VID = attrs.VendorID
		info.PID = attrs.ProductID
	} else {
		info.VID = h.Dev.Descriptor.IDVendor
		info.PID = h.Dev.Descriptor.IDProduct
	}
	pd, err := winapi.HidGetPreparsedData(f)
	if err != nil {
		slog.Debug("hid preparsed data unavailable", "error", err)
		h.Dev.HID = info
		return
	}
	defer winapi.HidFreePreparsedData(pd)

	if caps, err := winapi.HidGetCaps(pd); err == nil {
		info.Usage = caps.Usage
		info.UsagePage = caps.UsagePage
		if caps.InputLength > 0 {
			info.InputReportSize = uint32(caps.InputLength) - 1
		}
		if caps.OutputLength > 0 {
			info.OutputReportSize = uint32(caps.OutputLength) - 1
		}
		if caps.FeatureLength > 0 {
			info.FeatureReportSize = uint32(caps.FeatureLength) - 1
		}
	}
	info.UsesReportIDs[device.HIDInput] = winapi.HidUsesReportIDs(pd, winapi.HidPInput)
	info.UsesReportIDs[device.HIDOutput] = winapi.HidUsesReportIDs(pd, winapi.HidPOutput)
	info.UsesReportIDs[device.HIDFeature] = winapi.HidUsesReportIDs(pd, winapi.HidPFeature)

	info.ManufacturerString = winapi.HidGetString(f, winapi.HIDStringManufacturer)
	info.ProductString = winapi.HidGetString(f, winapi.HIDStringProduct)
	info.SerialString = winapi.HidGetString(f, winapi.HIDStringSerial)

	winapi.HidSetNumInputBuffers(f, 64)
	h.Dev.HID = info
}

func (b *hidBackend) Close(h *device.Handle) {
	for i := 0; i < device.MaxInterfaces; i++ {
		ih := h.Interface(i)
		if !ih.Valid() {
			continue
		}
		_ = windows.CloseHandle(windows.Handle(ih.File))
		h.SetInterface(i, device.InterfaceHandle{})
	}
}

func (b *hidBackend) ConfigureEndpoints(h *device.Handle, iface int) error {
	return nil
}

// ClaimInterface validates the interface; the class driver needs no
// per-interface setup.
func (b *hidBackend) ClaimInterface(h *device.Handle, iface int) error {
	_, err := h.ValidInterface(iface, device.APIHID)
	return err
}

// SetAltSetting accepts only the sole setting the synthesized
// configuration exposes.
func (b *hidBackend) SetAltSetting(h *device.Handle, iface int, alt uint8) error {
	if alt != 0 {
		return errNotSupported(b.Name(), "alternate settings")
	}
	return nil
}

func (b *hidBackend) ReleaseInterface(h *device.Handle, iface int) error {
	_, err := h.ValidInterface(iface, device.APIHID)
	return err
}

// ClearHalt drops queued input reports, the closest the class driver gets
// to recovering an endpoint.
func (b *hidBackend) ClearHalt(h *device.Handle, endpoint uint8) error {
	return b.flushAll(h)
}

func (b *hidBackend) ResetDevice(h *device.Handle) error {
	return b.flushAll(h)
}

func (b *hidBackend) flushAll(h *device.Handle) error {
	var firstErr error
	for i := 0; i < device.MaxInterfaces; i++ {
		ih := h.Interface(i)
		if !ih.Valid() {
			continue
		}
		if err := winapi.HidFlushQueue(windows.Handle(ih.File)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SubmitControlTransfer answers standard requests from the synthesized
// descriptor set and turns GET_REPORT/SET_REPORT into the class driver's
// report ioctls. Everything else the driver cannot express.
func (b *hidBackend) SubmitControlTransfer(t *device.Transfer) error {
	if err := transfer.AutoClaim(t, device.APIHID); err != nil {
		return err
	}
	info := t.Handle.Dev.HID
	if info == nil {
		return fmt.Errorf("%w: device capabilities were never probed", usb.ErrIO)
	}
	setup := t.Setup

	switch setup.RequestType & usb.RequestTypeMask {
	case usb.RequestTypeStandard:
		return b.submitStandardRequest(t, info)
	case usb.RequestTypeClass:
		return b.submitClassRequest(t, info)
	default:
		return errNotSupported(b.Name(), "vendor control requests")
	}
}

func (b *hidBackend) submitStandardRequest(t *device.Transfer, info *device.HIDInfo) error {
	setup := t.Setup
	switch setup.Request {
	case usb.RequestGetDescriptor:
		data, ok := hidDescriptorBytes(info, uint8(setup.Value>>8), uint8(setup.Value))
		if !ok {
			return fmt.Errorf("%w: descriptor %#04x", usb.ErrNotFound, setup.Value)
		}
		n := copy(t.Buffer, data)
		return b.completeSynchronously(t, uint32(n))
	case usb.RequestGetConfiguration:
		if len(t.Buffer) < 1 {
			return fmt.Errorf("%w: zero-length GET_CONFIGURATION", usb.ErrInvalidParam)
		}
		t.Buffer[0] = 1
		return b.completeSynchronously(t, 1)
	case usb.RequestSetConfiguration:
		if setup.Value != 1 {
			return fmt.Errorf("%w: configuration %d does not exist", usb.ErrInvalidParam, setup.Value)
		}
		return b.completeSynchronously(t, 0)
	case usb.RequestGetInterface:
		if len(t.Buffer) < 1 {
			return fmt.Errorf("%w: zero-length GET_INTERFACE", usb.ErrInvalidParam)
		}
		t.Buffer[0] = 0
		return b.completeSynchronously(t, 1)
	case usb.RequestSetInterface:
		if setup.Value != 0 {
			return errNotSupported(b.Name(), "alternate settings")
		}
		return b.completeSynchronously(t, 0)
	default:
		return errNotSupported(b.Name(), fmt.Sprintf("standard request %#02x", setup.Request))
	}
}

func (b *hidBackend) submitClassRequest(t *device.Transfer, info *device.HIDInfo) error {
	setup := t.Setup
	switch setup.Request {
	case hidRequestGetReport:
		return b.submitGetReport(t, info)
	case hidRequestSetReport:
		return b.submitSetReport(t, info)
	default:
		return errNotSupported(b.Name(), fmt.Sprintf("class request %#02x", setup.Request))
	}
}

// reportIoctl resolves the report channel of a class request to its ioctl
// and the device's expected report size.
func reportIoctl(info *device.HIDInfo, reportType uint8, get bool) (uint32, uint32, error) {
	switch reportType {
	case 1: // input
		if !get {
			return 0, 0, fmt.Errorf("%w: input reports are read-only", usb.ErrInvalidParam)
		}
		return winapi.IoctlHIDGetInputReport, info.InputReportSize, nil
	case 2: // output
		if get {
			return 0, 0, fmt.Errorf("%w: output reports are write-only", usb.ErrInvalidParam)
		}
		return winapi.IoctlHIDSetOutputReport, info.OutputReportSize, nil
	case 3: // feature
		if get {
			return winapi.IoctlHIDGetFeature, info.FeatureReportSize, nil
		}
		return winapi.IoctlHIDSetFeature, info.FeatureReportSize, nil
	default:
		return 0, 0, fmt.Errorf("%w: report type %d", usb.ErrInvalidParam, reportType)
	}
}

func (b *hidBackend) submitGetReport(t *device.Transfer, info *device.HIDInfo) error {
	if t.Handle.HIDRestricted {
		return fmt.Errorf("%w: device is held by the system", usb.ErrAccess)
	}
	ioctl, _, err := reportIoctl(info, uint8(t.Setup.Value>>8), true)
	if err != nil {
		return err
	}
	file, err := b.fileFor(t)
	if err != nil {
		return err
	}

	reportID := uint8(t.Setup.Value)
	expected := uint32(len(t.Buffer))
	wire := inputReportBuffer(expected)
	wire[0] = reportID

	event, overlapped, err := winapi.AllocOverlapped()
	if err != nil {
		return err
	}
	t.Event = uintptr(event)
	t.Overlapped = overlapped

	var done uint32
	ioErr := windows.DeviceIoControl(file, ioctl,
		&wire[0], uint32(len(wire)), &wire[0], uint32(len(wire)),
		&done, (*windows.Overlapped)(unsafe.Pointer(overlapped)))
	if ioErr != nil && !errors.Is(ioErr, windows.ERROR_IO_PENDING) {
		releaseTransferHandles(t)
		return mapWinUSBError(fmt.Errorf("get report: %w", ioErr))
	}

	b.track(t, hidPending{wire: wire, expected: expected, stripID: reportID == 0})
	if ioErr == nil {
		t.CompletedSynchronously = true
		t.SyncSize = done
		_ = windows.SetEvent(event)
	}
	return nil
}

func (b *hidBackend) submitSetReport(t *device.Transfer, info *device.HIDInfo) error {
	if t.Handle.HIDRestricted {
		return fmt.Errorf("%w: device is held by the system", usb.ErrAccess)
	}
	ioctl, _, err := reportIoctl(info, uint8(t.Setup.Value>>8), false)
	if err != nil {
		return err
	}
	file, err := b.fileFor(t)
	if err != nil {
		return err
	}

	// A zero report id means the device does not use ids and the wire
	// format still wants the id byte; nonzero means the caller's data
	// already starts with it.
	reportID := uint8(t.Setup.Value)
	wire := wrapOutputReport(t.Buffer, reportID != 0)

	event, overlapped, err := winapi.AllocOverlapped()
	if err != nil {
		return err
	}
	t.Event = uintptr(event)
	t.Overlapped = overlapped

	var done uint32
	var wp *byte
	if len(wire) > 0 {
		wp = &wire[0]
	}
	ioErr := windows.DeviceIoControl(file, ioctl,
		wp, uint32(len(wire)), wp, uint32(len(wire)),
		&done, (*windows.Overlapped)(unsafe.Pointer(overlapped)))
	if ioErr != nil && !errors.Is(ioErr, windows.ERROR_IO_PENDING) {
		releaseTransferHandles(t)
		return mapWinUSBError(fmt.Errorf("set report: %w", ioErr))
	}

	b.track(t, hidPending{wire: wire, padded: reportID == 0})
	if ioErr == nil {
		t.CompletedSynchronously = true
		t.SyncSize = done
		_ = windows.SetEvent(event)
	}
	return nil
}

// SubmitBulkTransfer moves interrupt reports through ReadFile/WriteFile on
// the collection handle.
func (b *hidBackend) SubmitBulkTransfer(t *device.Transfer) error {
	if t.Handle.HIDRestricted {
		return fmt.Errorf("%w: device is held by the system", usb.ErrAccess)
	}
	info := t.Handle.Dev.HID
	if info == nil {
		return fmt.Errorf("%w: device capabilities were never probed", usb.ErrIO)
	}
	iface, err := t.Handle.Dev.InterfaceByEndpoint(t.Endpoint)
	if err != nil {
		return err
	}
	t.Iface = iface
	file, err := b.fileFor(t)
	if err != nil {
		return err
	}

	event, overlapped, err := winapi.AllocOverlapped()
	if err != nil {
		return err
	}
	t.Event = uintptr(event)
	t.Overlapped = overlapped
	ov := (*windows.Overlapped)(unsafe.Pointer(overlapped))

	var done uint32
	if t.In() {
		usesIDs := info.UsesReportIDs[device.HIDInput]
		expected := info.InputReportSize
		if usesIDs {
			expected++
		}
		wire := inputReportBuffer(expected)
		ioErr := windows.ReadFile(file, wire, &done, ov)
		if ioErr != nil && !errors.Is(ioErr, windows.ERROR_IO_PENDING) {
			releaseTransferHandles(t)
			return mapWinUSBError(fmt.Errorf("read report: %w", ioErr))
		}
		b.track(t, hidPending{wire: wire, expected: expected, stripID: !usesIDs})
		if ioErr == nil {
			t.CompletedSynchronously = true
			t.SyncSize = done
			_ = windows.SetEvent(event)
		}
		return nil
	}

	usesIDs := info.UsesReportIDs[device.HIDOutput]
	wire := wrapOutputReport(t.Buffer, usesIDs)
	ioErr := windows.WriteFile(file, wire, &done, ov)
	if ioErr != nil && !errors.Is(ioErr, windows.ERROR_IO_PENDING) {
		releaseTransferHandles(t)
		return mapWinUSBError(fmt.Errorf("write report: %w", ioErr))
	}
	b.track(t, hidPending{wire: wire, padded: !usesIDs})
	if ioErr == nil {
		t.CompletedSynchronously = true
		t.SyncSize = done
		_ = windows.SetEvent(event)
	}
	return nil
}

func (b *hidBackend) SubmitIsoTransfer(t *device.Transfer) error {
	return errNotSupported(b.Name(), "isochronous transfers")
}

func (b *hidBackend) AbortControl(t *device.Transfer) error {
	return b.cancelPending(t)
}

func (b *hidBackend) AbortTransfers(t *device.Transfer) error {
	return b.cancelPending(t)
}

func (b *hidBackend) cancelPending(t *device.Transfer) error {
	if t.Overlapped == 0 {
		return nil
	}
	file, err := b.fileFor(t)
	if err != nil {
		return err
	}
	cErr := windows.CancelIoEx(file, overlappedPtr(t))
	if cErr != nil && !errors.Is(cErr, windows.ERROR_NOT_FOUND) {
		return mapWinUSBError(cErr)
	}
	return nil
}

// CopyTransferData strips the report framing of a completed transfer. A
// transfer without tracked framing moved data in place.
func (b *hidBackend) CopyTransferData(t *device.Transfer, length uint32) (int, usb.TransferStatus) {
	p, ok := b.untrack(t)
	if !ok {
		if int(length) > len(t.Buffer) {
			return len(t.Buffer), usb.TransferOverflow
		}
		return int(length), usb.TransferCompleted
	}
	if t.In() {
		return unwrapInputReport(t.Buffer, p.wire, length, p.expected, !p.stripID)
	}
	n := int(length)
	if p.padded && n > 0 {
		n--
	}
	if n > len(t.Buffer) {
		n = len(t.Buffer)
	}
	return n, usb.TransferCompleted
}

// completeSynchronously finishes a request answered without touching the
// device: the event is born signaled so the poll layer wakes immediately.
func (b *hidBackend) completeSynchronously(t *device.Transfer, n uint32) error {
	event, overlapped, err := winapi.AllocOverlapped()
	if err != nil {
		return err
	}
	t.Event = uintptr(event)
	t.Overlapped = overlapped
	t.CompletedSynchronously = true
	t.SyncSize = n
	_ = windows.SetEvent(event)
	return nil
}

// fileFor resolves the collection handle a transfer runs on, falling back
// to the first open collection.
func (b *hidBackend) fileFor(t *device.Transfer) (windows.Handle, error) {
	ih := t.Handle.Interface(t.Iface)
	if ih.Valid() {
		return windows.Handle(ih.File), nil
	}
	for i := 0; i < device.MaxInterfaces; i++ {
		if ih := t.Handle.Interface(i); ih.Valid() {
			return windows.Handle(ih.File), nil
		}
	}
	return 0, fmt.Errorf("%w: no open collection handle", usb.ErrNotFound)
}

func (b *hidBackend) track(t *device.Transfer, p hidPending) {
	b.mu.Lock()
	b.pending[t] = p
	b.mu.Unlock()
}

func (b *hidBackend) untrack(t *device.Transfer) (hidPending, bool) {
	b.mu.Lock()
	p, ok := b.pending[t]
	delete(b.pending, t)
	b.mu.Unlock()
	return p, ok
}
