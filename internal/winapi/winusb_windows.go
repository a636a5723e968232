//go:build windows

package winapi

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// WinUSB pipe policy types.
const (
	PolicyShortPacketTerminate = 0x01
	PolicyAutoClearStall       = 0x02
	PolicyPipeTransferTimeout  = 0x03
	PolicyIgnoreShortPackets   = 0x04
	PolicyAllowPartialReads    = 0x05
	PolicyAutoFlush            = 0x06
	PolicyRawIO                = 0x07
)

// WinUSBAPI is a resolved function table for one WinUSB-compatible DLL.
// winusb.dll and libusbK.dll expose the same calling surface under
// different export prefixes; libusbK additionally exports ResetDevice.
type WinUSBAPI struct {
	Name string

	initialize      *windows.LazyProc
	free            *windows.LazyProc
	getAssociated   *windows.LazyProc
	readPipe        *windows.LazyProc
	writePipe       *windows.LazyProc
	controlTransfer *windows.LazyProc
	resetPipe       *windows.LazyProc
	abortPipe       *windows.LazyProc
	flushPipe       *windows.LazyProc
	setPipePolicy   *windows.LazyProc
	setAltSetting   *windows.LazyProc
	getAltSetting   *windows.LazyProc
	resetDevice     *windows.LazyProc
}

func newWinUSBAPI(name, dllName, prefix string, hasReset bool) *WinUSBAPI {
	dll := windows.NewLazySystemDLL(dllName)
	api := &WinUSBAPI{
		Name:            name,
		initialize:      dll.NewProc(prefix + "_Initialize"),
		free:            dll.NewProc(prefix + "_Free"),
		getAssociated:   dll.NewProc(prefix + "_GetAssociatedInterface"),
		readPipe:        dll.NewProc(prefix + "_ReadPipe"),
		writePipe:       dll.NewProc(prefix + "_WritePipe"),
		controlTransfer: dll.NewProc(prefix + "_ControlTransfer"),
		resetPipe:       dll.NewProc(prefix + "_ResetPipe"),
		abortPipe:       dll.NewProc(prefix + "_AbortPipe"),
		flushPipe:       dll.NewProc(prefix + "_FlushPipe"),
		setPipePolicy:   dll.NewProc(prefix + "_SetPipePolicy"),
		setAltSetting:   dll.NewProc(prefix + "_SetCurrentAlternateSetting"),
		getAltSetting:   dll.NewProc(prefix + "_GetCurrentAlternateSetting"),
	}
	if hasReset {
		api.resetDevice = dll.NewProc(prefix + "_ResetDevice")
	}
	return api
}

// LoadLibusbK resolves the libusbK.dll function table, or nil when the
// DLL is not installed.
func LoadLibusbK() *WinUSBAPI {
	api := newWinUSBAPI("libusbK", "libusbK.dll", "UsbK", true)
	if api.initialize.Find() != nil {
		return nil
	}
	return api
}

// LoadWinUSB resolves the stock winusb.dll function table, or nil when
// unavailable.
func LoadWinUSB() *WinUSBAPI {
	api := newWinUSBAPI("WinUSB", "winusb.dll", "WinUsb", false)
	if api.initialize.Find() != nil {
		return nil
	}
	return api
}

// Initialize opens a WinUSB interface handle on a device file handle.
func (a *WinUSBAPI) Initialize(file windows.Handle) (uintptr, error) {
	var ih uintptr
	r, _, err := a.initialize.Call(uintptr(file), uintptr(unsafe.Pointer(&ih)))
	if r == 0 {
		return 0, err
	}
	return ih, nil
}

// Free releases a WinUSB interface handle.
func (a *WinUSBAPI) Free(ih uintptr) {
	_, _, _ = a.free.Call(ih)
}

// GetAssociatedInterface opens the interface handle for associated
// interface index idx (interface number idx+1).
func (a *WinUSBAPI) GetAssociatedInterface(ih uintptr, idx uint8) (uintptr, error) {
	var assoc uintptr
	r, _, err := a.getAssociated.Call(ih, uintptr(idx), uintptr(unsafe.Pointer(&assoc)))
	if r == 0 {
		return 0, err
	}
	return assoc, nil
}

// ReadPipe starts an overlapped IN transfer on an endpoint. sync reports
// that the operation finished during the call, with transferred valid.
func (a *WinUSBAPI) ReadPipe(ih uintptr, pipe uint8, buf []byte, overlapped uintptr) (sync bool, transferred uint32, err error) {
	var p uintptr
	if len(buf) > 0 {
		p = uintptr(unsafe.Pointer(&buf[0]))
	}
	r, _, callErr := a.readPipe.Call(ih, uintptr(pipe), p, uintptr(len(buf)),
		uintptr(unsafe.Pointer(&transferred)), overlapped)
	return reduceOverlappedCall(r, callErr, transferred)
}

// WritePipe starts an overlapped OUT transfer on an endpoint.
func (a *WinUSBAPI) WritePipe(ih uintptr, pipe uint8, buf []byte, overlapped uintptr) (sync bool, transferred uint32, err error) {
	var p uintptr
	if len(buf) > 0 {
		p = uintptr(unsafe.Pointer(&buf[0]))
	}
	r, _, callErr := a.writePipe.Call(ih, uintptr(pipe), p, uintptr(len(buf)),
		uintptr(unsafe.Pointer(&transferred)), overlapped)
	return reduceOverlappedCall(r, callErr, transferred)
}

// ControlTransfer starts an overlapped control transfer. The 8-byte setup
// packet is passed by value, which on amd64 means as a single packed
// register argument.
func (a *WinUSBAPI) ControlTransfer(ih uintptr, setup [8]byte, buf []byte, overlapped uintptr) (sync bool, transferred uint32, err error) {
	var p uintptr
	if len(buf) > 0 {
		p = uintptr(unsafe.Pointer(&buf[0]))
	}
	packed := uintptr(binary.LittleEndian.Uint64(setup[:]))
	r, _, callErr := a.controlTransfer.Call(ih, packed, p, uintptr(len(buf)),
		uintptr(unsafe.Pointer(&transferred)), overlapped)
	return reduceOverlappedCall(r, callErr, transferred)
}

// reduceOverlappedCall folds the three outcomes of an overlapped submission:
// finished synchronously, pending, or failed.
func reduceOverlappedCall(r uintptr, callErr error, transferred uint32) (bool, uint32, error) {
	if r != 0 {
		return true, transferred, nil
	}
	if callErr == windows.ERROR_IO_PENDING {
		return false, 0, nil
	}
	return false, 0, callErr
}

// ResetPipe clears a halt condition on an endpoint.
func (a *WinUSBAPI) ResetPipe(ih uintptr, pipe uint8) error {
	r, _, err := a.resetPipe.Call(ih, uintptr(pipe))
	if r == 0 {
		return err
	}
	return nil
}

// AbortPipe cancels outstanding transfers on an endpoint.
func (a *WinUSBAPI) AbortPipe(ih uintptr, pipe uint8) error {
	r, _, err := a.abortPipe.Call(ih, uintptr(pipe))
	if r == 0 {
		return err
	}
	return nil
}

// FlushPipe discards cached data on an IN endpoint.
func (a *WinUSBAPI) FlushPipe(ih uintptr, pipe uint8) error {
	r, _, err := a.flushPipe.Call(ih, uintptr(pipe))
	if r == 0 {
		return err
	}
	return nil
}

// SetPipePolicyBool sets a boolean pipe policy. Pipe 0 addresses the
// default control pipe.
func (a *WinUSBAPI) SetPipePolicyBool(ih uintptr, pipe uint8, policy uint32, value bool) error {
	var v uint8
	if value {
		v = 1
	}
	r, _, err := a.setPipePolicy.Call(ih, uintptr(pipe), uintptr(policy), 1, uintptr(unsafe.Pointer(&v)))
	if r == 0 {
		return err
	}
	return nil
}

// SetPipePolicyUint32 sets a ULONG pipe policy such as the transfer timeout.
func (a *WinUSBAPI) SetPipePolicyUint32(ih uintptr, pipe uint8, policy uint32, value uint32) error {
	r, _, err := a.setPipePolicy.Call(ih, uintptr(pipe), uintptr(policy), 4, uintptr(unsafe.Pointer(&value)))
	if r == 0 {
		return err
	}
	return nil
}

// SetCurrentAlternateSetting selects an alternate setting on the interface.
func (a *WinUSBAPI) SetCurrentAlternateSetting(ih uintptr, alt uint8) error {
	r, _, err := a.setAltSetting.Call(ih, uintptr(alt))
	if r == 0 {
		return err
	}
	return nil
}

// CurrentAlternateSetting reads the active alternate setting.
func (a *WinUSBAPI) CurrentAlternateSetting(ih uintptr) (uint8, error) {
	var alt uint8
	r, _, err := a.getAltSetting.Call(ih, uintptr(unsafe.Pointer(&alt)))
	if r == 0 {
		return 0, err
	}
	return alt, nil
}

// ResetDevice performs a port-level reset. Only libusbK exposes this.
func (a *WinUSBAPI) ResetDevice(ih uintptr) error {
	if a.resetDevice == nil {
		return fmt.Errorf("%s: device reset not supported", a.Name)
	}
	r, _, err := a.resetDevice.Call(ih)
	if r == 0 {
		return err
	}
	return nil
}
