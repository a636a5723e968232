//go:build windows

package backend

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/internal/winapi"
)

// releaseTransferHandles tears down the overlapped state of a transfer
// whose submission failed; the engine never sees such a transfer.
func releaseTransferHandles(t *device.Transfer) {
	if t.Event != 0 && t.Event != device.InvalidHandle {
		_ = windows.CloseHandle(windows.Handle(t.Event))
	}
	winapi.FreeOverlapped(t.Overlapped)
	t.Event = 0
	t.Overlapped = 0
}

func overlappedPtr(t *device.Transfer) *windows.Overlapped {
	return (*windows.Overlapped)(unsafe.Pointer(t.Overlapped))
}
