//go:build windows

package transfer

import (
	"golang.org/x/sys/windows"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/internal/winapi"
)

// releaseTransferOS closes the event backing the overlapped operation and
// returns the OVERLAPPED block to the OS allocator.
func releaseTransferOS(t *device.Transfer) {
	if t.Event != 0 && t.Event != device.InvalidHandle {
		_ = windows.CloseHandle(windows.Handle(t.Event))
	}
	winapi.FreeOverlapped(t.Overlapped)
	t.Event = 0
	t.Overlapped = 0
}
