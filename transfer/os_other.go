//go:build !windows

package transfer

import "github.com/kettleby/usbhost/device"

func releaseTransferOS(t *device.Transfer) {
	t.Event = 0
	t.Overlapped = 0
}
