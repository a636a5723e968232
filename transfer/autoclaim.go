package transfer

import (
	"fmt"
	"sync"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/usb"
)

// autoClaimMu serializes every scan-claim-increment and decrement-release
// pair process-wide, so two threads never claim the same interface for
// overlapping control transfers.
var autoClaimMu sync.Mutex

// AutoClaim resolves the interface a control transfer should run on. When
// the caller already claimed an interface bound to api, that one is used;
// otherwise the first bindable interface is claimed implicitly and the
// handle's reference count for it is bumped. Backends call this at submit
// time.
func AutoClaim(t *device.Transfer, api device.APIKind) error {
	h := t.Handle
	autoClaimMu.Lock()
	defer autoClaimMu.Unlock()

	iface := -1
	for _, i := range h.ClaimedInterfaces() {
		if b, ok := h.Dev.Binding(i); ok && b.API == api {
			iface = i
			break
		}
	}
	if iface >= 0 {
		// Explicitly claimed interfaces carry no auto reference unless a
		// previous transfer already auto-claimed them.
		if h.AutoClaimCount(iface) > 0 {
			h.AddAutoClaim(iface)
			t.AutoClaimed = true
		}
		t.Iface = iface
		return nil
	}

	for i := 0; i < device.MaxInterfaces; i++ {
		b, ok := h.Dev.Binding(i)
		if !ok || b.API != api {
			continue
		}
		if err := device.BackendFor(api).ClaimInterface(h, i); err != nil {
			continue
		}
		h.SetClaimed(i, true)
		h.AddAutoClaim(i)
		t.AutoClaimed = true
		t.Iface = i
		return nil
	}
	return fmt.Errorf("%w: no claimable interface for %s control transfer", usb.ErrNotFound, api)
}

// AutoRelease drops the transfer's implicit claim. The interface is
// released once the last auto-claiming transfer tears down.
func AutoRelease(t *device.Transfer) {
	if !t.AutoClaimed {
		return
	}
	t.AutoClaimed = false
	h := t.Handle

	autoClaimMu.Lock()
	defer autoClaimMu.Unlock()

	if !h.DropAutoClaim(t.Iface) {
		return
	}
	b, ok := h.Dev.Binding(t.Iface)
	if !ok {
		return
	}
	if err := device.BackendFor(b.API).ReleaseInterface(h, t.Iface); err == nil {
		h.SetClaimed(t.Iface, false)
	}
}
