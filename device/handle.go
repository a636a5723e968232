package device

import (
	"fmt"
	"sync"

	"github.com/kettleby/usbhost/usb"
)

// InvalidHandle is the OS value for "no handle" (INVALID_HANDLE_VALUE).
const InvalidHandle = ^uintptr(0)

// InterfaceHandle pairs the OS file handle of an interface with the
// driver-level handle the access method layered on top of it.
type InterfaceHandle struct {
	File uintptr // file handle, InvalidHandle or 0 when not open
	API  uintptr // driver handle (WinUSB interface handle, HID preparsed data)
}

// Valid reports whether the file handle is usable.
func (ih InterfaceHandle) Valid() bool {
	return ih.File != 0 && ih.File != InvalidHandle
}

// Handle is the open-device state. One device may be open through several
// handles; each tracks its own claimed interfaces.
type Handle struct {
	Dev *Device

	mu         sync.Mutex
	interfaces [MaxInterfaces]InterfaceHandle
	claimed    [MaxInterfaces]bool
	altSetting [MaxInterfaces]uint8
	autoClaims [MaxInterfaces]int

	// HIDRestricted is set when the device could only be opened without
	// read/write access (keyboards and mice held by the OS).
	HIDRestricted bool
}

// Interface returns the stored handles for interface iface.
func (h *Handle) Interface(iface int) InterfaceHandle {
	if iface < 0 || iface >= MaxInterfaces {
		return InterfaceHandle{File: InvalidHandle}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interfaces[iface]
}

// SetInterface stores the handles for interface iface.
func (h *Handle) SetInterface(iface int, ih InterfaceHandle) {
	if iface < 0 || iface >= MaxInterfaces {
		return
	}
	h.mu.Lock()
	h.interfaces[iface] = ih
	h.mu.Unlock()
}

// Claimed reports whether iface is currently claimed through this handle.
func (h *Handle) Claimed(iface int) bool {
	if iface < 0 || iface >= MaxInterfaces {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.claimed[iface]
}

// SetClaimed records the claim state of iface.
func (h *Handle) SetClaimed(iface int, v bool) {
	if iface < 0 || iface >= MaxInterfaces {
		return
	}
	h.mu.Lock()
	h.claimed[iface] = v
	if !v {
		h.altSetting[iface] = 0
	}
	h.mu.Unlock()
}

// AltSetting returns the selected alternate setting of iface.
func (h *Handle) AltSetting(iface int) uint8 {
	if iface < 0 || iface >= MaxInterfaces {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.altSetting[iface]
}

// SetAltSetting records the selected alternate setting of iface.
func (h *Handle) SetAltSetting(iface int, alt uint8) {
	if iface < 0 || iface >= MaxInterfaces {
		return
	}
	h.mu.Lock()
	h.altSetting[iface] = alt
	h.mu.Unlock()
}

// AddAutoClaim bumps the implicit-claim count for iface and reports the new
// count. The transfer engine claims an interface on behalf of the caller
// the first time a transfer needs it.
func (h *Handle) AddAutoClaim(iface int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.autoClaims[iface]++
	return h.autoClaims[iface]
}

// AutoClaimCount returns the current implicit-claim count for iface.
func (h *Handle) AutoClaimCount(iface int) int {
	if iface < 0 || iface >= MaxInterfaces {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.autoClaims[iface]
}

// DropAutoClaim decrements the implicit-claim count for iface and reports
// whether the count hit zero (the claim itself should then be released).
// Counts never go negative: an explicit claim zeroes the counter.
func (h *Handle) DropAutoClaim(iface int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.autoClaims[iface] == 0 {
		return false
	}
	h.autoClaims[iface]--
	return h.autoClaims[iface] == 0
}

// ResetAutoClaim clears the implicit-claim counter, used when the caller
// claims the interface explicitly.
func (h *Handle) ResetAutoClaim(iface int) {
	h.mu.Lock()
	h.autoClaims[iface] = 0
	h.mu.Unlock()
}

// ClaimedInterfaces returns the interface numbers currently claimed.
func (h *Handle) ClaimedInterfaces() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []int
	for i := range h.claimed {
		if h.claimed[i] {
			out = append(out, i)
		}
	}
	return out
}

// ValidInterface returns iface when it is bound to the given access method,
// searching for any bound interface of that method when iface is -1.
// Mirrors the lookup backends use to find the interface backing a request.
func (h *Handle) ValidInterface(iface int, api APIKind) (int, error) {
	if iface >= 0 {
		b, ok := h.Dev.Binding(iface)
		if !ok || b.API != api {
			return 0, fmt.Errorf("%w: interface %d is not bound to %s", usb.ErrNotFound, iface, api)
		}
		return iface, nil
	}
	found := -1
	h.Dev.EachBinding(func(i int, b Binding) bool {
		if b.API == api {
			found = i
			return false
		}
		return true
	})
	if found < 0 {
		return 0, fmt.Errorf("%w: no interface bound to %s", usb.ErrNotFound, api)
	}
	return found, nil
}
