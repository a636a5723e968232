package device

import (
	"time"

	"github.com/kettleby/usbhost/usb"
)

// Transfer is one asynchronous operation in flight. The engine fills the
// request fields, backends own the OS fields at submit time, and the
// completion path reads both.
type Transfer struct {
	Handle   *Handle
	Kind     usb.TransferType
	Endpoint uint8 // address including direction bit, 0 for control

	// Setup is the control setup stage; nil for non-control transfers.
	Setup *usb.SetupPacket

	// Buffer is the data stage. For IN transfers the backend copies
	// received bytes into it on completion.
	Buffer []byte

	Timeout time.Duration

	// Iface is the interface resolved at submit time, either from the
	// endpoint address or by auto-claim.
	Iface int

	// AutoClaimed marks that the engine claimed Iface implicitly and must
	// drop the claim when the transfer reaches a terminal state.
	AutoClaimed bool

	// TimedOut is set by the engine before it aborts an expired transfer,
	// so an aborted completion is reported as a timeout.
	TimedOut bool

	// Event is the OS event the poll layer waits on; Overlapped points at
	// the OVERLAPPED structure backing the operation. Both are owned by the
	// submitting backend.
	Event      uintptr
	Overlapped uintptr

	// CompletedSynchronously is set when the OS finished the operation
	// during submission; the completion path must not wait on Event.
	CompletedSynchronously bool

	// SyncSize is the byte count of a synchronous completion.
	SyncSize uint32
}

// In reports whether the transfer moves data device to host.
func (t *Transfer) In() bool {
	if t.Kind == usb.TransferControl {
		return t.Setup != nil && t.Setup.In()
	}
	return t.Endpoint&usb.EndpointDirMask != 0
}
