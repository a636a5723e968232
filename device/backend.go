package device

import (
	"sync"

	"github.com/kettleby/usbhost/usb"
)

// Backend is the access-method contract. One implementation exists per
// APIKind; the composite backend routes every call to the sub-backend bound
// to the target interface.
type Backend interface {
	Name() string

	// Init and Exit bracket process-wide driver state (DLL probing,
	// handle tables). Init is called once per stack init, Exit on the
	// last teardown.
	Init() error
	Exit() error

	Open(h *Handle) error
	Close(h *Handle)

	// ConfigureEndpoints pushes the endpoint table of the current
	// altsetting of iface down to the driver.
	ConfigureEndpoints(h *Handle, iface int) error

	ClaimInterface(h *Handle, iface int) error
	SetAltSetting(h *Handle, iface int, alt uint8) error
	ReleaseInterface(h *Handle, iface int) error

	ClearHalt(h *Handle, endpoint uint8) error
	ResetDevice(h *Handle) error

	SubmitControlTransfer(t *Transfer) error
	SubmitBulkTransfer(t *Transfer) error
	SubmitIsoTransfer(t *Transfer) error

	AbortControl(t *Transfer) error
	AbortTransfers(t *Transfer) error

	// CopyTransferData finalizes a transfer of length bytes, moving
	// received data into the caller buffer. The engine calls it once for
	// every terminal status, with length 0 when nothing landed, so
	// per-transfer backend state must be released here. It returns the
	// byte count visible to the caller and the terminal status.
	CopyTransferData(t *Transfer, length uint32) (int, usb.TransferStatus)
}

var (
	backendMu sync.RWMutex
	backends  [apiCount]Backend
)

// Register installs the backend for an access method. Called from init
// functions of the implementing packages; later registrations win, which
// lets tests install fakes.
func Register(k APIKind, b Backend) {
	backendMu.Lock()
	defer backendMu.Unlock()
	if int(k) < len(backends) {
		backends[k] = b
	}
}

// BackendFor returns the backend registered for k. An access method with
// no registration resolves to the unsupported backend at slot 0, which must
// always be registered first.
func BackendFor(k APIKind) Backend {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if int(k) < len(backends) && backends[k] != nil {
		return backends[k]
	}
	return backends[APIUnsupported]
}

// EachBackend calls fn for every registered backend once, in APIKind order.
func EachBackend(fn func(k APIKind, b Backend) error) error {
	backendMu.RLock()
	defer backendMu.RUnlock()
	for k := range backends {
		if backends[k] == nil {
			continue
		}
		if err := fn(APIKind(k), backends[k]); err != nil {
			return err
		}
	}
	return nil
}
