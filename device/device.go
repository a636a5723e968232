// Package device holds the core model of the host stack: the per-device
// record assembled during enumeration, open-handle state, transfer state
// and the backend contract every access method implements.
package device

import (
	"fmt"
	"sync"

	"github.com/kettleby/usbhost/usb"
)

// MaxInterfaces is the fixed capacity of the per-device interface table.
const MaxInterfaces = 32

// APIKind selects the access method driving a device.
type APIKind uint8

const (
	APIUnsupported APIKind = iota
	APIHub
	APIComposite
	APIWinUSB // WinUSB-like: libusbK, WinUSB or the libusb0 filter
	APIHID
	apiCount
)

func (k APIKind) String() string {
	switch k {
	case APIUnsupported:
		return "unsupported"
	case APIHub:
		return "hub"
	case APIComposite:
		return "composite"
	case APIWinUSB:
		return "winusb"
	case APIHID:
		return "hid"
	default:
		return fmt.Sprintf("api(%d)", uint8(k))
	}
}

// SubAPI picks the concrete driver behind APIWinUSB.
type SubAPI int8

const (
	SubNotSet  SubAPI = -1
	SubLibusbK SubAPI = iota - 1
	SubLibusb0
	SubWinUSB
	subAPICount
)

func (s SubAPI) String() string {
	switch s {
	case SubLibusbK:
		return "libusbK"
	case SubLibusb0:
		return "libusb0"
	case SubWinUSB:
		return "WinUSB"
	default:
		return "unset"
	}
}

// Binding attaches one interface of a device to the access method that
// drives it.
type Binding struct {
	Path string // device interface path the backend opens
	API  APIKind
	Sub  SubAPI

	// Restricted marks HID interfaces the OS will not hand over fully
	// (keyboards and mice); data transfers are refused but the control
	// path still works.
	Restricted bool
}

// Set reports whether the binding points at a usable access method.
func (b *Binding) Set() bool { return b.Path != "" || b.API != APIUnsupported }

// Device is one record in the enumerated topology. Immutable fields are
// filled once by the builder; the interface table may be patched later by
// hotplug events under mu.
type Device struct {
	SessionID  uint64
	InstanceID string // OS device instance id, upper-cased
	Path       string // sanitized \\.\ path of the whole device

	Bus     uint8
	Address uint8
	Port    uint32 // port on the parent hub, 0 for root hubs
	Depth   uint8
	Speed   usb.Speed

	Parent *Device

	API APIKind
	Sub SubAPI

	Descriptor   usb.DeviceDescriptor
	ActiveConfig uint8
	Configs      [][]byte // raw config descriptors, index order

	// HID is filled by the HID backend when the device is opened.
	HID *HIDInfo

	mu       sync.RWMutex
	bindings [MaxInterfaces]Binding
}

// Binding returns a copy of the binding for interface iface.
func (d *Device) Binding(iface int) (Binding, bool) {
	if iface < 0 || iface >= MaxInterfaces {
		return Binding{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	b := d.bindings[iface]
	return b, b.Set()
}

// SetBinding installs the binding for interface iface of a composite
// device. When the slot is already attached, a HID newcomer loses (HID
// collections surface the same interface several times and the first
// attachment must keep its path); any other newcomer overwrites.
func (d *Device) SetBinding(iface int, b Binding) error {
	if iface < 0 || iface >= MaxInterfaces {
		return fmt.Errorf("%w: interface %d out of range", usb.ErrInvalidParam, iface)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bindings[iface].Set() && b.API == APIHID {
		return nil
	}
	d.bindings[iface] = b
	return nil
}

// ClearBinding removes the composite binding for interface iface. Slots of
// composite devices stay sparse; only HID-proper devices compact.
func (d *Device) ClearBinding(iface int) {
	if iface < 0 || iface >= MaxInterfaces {
		return
	}
	d.mu.Lock()
	d.bindings[iface] = Binding{}
	d.mu.Unlock()
}

// ClearBindingByPath zeroes the binding slot holding path, keeping the
// table sparse so composite interface numbers keep their meaning. Reports
// false when no slot holds the path.
func (d *Device) ClearBindingByPath(path string) bool {
	if path == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.bindings {
		if d.bindings[i].Path == path {
			d.bindings[i] = Binding{}
			return true
		}
	}
	return false
}

// AppendHIDPath records one top-level HID collection path of a HID device,
// taking the first free interface slot. Paths are de-duplicated; a full
// table or duplicate path is reported as false.
func (d *Device) AppendHIDPath(path string, restricted bool) bool {
	if path == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.bindings {
		if d.bindings[i].Path == path {
			return false
		}
	}
	for i := range d.bindings {
		if !d.bindings[i].Set() {
			d.bindings[i] = Binding{Path: path, API: APIHID, Restricted: restricted}
			return true
		}
	}
	return false
}

// RemoveHIDPath drops the binding holding path and compacts the table so
// HID interface slots stay dense.
func (d *Device) RemoveHIDPath(path string) bool {
	if path == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.bindings {
		if d.bindings[i].Path != path {
			continue
		}
		copy(d.bindings[i:], d.bindings[i+1:])
		d.bindings[MaxInterfaces-1] = Binding{}
		return true
	}
	return false
}

// EachBinding calls fn for every set binding, in interface order, under the
// read lock. fn must not call back into binding mutators.
func (d *Device) EachBinding(fn func(iface int, b Binding) bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i := range d.bindings {
		if !d.bindings[i].Set() {
			continue
		}
		if !fn(i, d.bindings[i]) {
			return
		}
	}
}

// InterfaceByEndpoint resolves the interface number owning endpoint from
// the active config descriptor.
func (d *Device) InterfaceByEndpoint(endpoint uint8) (int, error) {
	cfg, err := d.ActiveConfigDescriptor()
	if err != nil {
		return 0, err
	}
	iface, ok := cfg.InterfaceByEndpoint(endpoint)
	if !ok {
		return 0, fmt.Errorf("%w: no interface owns endpoint 0x%02x", usb.ErrNotFound, endpoint)
	}
	return int(iface), nil
}

// ConfigDescriptor returns the parsed config descriptor at index.
func (d *Device) ConfigDescriptor(index uint8) (*usb.ConfigDescriptor, error) {
	if int(index) >= len(d.Configs) {
		return nil, fmt.Errorf("%w: config index %d of %d", usb.ErrNotFound, index, len(d.Configs))
	}
	return usb.ParseConfigDescriptor(d.Configs[index])
}

// ActiveConfigDescriptor returns the parsed descriptor of the active
// configuration, matched by bConfigurationValue.
func (d *Device) ActiveConfigDescriptor() (*usb.ConfigDescriptor, error) {
	if d.ActiveConfig == 0 {
		return nil, fmt.Errorf("%w: device is unconfigured", usb.ErrNotFound)
	}
	for i := range d.Configs {
		cfg, err := usb.ParseConfigDescriptor(d.Configs[i])
		if err != nil {
			continue
		}
		if cfg.Header.BConfigurationValue == d.ActiveConfig {
			return cfg, nil
		}
	}
	return nil, fmt.Errorf("%w: no cached descriptor for active config %d", usb.ErrNotFound, d.ActiveConfig)
}

// HIDInfo describes the capabilities probed from a HID device at open time.
type HIDInfo struct {
	VID, PID  uint16
	Usage     uint16
	UsagePage uint16

	InputReportSize   uint32
	OutputReportSize  uint32
	FeatureReportSize uint32

	// UsesReportIDs is indexed by HIDInput/HIDOutput/HIDFeature.
	UsesReportIDs [3]bool

	ManufacturerString string
	ProductString      string
	SerialString       string
}

// HID report channels, index into HIDInfo.UsesReportIDs.
const (
	HIDInput = iota
	HIDOutput
	HIDFeature
)
