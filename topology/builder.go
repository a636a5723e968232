// Package topology builds the USB device tree: it walks the OS
// device-enumeration services hub-first, assigns stable session ids and bus
// numbers, classifies each device's access method from its bound drivers
// and binds per-interface access paths for composite and HID devices.
package topology

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/session"
	"github.com/kettleby/usbhost/usb"
)

// Sink receives finished device records. Records are fully built before
// Publish; a record never surfaces half-initialized.
type Sink interface {
	// BySession returns the live record with the given session id, or nil.
	BySession(id uint64) *device.Device
	// ByInstanceID returns the live record with the given (upper-cased)
	// instance id, or nil.
	ByInstanceID(id string) *device.Device
	// Publish hands over a finished record.
	Publish(d *device.Device)
}

// Enumerator walks a DeviceTree and publishes device records. Session ids
// and bus numbers live as long as the Enumerator, so repeated scans hand
// the same device the same identity.
type Enumerator struct {
	tree     DeviceTree
	log      *slog.Logger
	sessions *session.Table
	buses    *BusRegistry
}

// NewEnumerator returns an enumerator over tree.
func NewEnumerator(tree DeviceTree, logger *slog.Logger) *Enumerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enumerator{
		tree:     tree,
		log:      logger,
		sessions: session.NewTable(),
		buses:    NewBusRegistry(),
	}
}

// SessionID returns the session id a device path maps to, allocating one
// on first sight. Used by the hotplug engine to identify removals.
func (e *Enumerator) SessionID(path string) uint64 {
	return e.sessions.ID(SanitizePath(path))
}

// Scan walks hubs first, then devices, and publishes every record it can
// finish. Per-device failures are absorbed: the device is skipped with a
// diagnostic and the scan continues.
func (e *Enumerator) Scan(sink Sink) error {
	hubs, err := e.tree.Hubs()
	if err != nil {
		return fmt.Errorf("listing hubs: %w", err)
	}
	devs, err := e.tree.Devices()
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	s := &scan{
		e:          e,
		sink:       sink,
		hubNodes:   make(map[string]Node, len(hubs)),
		byInstance: make(map[string]*device.Device),
		visiting:   make(map[uint64]bool),
	}
	for _, n := range hubs {
		s.hubNodes[strings.ToUpper(n.InstanceID)] = n
	}

	for _, n := range hubs {
		s.enumerate(n, true)
	}
	for _, n := range devs {
		s.enumerate(n, false)
	}
	return nil
}

// scan is the per-Scan working state.
type scan struct {
	e          *Enumerator
	sink       Sink
	hubNodes   map[string]Node           // upper instance id -> hub node
	byInstance map[string]*device.Device // records touched this scan
	visiting   map[uint64]bool           // recursion guard
}

// enumerate builds (or finds) the record for one node. It returns nil when
// the node had to be skipped.
func (s *scan) enumerate(n Node, isHub bool) *device.Device {
	e := s.e
	instID := strings.ToUpper(n.InstanceID)
	path := SanitizePath(n.Path)

	sid := e.sessions.ID(path)
	if sid == 0 {
		e.log.Warn("no session id for device path", "path", path)
		return nil
	}
	if d := s.sink.BySession(sid); d != nil {
		s.byInstance[instID] = d
		e.refreshBindings(d)
		return d
	}
	if s.visiting[sid] {
		e.log.Error("cycle in device tree", "instance", instID)
		return nil
	}
	s.visiting[sid] = true
	defer delete(s.visiting, sid)

	port, err := e.tree.Port(instID)
	if err != nil {
		e.log.Debug("skipping device without usable port state", "instance", instID, "error", err)
		return nil
	}
	parentID, err := e.tree.Parent(instID)
	if err != nil {
		e.log.Debug("skipping device without parent", "instance", instID, "error", err)
		return nil
	}
	parentID = strings.ToUpper(parentID)

	d := &device.Device{
		SessionID:  sid,
		InstanceID: instID,
		Path:       path,
		Port:       port,
	}

	if isHub && port == 0 {
		// Root hub. The OS exposes no descriptor for it, so synthesize
		// one; vendor and product come from the PCI controller when its
		// id parses.
		vid, pid, ok := ParsePCIIDs(parentID)
		if !ok {
			vid, pid = RootHubVendorID, RootHubProductID
		}
		d.Bus = e.buses.BusNumber(parentID)
		d.Depth = 0
		d.Address = 1
		d.ActiveConfig = 1
		d.Descriptor = usb.DeviceDescriptor{
			BcdUSB:             0x0200,
			BDeviceClass:       usb.ClassHub,
			BMaxPacketSize0:    64,
			IDVendor:           vid,
			IDProduct:          pid,
			BcdDevice:          0x0100,
			BNumConfigurations: 1,
		}
	} else {
		parent := s.record(parentID)
		if parent == nil {
			e.log.Debug("skipping device, parent not enumerable", "instance", instID, "parent", parentID)
			return nil
		}
		d.Parent = parent
		d.Bus = parent.Bus
		d.Depth = parent.Depth + 1

		pi, err := e.tree.PortInfo(parent.Path, port)
		if err != nil {
			e.log.Debug("skipping device, port query failed", "instance", instID, "hub", parent.InstanceID, "port", port, "error", err)
			return nil
		}
		d.Descriptor = pi.Descriptor
		d.Address = pi.Address
		d.Speed = pi.Speed
		d.ActiveConfig = pi.ActiveConfig
		e.cacheConfigs(d, parent.Path, port)
	}

	di, err := e.tree.DriverInfo(instID)
	if err != nil {
		e.log.Debug("no driver info, device stays unsupported", "instance", instID, "error", err)
	}
	d.API, d.Sub = Classify(di)

	switch d.API {
	case device.APIComposite:
		e.bindComposite(d)
	case device.APIHID:
		e.bindHID(d)
	case device.APIWinUSB:
		// Single-function device: the whole-device node is interface 0.
		_ = d.SetBinding(0, device.Binding{Path: path, API: d.API, Sub: d.Sub})
	}

	e.log.Debug("enumerated device",
		"instance", instID, "session", sid, "bus", d.Bus, "address", d.Address,
		"depth", d.Depth, "port", port, "api", d.API.String(),
		"vid", fmt.Sprintf("%04x", d.Descriptor.IDVendor),
		"pid", fmt.Sprintf("%04x", d.Descriptor.IDProduct))

	s.sink.Publish(d)
	s.byInstance[instID] = d
	return d
}

// record resolves a parent instance id to its record, enumerating the
// parent hub on demand.
func (s *scan) record(instID string) *device.Device {
	if d, ok := s.byInstance[instID]; ok {
		return d
	}
	if d := s.sink.ByInstanceID(instID); d != nil {
		return d
	}
	if n, ok := s.hubNodes[instID]; ok {
		return s.enumerate(n, true)
	}
	return nil
}

// cacheConfigs fetches every configuration descriptor once. A failed fetch
// degrades the device to zero configurations instead of failing it.
func (e *Enumerator) cacheConfigs(d *device.Device, hubPath string, port uint32) {
	n := d.Descriptor.BNumConfigurations
	for i := uint8(0); i < n; i++ {
		raw, err := e.tree.ConfigDescriptor(hubPath, port, i)
		if err != nil {
			e.log.Debug("config descriptor fetch failed, degrading to zero configurations",
				"instance", d.InstanceID, "index", i, "error", err)
			d.Configs = nil
			d.Descriptor.BNumConfigurations = 0
			return
		}
		d.Configs = append(d.Configs, raw)
	}
}

// refreshBindings re-runs interface discovery on a device that survived a
// previous scan. Binding is idempotent, so the rescan a hotplug arrival
// triggers picks up newly surfaced function interfaces of a known device
// without disturbing the ones already attached.
func (e *Enumerator) refreshBindings(d *device.Device) {
	switch d.API {
	case device.APIComposite:
		e.bindComposite(d)
	case device.APIHID:
		e.bindHID(d)
	}
}

// bindComposite attaches every child interface of a composite device. The
// search set starts with the HID class and grows by any alternate interface
// GUIDs the children advertise in the registry.
func (e *Enumerator) bindComposite(d *device.Device) {
	guids := []uuid.UUID{HIDGUID}
	children, err := e.tree.Children(d.InstanceID)
	if err == nil {
		for _, child := range children {
			extra, err := e.tree.ExtraInterfaceGUIDs(child)
			if err != nil {
				continue
			}
			for _, g := range extra {
				if !containsGUID(guids, g) {
					guids = append(guids, g)
				}
			}
		}
	}

	for _, g := range guids {
		nodes, err := e.tree.InterfaceNodes(g)
		if err != nil {
			e.log.Debug("interface class enumeration failed", "guid", g.String(), "error", err)
			continue
		}
		for _, n := range nodes {
			// Vendor interfaces hang directly off the composite node; HID
			// collections sit one level lower, under their HID function
			// node. Accept both and take the interface number from the
			// node nearest the composite.
			mi := n.InstanceID
			p, err := e.tree.Parent(n.InstanceID)
			if err != nil {
				continue
			}
			if !strings.EqualFold(p, d.InstanceID) {
				gp, err := e.tree.Parent(p)
				if err != nil || !strings.EqualFold(gp, d.InstanceID) {
					continue
				}
				mi = p
			}
			di, err := e.tree.DriverInfo(n.InstanceID)
			if err != nil {
				continue
			}
			kind, sub := Classify(di)
			if kind == device.APIUnsupported || kind == device.APIHub || kind == device.APIComposite {
				continue
			}
			iface := ParseMINumber(mi)
			if err := d.SetBinding(iface, device.Binding{
				Path: SanitizePath(n.Path),
				API:  kind,
				Sub:  sub,
			}); err != nil {
				e.log.Warn("interface binding rejected", "instance", n.InstanceID, "interface", iface, "error", err)
			}
		}
	}
}

// bindHID attaches the top-level collection paths of a HID device, one
// interface slot per collection in discovery order.
func (e *Enumerator) bindHID(d *device.Device) {
	nodes, err := e.tree.InterfaceNodes(HIDGUID)
	if err != nil {
		e.log.Debug("HID interface enumeration failed", "error", err)
	}
	for _, n := range nodes {
		p, err := e.tree.Parent(n.InstanceID)
		if err != nil {
			continue
		}
		if !strings.EqualFold(p, d.InstanceID) && !strings.EqualFold(n.InstanceID, d.InstanceID) {
			continue
		}
		d.AppendHIDPath(SanitizePath(n.Path), false)
	}
	if _, ok := d.Binding(0); !ok {
		// No collection node found; the whole-device path still works for
		// the control channel.
		d.AppendHIDPath(d.Path, false)
	}
}

func containsGUID(list []uuid.UUID, g uuid.UUID) bool {
	for _, x := range list {
		if x == g {
			return true
		}
	}
	return false
}
