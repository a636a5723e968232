package topology

import (
	"github.com/google/uuid"

	"github.com/kettleby/usbhost/usb"
)

// Node is one OS device seen through a device-interface class.
type Node struct {
	InstanceID string // device instance id, e.g. USB\VID_046D&PID_C31C\5&39D1...
	Path       string // device interface symbolic link
}

// PortInfo is the connection state a hub reports for one of its ports.
type PortInfo struct {
	Descriptor   usb.DeviceDescriptor
	Address      uint8
	Speed        usb.Speed
	ActiveConfig uint8
}

// HIDGUID is the device-interface class of HID collections, always first
// in an interface search set.
var HIDGUID = uuid.MustParse("4d1e55b2-f16f-11cf-88cb-001111000030")

// DeviceTree is the view of the OS device tree the builder walks. The
// production implementation wraps the Windows device-enumeration services;
// tests drive the builder with a simulated tree.
type DeviceTree interface {
	// HostControllers lists USB host controllers.
	HostControllers() ([]Node, error)
	// Hubs lists hub-class device interfaces, root hubs included.
	Hubs() ([]Node, error)
	// Devices lists device-class interfaces (non-hub devices).
	Devices() ([]Node, error)

	// Parent returns the instance id of a node's parent.
	Parent(instanceID string) (string, error)
	// Children returns direct child instance ids in sibling order.
	Children(instanceID string) ([]string, error)

	// Port returns the hub port the node sits on. Nodes with a pending
	// install state or missing port metadata surface as errors and are
	// skipped by the builder.
	Port(instanceID string) (uint32, error)

	// DriverInfo returns the bound service and filter driver names.
	DriverInfo(instanceID string) (DriverInfo, error)

	// ExtraInterfaceGUIDs reads the optional DeviceInterfaceGUIDs registry
	// value of a node, marking extra interface classes to search.
	ExtraInterfaceGUIDs(instanceID string) ([]uuid.UUID, error)

	// InterfaceNodes lists the device interfaces of one class.
	InterfaceNodes(guid uuid.UUID) ([]Node, error)

	// PortInfo queries the hub at hubPath for the device on port.
	PortInfo(hubPath string, port uint32) (*PortInfo, error)

	// ConfigDescriptor fetches the full configuration descriptor at index
	// from the device on the given hub port.
	ConfigDescriptor(hubPath string, port uint32, index uint8) ([]byte, error)
}
