//go:build windows

package topology

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/windows"

	"github.com/kettleby/usbhost/internal/winapi"
	"github.com/kettleby/usbhost/usb"
)

// Device-interface classes of the USB stack.
var (
	guidHostController = uuid.MustParse("3abf6f2d-71c4-462a-8a92-1e6861e6af27")
	guidHub            = uuid.MustParse("f18a0e88-c30c-11d0-8815-00a0c906bed8")
	guidDevice         = uuid.MustParse("a5dcbf10-6530-11d2-901f-00c04fb951ed")
)

// installStateInstalled is the only install state enumeration accepts.
const installStateInstalled = 0

// windowsTree reads the live device tree through the device-enumeration
// and device-manager services.
type windowsTree struct{}

// NewDeviceTree returns the production device tree.
func NewDeviceTree() DeviceTree { return windowsTree{} }

// winGUID converts from the textual byte order to the registry layout.
func winGUID(u uuid.UUID) windows.GUID {
	var g windows.GUID
	g.Data1 = binary.BigEndian.Uint32(u[0:4])
	g.Data2 = binary.BigEndian.Uint16(u[4:6])
	g.Data3 = binary.BigEndian.Uint16(u[6:8])
	copy(g.Data4[:], u[8:16])
	return g
}

func (windowsTree) HostControllers() ([]Node, error) { return interfaceNodes(guidHostController) }
func (windowsTree) Hubs() ([]Node, error)            { return interfaceNodes(guidHub) }
func (windowsTree) Devices() ([]Node, error)         { return interfaceNodes(guidDevice) }

func (windowsTree) InterfaceNodes(guid uuid.UUID) ([]Node, error) {
	return interfaceNodes(guid)
}

func interfaceNodes(g uuid.UUID) ([]Node, error) {
	guid := winGUID(g)
	set, err := winapi.ClassDevs(&guid, "", winapi.DIGCFPresent|winapi.DIGCFDeviceInterface)
	if err != nil {
		return nil, err
	}
	defer set.Close()

	var out []Node
	for i := uint32(0); ; i++ {
		ifd, ok := set.Interface(&guid, i)
		if !ok {
			break
		}
		path, dev, err := set.InterfaceDetail(&ifd)
		if err != nil {
			continue
		}
		id, err := set.InstanceID(&dev)
		if err != nil {
			continue
		}
		out = append(out, Node{InstanceID: strings.ToUpper(id), Path: path})
	}
	return out, nil
}

func (windowsTree) Parent(instanceID string) (string, error) {
	devInst, err := winapi.LocateDevNode(instanceID)
	if err != nil {
		return "", err
	}
	parent, err := winapi.ParentDevNode(devInst)
	if err != nil {
		return "", err
	}
	id, err := winapi.DevNodeID(parent)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(id), nil
}

func (windowsTree) Children(instanceID string) ([]string, error) {
	devInst, err := winapi.LocateDevNode(instanceID)
	if err != nil {
		return nil, err
	}
	ids, err := winapi.ChildrenOf(devInst)
	for i := range ids {
		ids[i] = strings.ToUpper(ids[i])
	}
	return ids, err
}

// devNode opens the single-device information set for one instance id.
func devNode(instanceID string) (*winapi.DevInfoSet, winapi.DevInfoData, error) {
	set, err := winapi.ClassDevs(nil, instanceID, winapi.DIGCFPresent|winapi.DIGCFAllClasses)
	if err != nil {
		return nil, winapi.DevInfoData{}, err
	}
	dev, ok := set.Device(0)
	if !ok {
		set.Close()
		return nil, winapi.DevInfoData{}, fmt.Errorf("device %s not present", instanceID)
	}
	return set, dev, nil
}

// Port reads the hub port number. A device still being installed has no
// stable port and is reported as an error so the scan skips it.
func (windowsTree) Port(instanceID string) (uint32, error) {
	set, dev, err := devNode(instanceID)
	if err != nil {
		return 0, err
	}
	defer set.Close()

	if state, err := set.DWordProperty(&dev, winapi.SPDRPInstallState); err == nil && state != installStateInstalled {
		return 0, fmt.Errorf("device %s install state %d", instanceID, state)
	}
	port, err := set.DWordProperty(&dev, winapi.SPDRPAddress)
	if err != nil {
		return 0, fmt.Errorf("device %s has no port address: %w", instanceID, err)
	}
	return port, nil
}

func (windowsTree) DriverInfo(instanceID string) (DriverInfo, error) {
	set, dev, err := devNode(instanceID)
	if err != nil {
		return DriverInfo{}, err
	}
	defer set.Close()

	var info DriverInfo
	info.Service, _ = set.StringProperty(&dev, winapi.SPDRPService)
	info.Upper, _ = set.MultiStringProperty(&dev, winapi.SPDRPUpperFilters)
	info.Lower, _ = set.MultiStringProperty(&dev, winapi.SPDRPLowerFilters)
	return info, nil
}

// ExtraInterfaceGUIDs reads the DeviceInterfaceGUIDs registry value WinUSB
// devices advertise their custom interface class through. The singular
// REG_SZ spelling is accepted too.
func (windowsTree) ExtraInterfaceGUIDs(instanceID string) ([]uuid.UUID, error) {
	set, dev, err := devNode(instanceID)
	if err != nil {
		return nil, err
	}
	defer set.Close()

	key, err := set.OpenDevRegKey(&dev)
	if err != nil {
		return nil, nil
	}
	defer windows.RegCloseKey(key)

	var texts []string
	if raw, typ, err := winapi.RegQueryValueBytes(key, "DeviceInterfaceGUIDs"); err == nil {
		switch typ {
		case windows.REG_MULTI_SZ:
			texts = winapi.SplitMultiSZ(raw)
		case windows.REG_SZ:
			texts = []string{winapi.UTF16BytesToString(raw)}
		}
	} else if raw, typ, err := winapi.RegQueryValueBytes(key, "DeviceInterfaceGUID"); err == nil && typ == windows.REG_SZ {
		texts = []string{winapi.UTF16BytesToString(raw)}
	}

	var out []uuid.UUID
	for _, s := range texts {
		s = strings.Trim(strings.TrimSpace(s), "{}")
		if g, err := uuid.Parse(s); err == nil {
			out = append(out, g)
		}
	}
	return out, nil
}

func (windowsTree) PortInfo(hubPath string, port uint32) (*PortInfo, error) {
	hub, err := winapi.OpenDeviceFile(hubPath, windows.GENERIC_WRITE)
	if err != nil {
		return nil, fmt.Errorf("open hub %s: %w", hubPath, err)
	}
	defer windows.CloseHandle(hub)

	conn, err := winapi.HubPortConnectionInfo(hub, port)
	if err != nil {
		return nil, err
	}
	if !conn.Connected {
		return nil, fmt.Errorf("hub %s port %d has no connected device", hubPath, port)
	}
	desc, err := usb.ParseDeviceDescriptor(conn.RawDescriptor[:])
	if err != nil {
		return nil, err
	}
	return &PortInfo{
		Descriptor:   desc,
		Address:      uint8(conn.Address),
		Speed:        portSpeed(conn.Speed),
		ActiveConfig: conn.CurrentConfiguration,
	}, nil
}

func portSpeed(s uint8) usb.Speed {
	switch s {
	case 0:
		return usb.SpeedLow
	case 1:
		return usb.SpeedFull
	case 2:
		return usb.SpeedHigh
	case 3:
		return usb.SpeedSuper
	default:
		return usb.SpeedUnknown
	}
}

// ConfigDescriptor fetches one configuration descriptor through the hub,
// probing the header first to size the full request.
func (windowsTree) ConfigDescriptor(hubPath string, port uint32, index uint8) ([]byte, error) {
	hub, err := winapi.OpenDeviceFile(hubPath, windows.GENERIC_WRITE)
	if err != nil {
		return nil, fmt.Errorf("open hub %s: %w", hubPath, err)
	}
	defer windows.CloseHandle(hub)

	head, err := winapi.DescriptorFromNode(hub, port, usb.ConfigDescType, index, 0, usb.ConfigDescLen)
	if err != nil {
		return nil, err
	}
	if len(head) < usb.ConfigDescLen {
		return nil, fmt.Errorf("hub %s port %d: short config header (%d bytes)", hubPath, port, len(head))
	}
	total := binary.LittleEndian.Uint16(head[2:])
	if int(total) <= len(head) {
		return head, nil
	}
	return winapi.DescriptorFromNode(hub, port, usb.ConfigDescType, index, 0, total)
}
