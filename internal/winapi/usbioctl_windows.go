//go:build windows

package winapi

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/windows"
)

// Hub control channel: ioctl codes and the packed request layouts of the
// USB hub driver. The structures are byte-packed on the wire, so they are
// marshaled by hand instead of cast.

const fileDeviceUSB = 0x22

var (
	// IOCTL_USB_GET_NODE_CONNECTION_INFORMATION_EX
	IoctlUSBGetNodeConnectionInformationEx = CTLCode(fileDeviceUSB, 274, 0, 0)
	// IOCTL_USB_GET_DESCRIPTOR_FROM_NODE_CONNECTION
	IoctlUSBGetDescriptorFromNodeConnection = CTLCode(fileDeviceUSB, 260, 0, 0)
)

// nodeConnInfoSize is the packed size of USB_NODE_CONNECTION_INFORMATION_EX
// without the trailing pipe list.
const nodeConnInfoSize = 4 + 18 + 1 + 1 + 1 + 2 + 4 + 4

// descriptorRequestHeader is the packed size of USB_DESCRIPTOR_REQUEST
// before the data bytes.
const descriptorRequestHeader = 12

// usbDeviceConnected is the USB_CONNECTION_STATUS value for a live port.
const usbDeviceConnected = 1

// NodeConnectionInfo is the unpacked per-port state a hub reports.
type NodeConnectionInfo struct {
	RawDescriptor        [18]byte
	CurrentConfiguration uint8
	Speed                uint8 // 0 low, 1 full, 2 high, 3 super
	IsHub                bool
	Address              uint16
	Connected            bool
}

// OpenDeviceFile opens a device path for overlapped I/O.
func OpenDeviceFile(path string, access uint32) (windows.Handle, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return windows.InvalidHandle, err
	}
	return windows.CreateFile(p, access,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE, nil,
		windows.OPEN_EXISTING, windows.FILE_FLAG_OVERLAPPED, 0)
}

// HubPortConnectionInfo asks the hub at handle for the state of one port.
func HubPortConnectionInfo(hub windows.Handle, port uint32) (*NodeConnectionInfo, error) {
	buf := make([]byte, nodeConnInfoSize)
	binary.LittleEndian.PutUint32(buf, port)
	var returned uint32
	err := windows.DeviceIoControl(hub, IoctlUSBGetNodeConnectionInformationEx,
		&buf[0], uint32(len(buf)), &buf[0], uint32(len(buf)), &returned, nil)
	if err != nil {
		return nil, fmt.Errorf("node connection info for port %d: %w", port, err)
	}
	if returned < nodeConnInfoSize {
		return nil, fmt.Errorf("node connection info for port %d: short reply (%d bytes)", port, returned)
	}
	info := &NodeConnectionInfo{
		CurrentConfiguration: buf[22],
		Speed:                buf[23],
		IsHub:                buf[24] != 0,
		Address:              binary.LittleEndian.Uint16(buf[25:]),
		Connected:            binary.LittleEndian.Uint32(buf[31:]) == usbDeviceConnected,
	}
	copy(info.RawDescriptor[:], buf[4:22])
	return info, nil
}

// DescriptorFromNode issues a GET_DESCRIPTOR request through the hub for
// the device on port, returning the raw descriptor bytes.
func DescriptorFromNode(hub windows.Handle, port uint32, descType, index uint8, langID, length uint16) ([]byte, error) {
	buf := make([]byte, descriptorRequestHeader+int(length))
	binary.LittleEndian.PutUint32(buf, port)
	buf[4] = 0x80 // device to host, standard, device
	buf[5] = 0x06 // GET_DESCRIPTOR
	binary.LittleEndian.PutUint16(buf[6:], uint16(descType)<<8|uint16(index))
	binary.LittleEndian.PutUint16(buf[8:], langID)
	binary.LittleEndian.PutUint16(buf[10:], length)

	var returned uint32
	err := windows.DeviceIoControl(hub, IoctlUSBGetDescriptorFromNodeConnection,
		&buf[0], uint32(len(buf)), &buf[0], uint32(len(buf)), &returned, nil)
	if err != nil {
		return nil, fmt.Errorf("descriptor 0x%02x[%d] from port %d: %w", descType, index, port, err)
	}
	if returned < descriptorRequestHeader {
		return nil, fmt.Errorf("descriptor 0x%02x[%d] from port %d: short reply", descType, index, port)
	}
	out := make([]byte, returned-descriptorRequestHeader)
	copy(out, buf[descriptorRequestHeader:returned])
	return out, nil
}

// RegQueryValueBytes reads a raw registry value from an open key.
func RegQueryValueBytes(key windows.Handle, name string) ([]byte, uint32, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, 0, err
	}
	var typ, size uint32
	err = windows.RegQueryValueEx(key, p, nil, &typ, nil, &size)
	if err != nil {
		return nil, 0, err
	}
	buf := make([]byte, size)
	err = windows.RegQueryValueEx(key, p, nil, &typ, &buf[0], &size)
	if err != nil {
		return nil, 0, err
	}
	return buf[:size], typ, nil
}

// SplitMultiSZ exposes REG_MULTI_SZ splitting for registry values read
// outside the device-property helpers.
func SplitMultiSZ(b []byte) []string { return splitUTF16MultiString(b) }

// UTF16BytesToString exposes single-string decoding of registry blobs.
func UTF16BytesToString(b []byte) string { return utf16BytesToString(b) }
