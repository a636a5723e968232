//go:build windows

package winapi

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	procSetupDiGetClassDevsW              = setupapi.NewProc("SetupDiGetClassDevsW")
	procSetupDiDestroyDeviceInfoList      = setupapi.NewProc("SetupDiDestroyDeviceInfoList")
	procSetupDiEnumDeviceInfo             = setupapi.NewProc("SetupDiEnumDeviceInfo")
	procSetupDiEnumDeviceInterfaces       = setupapi.NewProc("SetupDiEnumDeviceInterfaces")
	procSetupDiGetDeviceInterfaceDetailW  = setupapi.NewProc("SetupDiGetDeviceInterfaceDetailW")
	procSetupDiGetDeviceRegistryPropertyW = setupapi.NewProc("SetupDiGetDeviceRegistryPropertyW")
	procSetupDiGetDeviceInstanceIdW       = setupapi.NewProc("SetupDiGetDeviceInstanceIdW")
	procSetupDiOpenDevRegKey              = setupapi.NewProc("SetupDiOpenDevRegKey")
)

// SetupDiGetClassDevs flags.
const (
	DIGCFDefault         = 0x0001
	DIGCFPresent         = 0x0002
	DIGCFAllClasses      = 0x0004
	DIGCFProfile         = 0x0008
	DIGCFDeviceInterface = 0x0010
)

// Registry property codes (SPDRP_*).
const (
	SPDRPService      = 0x04
	SPDRPUpperFilters = 0x11
	SPDRPLowerFilters = 0x12
	SPDRPAddress      = 0x1C
	SPDRPInstallState = 0x22
	SPDRPHardwareID   = 0x01
)

// SetupDiOpenDevRegKey scopes.
const (
	DICSFlagGlobal = 0x0001
	DIRegDev       = 0x0001
)

// DevInfoData mirrors SP_DEVINFO_DATA.
type DevInfoData struct {
	Size      uint32
	ClassGUID windows.GUID
	DevInst   uint32
	reserved  uintptr
}

// DeviceInterfaceData mirrors SP_DEVICE_INTERFACE_DATA.
type DeviceInterfaceData struct {
	Size     uint32
	GUID     windows.GUID
	Flags    uint32
	reserved uintptr
}

// DevInfoSet is an open device information set.
type DevInfoSet struct {
	handle windows.Handle
}

// ClassDevs opens the device information set for an interface class GUID.
// A nil guid with the enumerator string set lists by enumerator instead.
func ClassDevs(guid *windows.GUID, enumerator string, flags uint32) (*DevInfoSet, error) {
	var enumPtr *uint16
	if enumerator != "" {
		p, err := windows.UTF16PtrFromString(enumerator)
		if err != nil {
			return nil, err
		}
		enumPtr = p
	}
	h, _, err := procSetupDiGetClassDevsW.Call(
		uintptr(unsafe.Pointer(guid)),
		uintptr(unsafe.Pointer(enumPtr)),
		0,
		uintptr(flags),
	)
	if windows.Handle(h) == windows.InvalidHandle {
		return nil, err
	}
	return &DevInfoSet{handle: windows.Handle(h)}, nil
}

// Close destroys the device information set.
func (s *DevInfoSet) Close() {
	_, _, _ = procSetupDiDestroyDeviceInfoList.Call(uintptr(s.handle))
}

// Device returns the index-th device of the set. ok is false past the end.
func (s *DevInfoSet) Device(index uint32) (DevInfoData, bool) {
	var d DevInfoData
	d.Size = uint32(unsafe.Sizeof(d))
	r, _, _ := procSetupDiEnumDeviceInfo.Call(uintptr(s.handle), uintptr(index), uintptr(unsafe.Pointer(&d)))
	return d, r != 0
}

// Interface returns the index-th interface of class guid in the set.
func (s *DevInfoSet) Interface(guid *windows.GUID, index uint32) (DeviceInterfaceData, bool) {
	var d DeviceInterfaceData
	d.Size = uint32(unsafe.Sizeof(d))
	r, _, _ := procSetupDiEnumDeviceInterfaces.Call(
		uintptr(s.handle), 0, uintptr(unsafe.Pointer(guid)), uintptr(index), uintptr(unsafe.Pointer(&d)))
	return d, r != 0
}

// InterfaceDetail resolves the symbolic link of an interface and the
// device-info entry owning it.
func (s *DevInfoSet) InterfaceDetail(ifd *DeviceInterfaceData) (string, DevInfoData, error) {
	var dev DevInfoData
	dev.Size = uint32(unsafe.Sizeof(dev))

	var needed uint32
	_, _, _ = procSetupDiGetDeviceInterfaceDetailW.Call(
		uintptr(s.handle), uintptr(unsafe.Pointer(ifd)), 0, 0,
		uintptr(unsafe.Pointer(&needed)), uintptr(unsafe.Pointer(&dev)))
	if needed == 0 {
		return "", dev, windows.ERROR_INSUFFICIENT_BUFFER
	}

	// SP_DEVICE_INTERFACE_DETAIL_DATA_W: 4-byte cbSize then the path.
	buf := make([]byte, needed)
	*(*uint32)(unsafe.Pointer(&buf[0])) = 8 // sizeof with one WCHAR, 8 on 64-bit
	r, _, err := procSetupDiGetDeviceInterfaceDetailW.Call(
		uintptr(s.handle), uintptr(unsafe.Pointer(ifd)),
		uintptr(unsafe.Pointer(&buf[0])), uintptr(needed),
		0, uintptr(unsafe.Pointer(&dev)))
	if r == 0 {
		return "", dev, err
	}
	path := windows.UTF16PtrToString((*uint16)(unsafe.Pointer(&buf[4])))
	return path, dev, nil
}

// RegistryProperty reads one SPDRP property as raw bytes.
func (s *DevInfoSet) RegistryProperty(dev *DevInfoData, prop uint32) ([]byte, uint32, error) {
	var dataType, needed uint32
	_, _, _ = procSetupDiGetDeviceRegistryPropertyW.Call(
		uintptr(s.handle), uintptr(unsafe.Pointer(dev)), uintptr(prop),
		uintptr(unsafe.Pointer(&dataType)), 0, 0, uintptr(unsafe.Pointer(&needed)))
	if needed == 0 {
		return nil, 0, windows.ERROR_NOT_FOUND
	}
	buf := make([]byte, needed)
	r, _, err := procSetupDiGetDeviceRegistryPropertyW.Call(
		uintptr(s.handle), uintptr(unsafe.Pointer(dev)), uintptr(prop),
		uintptr(unsafe.Pointer(&dataType)), uintptr(unsafe.Pointer(&buf[0])),
		uintptr(needed), uintptr(unsafe.Pointer(&needed)))
	if r == 0 {
		return nil, 0, err
	}
	return buf[:needed], dataType, nil
}

// StringProperty reads one SPDRP property as a UTF-16 string.
func (s *DevInfoSet) StringProperty(dev *DevInfoData, prop uint32) (string, error) {
	buf, _, err := s.RegistryProperty(dev, prop)
	if err != nil {
		return "", err
	}
	return utf16BytesToString(buf), nil
}

// MultiStringProperty reads one REG_MULTI_SZ SPDRP property.
func (s *DevInfoSet) MultiStringProperty(dev *DevInfoData, prop uint32) ([]string, error) {
	buf, _, err := s.RegistryProperty(dev, prop)
	if err != nil {
		return nil, err
	}
	return splitUTF16MultiString(buf), nil
}

// DWordProperty reads one REG_DWORD SPDRP property.
func (s *DevInfoSet) DWordProperty(dev *DevInfoData, prop uint32) (uint32, error) {
	buf, _, err := s.RegistryProperty(dev, prop)
	if err != nil {
		return 0, err
	}
	if len(buf) < 4 {
		return 0, windows.ERROR_INVALID_DATA
	}
	return *(*uint32)(unsafe.Pointer(&buf[0])), nil
}

// InstanceID returns the device instance id of an entry.
func (s *DevInfoSet) InstanceID(dev *DevInfoData) (string, error) {
	buf := make([]uint16, 256)
	var needed uint32
	r, _, err := procSetupDiGetDeviceInstanceIdW.Call(
		uintptr(s.handle), uintptr(unsafe.Pointer(dev)),
		uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), uintptr(unsafe.Pointer(&needed)))
	if r == 0 {
		return "", err
	}
	return windows.UTF16ToString(buf), nil
}

// OpenDevRegKey opens the per-device driver registry key read-only.
func (s *DevInfoSet) OpenDevRegKey(dev *DevInfoData) (windows.Handle, error) {
	h, _, err := procSetupDiOpenDevRegKey.Call(
		uintptr(s.handle), uintptr(unsafe.Pointer(dev)),
		DICSFlagGlobal, 0, DIRegDev, uintptr(windows.KEY_READ))
	if windows.Handle(h) == windows.InvalidHandle {
		return windows.InvalidHandle, err
	}
	return windows.Handle(h), nil
}

func utf16BytesToString(b []byte) string {
	if len(b) < 2 {
		return ""
	}
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return windows.UTF16ToString(u)
}

// splitUTF16MultiString splits a REG_MULTI_SZ blob into its strings.
func splitUTF16MultiString(b []byte) []string {
	var out []string
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	start := 0
	for i, c := range u {
		if c != 0 {
			continue
		}
		if i > start {
			out = append(out, windows.UTF16ToString(u[start:i]))
		}
		start = i + 1
	}
	return out
}
