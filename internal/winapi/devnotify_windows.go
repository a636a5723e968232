//go:build windows

package winapi

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	procRegisterClassExW             = user32.NewProc("RegisterClassExW")
	procCreateWindowExW              = user32.NewProc("CreateWindowExW")
	procDefWindowProcW               = user32.NewProc("DefWindowProcW")
	procDestroyWindow                = user32.NewProc("DestroyWindow")
	procGetMessageW                  = user32.NewProc("GetMessageW")
	procDispatchMessageW             = user32.NewProc("DispatchMessageW")
	procPostMessageW                 = user32.NewProc("PostMessageW")
	procPostQuitMessage              = user32.NewProc("PostQuitMessage")
	procRegisterDeviceNotificationW  = user32.NewProc("RegisterDeviceNotificationW")
	procUnregisterDeviceNotification = user32.NewProc("UnregisterDeviceNotification")
)

// Device-change window messages and broadcast codes.
const (
	WMDeviceChange = 0x0219
	WMClose        = 0x0010
	WMDestroy      = 0x0002

	DBTDeviceArrival        = 0x8000
	DBTDeviceRemoveComplete = 0x8004

	dbtDevTypDeviceInterface = 5

	deviceNotifyWindowHandle        = 0x0000
	deviceNotifyAllInterfaceClasses = 0x0004
)

// hwndMessage parents a window into the message-only hierarchy.
var hwndMessage = ^uintptr(2) // HWND_MESSAGE (-3)

type wndClassEx struct {
	Size       uint32
	Style      uint32
	WndProc    uintptr
	ClsExtra   int32
	WndExtra   int32
	Instance   windows.Handle
	Icon       uintptr
	Cursor     uintptr
	Background uintptr
	MenuName   *uint16
	ClassName  *uint16
	IconSm     uintptr
}

// Msg mirrors the user32 MSG structure.
type Msg struct {
	HWnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	PtX     int32
	PtY     int32
}

// DefWindowProc forwards an unhandled window message.
func DefWindowProc(hwnd uintptr, msg uint32, wParam, lParam uintptr) uintptr {
	r, _, _ := procDefWindowProcW.Call(hwnd, uintptr(msg), wParam, lParam)
	return r
}

// CreateMessageWindow registers a window class around wndProc and creates a
// message-only window of it. wndProc must come from windows.NewCallback.
func CreateMessageWindow(className string, wndProc uintptr) (uintptr, error) {
	name, err := windows.UTF16PtrFromString(className)
	if err != nil {
		return 0, err
	}
	inst, err := windows.GetModuleHandle(nil)
	if err != nil {
		return 0, fmt.Errorf("GetModuleHandle: %w", err)
	}
	wc := wndClassEx{
		WndProc:   wndProc,
		Instance:  inst,
		ClassName: name,
	}
	wc.Size = uint32(unsafe.Sizeof(wc))
	if r, _, regErr := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc))); r == 0 {
		return 0, fmt.Errorf("RegisterClassEx: %w", regErr)
	}
	hwnd, _, createErr := procCreateWindowExW.Call(
		0, uintptr(unsafe.Pointer(name)), uintptr(unsafe.Pointer(name)),
		0, 0, 0, 0, 0, hwndMessage, 0, uintptr(inst), 0)
	if hwnd == 0 {
		return 0, fmt.Errorf("CreateWindowEx: %w", createErr)
	}
	return hwnd, nil
}

// DestroyMessageWindow tears the window down from its own thread.
func DestroyMessageWindow(hwnd uintptr) {
	_, _, _ = procDestroyWindow.Call(hwnd)
}

// PostCloseMessage asks the window thread to shut down. Safe from any
// thread.
func PostCloseMessage(hwnd uintptr) {
	_, _, _ = procPostMessageW.Call(hwnd, WMClose, 0, 0)
}

// PostQuitMessage queues WM_QUIT on the calling thread, which makes
// GetMessage return false. Must run on the message-loop thread.
func PostQuitMessage(exitCode int32) {
	_, _, _ = procPostQuitMessage.Call(uintptr(exitCode))
}

// devBroadcastDeviceInterface is the fixed part of
// DEV_BROADCAST_DEVICEINTERFACE_W; the name follows inline.
type devBroadcastDeviceInterface struct {
	Size       uint32
	DeviceType uint32
	reserved   uint32
	ClassGUID  windows.GUID
	// Name [1]uint16 follows
}

// RegisterAllInterfaceNotification subscribes the window to arrival and
// removal broadcasts of every device interface class.
func RegisterAllInterfaceNotification(hwnd uintptr) (uintptr, error) {
	filter := devBroadcastDeviceInterface{DeviceType: dbtDevTypDeviceInterface}
	filter.Size = uint32(unsafe.Sizeof(filter))
	r, _, err := procRegisterDeviceNotificationW.Call(hwnd,
		uintptr(unsafe.Pointer(&filter)),
		deviceNotifyWindowHandle|deviceNotifyAllInterfaceClasses)
	if r == 0 {
		return 0, fmt.Errorf("RegisterDeviceNotification: %w", err)
	}
	return r, nil
}

// UnregisterDeviceNotification drops a notification subscription.
func UnregisterDeviceNotificationHandle(h uintptr) {
	_, _, _ = procUnregisterDeviceNotification.Call(h)
}

// BroadcastInterface decodes the lParam of a device-interface broadcast,
// returning the interface path and its class.
func BroadcastInterface(lParam uintptr) (string, windows.GUID, bool) {
	if lParam == 0 {
		return "", windows.GUID{}, false
	}
	hdr := (*devBroadcastDeviceInterface)(unsafe.Pointer(lParam))
	if hdr.DeviceType != dbtDevTypDeviceInterface {
		return "", windows.GUID{}, false
	}
	nameLen := (uintptr(hdr.Size) - unsafe.Sizeof(*hdr)) / 2
	if nameLen == 0 {
		return "", hdr.ClassGUID, true
	}
	name := unsafe.Slice((*uint16)(unsafe.Pointer(lParam+unsafe.Sizeof(*hdr))), nameLen)
	return windows.UTF16ToString(name), hdr.ClassGUID, true
}

// GetMessage pulls the next window message, reporting false on WM_QUIT or
// failure.
func GetMessage(msg *Msg, hwnd uintptr) bool {
	r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(msg)), hwnd, 0, 0)
	return int32(r) > 0
}

// DispatchMessage routes a message to its window procedure.
func DispatchMessage(msg *Msg) {
	_, _, _ = procDispatchMessageW.Call(uintptr(unsafe.Pointer(msg)))
}
