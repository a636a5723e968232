//go:build windows

// Package winapi holds the thin Win32 surface the host stack stands on:
// lazily loaded system DLLs, device-enumeration and device-tree services,
// hub ioctls, HID ioctls and the WinUSB-like driver entry points.
package winapi

import (
	"golang.org/x/sys/windows"
)

var (
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")
	user32   = windows.NewLazySystemDLL("user32.dll")
	setupapi = windows.NewLazySystemDLL("setupapi.dll")
	cfgmgr32 = windows.NewLazySystemDLL("cfgmgr32.dll")
	hid      = windows.NewLazySystemDLL("hid.dll")
)

// CTLCode builds an ioctl control code the way the DDK CTL_CODE macro does.
func CTLCode(deviceType, function, method, access uint32) uint32 {
	return deviceType<<16 | access<<14 | function<<2 | method
}

// Common Win32 error codes surfaced by the stack. Declared here so the
// portable layers can reduce them without importing windows.
const (
	ErrorSuccess           = 0
	ErrorFileNotFound      = 2
	ErrorAccessDenied      = 5
	ErrorInvalidHandle     = 6
	ErrorNotEnoughMemory   = 8
	ErrorGenFailure        = 31
	ErrorSharingViolation  = 32
	ErrorInvalidParameter  = 87
	ErrorInsufficientBuf   = 122
	ErrorNoMoreItems       = 259
	ErrorIOPending         = 997
	ErrorOperationAborted  = 995
	ErrorSemTimeout        = 121
	ErrorBadCommand        = 22
	ErrorAlreadyExists     = 183
	ErrorNoSystemResources = 1450
)
