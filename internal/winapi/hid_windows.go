//go:build windows

package winapi

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	procHidDGetAttributes         = hid.NewProc("HidD_GetAttributes")
	procHidDGetPreparsedData      = hid.NewProc("HidD_GetPreparsedData")
	procHidDFreePreparsedData     = hid.NewProc("HidD_FreePreparsedData")
	procHidPGetCaps               = hid.NewProc("HidP_GetCaps")
	procHidPGetValueCaps          = hid.NewProc("HidP_GetValueCaps")
	procHidDGetManufacturerString = hid.NewProc("HidD_GetManufacturerString")
	procHidDGetProductString      = hid.NewProc("HidD_GetProductString")
	procHidDGetSerialNumberString = hid.NewProc("HidD_GetSerialNumberString")
	procHidDSetNumInputBuffers    = hid.NewProc("HidD_SetNumInputBuffers")
	procHidDFlushQueue            = hid.NewProc("HidD_FlushQueue")
)

// HID report ioctls (hidclass.h layouts, FILE_DEVICE_KEYBOARD device type).
var (
	IoctlHIDGetFeature      = CTLCode(0x0B, 100, 2, 0)
	IoctlHIDSetFeature      = CTLCode(0x0B, 100, 1, 0)
	IoctlHIDGetInputReport  = CTLCode(0x0B, 104, 2, 0)
	IoctlHIDSetOutputReport = CTLCode(0x0B, 101, 1, 0)
)

// HidP report types.
const (
	HidPInput = iota
	HidPOutput
	HidPFeature
)

const hidpStatusSuccess = 0x00110000

// HIDAttributes mirrors HIDD_ATTRIBUTES.
type HIDAttributes struct {
	Size          uint32
	VendorID      uint16
	ProductID     uint16
	VersionNumber uint16
}

// HIDCaps carries the HIDP_CAPS fields the stack needs.
type HIDCaps struct {
	Usage         uint16
	UsagePage     uint16
	InputLength   uint16
	OutputLength  uint16
	FeatureLength uint16
}

// HidGetAttributes reads vendor/product/version of an open HID device.
func HidGetAttributes(h windows.Handle) (HIDAttributes, error) {
	var a HIDAttributes
	a.Size = uint32(unsafe.Sizeof(a))
	r, _, err := procHidDGetAttributes.Call(uintptr(h), uintptr(unsafe.Pointer(&a)))
	if r == 0 {
		return a, fmt.Errorf("HidD_GetAttributes: %w", err)
	}
	return a, nil
}

// HidGetPreparsedData returns the opaque preparsed report data.
func HidGetPreparsedData(h windows.Handle) (uintptr, error) {
	var pd uintptr
	r, _, err := procHidDGetPreparsedData.Call(uintptr(h), uintptr(unsafe.Pointer(&pd)))
	if r == 0 {
		return 0, fmt.Errorf("HidD_GetPreparsedData: %w", err)
	}
	return pd, nil
}

// HidFreePreparsedData releases preparsed report data.
func HidFreePreparsedData(pd uintptr) {
	_, _, _ = procHidDFreePreparsedData.Call(pd)
}

// hidpCaps mirrors the leading fields of HIDP_CAPS; the trailing count
// fields are not consumed here.
type hidpCaps struct {
	Usage                     uint16
	UsagePage                 uint16
	InputReportByteLength     uint16
	OutputReportByteLength    uint16
	FeatureReportByteLength   uint16
	reserved                  [17]uint16
	NumberLinkCollectionNodes uint16
	NumberInputButtonCaps     uint16
	NumberInputValueCaps      uint16
	NumberInputDataIndices    uint16
	NumberOutputButtonCaps    uint16
	NumberOutputValueCaps     uint16
	NumberOutputDataIndices   uint16
	NumberFeatureButtonCaps   uint16
	NumberFeatureValueCaps    uint16
	NumberFeatureDataIndices  uint16
}

// HidGetCaps parses the top-level collection capabilities.
func HidGetCaps(pd uintptr) (HIDCaps, error) {
	var c hidpCaps
	r, _, _ := procHidPGetCaps.Call(pd, uintptr(unsafe.Pointer(&c)))
	if uint32(r) != hidpStatusSuccess {
		return HIDCaps{}, fmt.Errorf("HidP_GetCaps: status 0x%08x", uint32(r))
	}
	return HIDCaps{
		Usage:         c.Usage,
		UsagePage:     c.UsagePage,
		InputLength:   c.InputReportByteLength,
		OutputLength:  c.OutputReportByteLength,
		FeatureLength: c.FeatureReportByteLength,
	}, nil
}

// hidpValueCapsSize is the packed size of HIDP_VALUE_CAPS; only the
// ReportID byte at offset 2 is read here.
const hidpValueCapsSize = 72

// HidUsesReportIDs reports whether the first value cap of a report type
// carries a nonzero report id.
func HidUsesReportIDs(pd uintptr, reportType int) bool {
	var count uint16 = 1
	buf := make([]byte, hidpValueCapsSize)
	r, _, _ := procHidPGetValueCaps.Call(
		uintptr(reportType), uintptr(unsafe.Pointer(&buf[0])),
		uintptr(unsafe.Pointer(&count)), pd)
	if uint32(r) != hidpStatusSuccess || count == 0 {
		return false
	}
	return buf[2] != 0
}

// HID string selectors for HidGetString.
const (
	HIDStringManufacturer = iota
	HIDStringProduct
	HIDStringSerial
)

// HidGetString reads one of the device strings; missing strings come back
// empty rather than as errors.
func HidGetString(h windows.Handle, which int) string {
	buf := make([]uint16, 126)
	var proc *windows.LazyProc
	switch which {
	case HIDStringManufacturer:
		proc = procHidDGetManufacturerString
	case HIDStringProduct:
		proc = procHidDGetProductString
	case HIDStringSerial:
		proc = procHidDGetSerialNumberString
	default:
		return ""
	}
	r, _, _ := proc.Call(uintptr(h), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)*2))
	if r == 0 {
		return ""
	}
	return windows.UTF16ToString(buf)
}

// HidSetNumInputBuffers grows the driver-side input report queue.
func HidSetNumInputBuffers(h windows.Handle, count uint32) {
	_, _, _ = procHidDSetNumInputBuffers.Call(uintptr(h), uintptr(count))
}

// HidFlushQueue drops buffered input reports.
func HidFlushQueue(h windows.Handle) error {
	r, _, err := procHidDFlushQueue.Call(uintptr(h))
	if r == 0 {
		return fmt.Errorf("HidD_FlushQueue: %w", err)
	}
	return nil
}
