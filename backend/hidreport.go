package backend

import (
	"bytes"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/usb"
)

// HID report plumbing and descriptor synthesis. The OS exposes HID devices
// through report ioctls only, so the standard descriptors callers expect
// are rebuilt here byte for byte from the probed capabilities.

const (
	// hidReportIDNone is prepended on the wire when a device does not use
	// report ids; the id byte is mandatory in the OS report format.
	hidReportIDNone = 0x00

	// hidMaxReportDescriptorSize bounds the synthesized report descriptor.
	hidMaxReportDescriptorSize = 64
)

// wrapOutputReport builds the wire buffer for an outbound report. Devices
// without report ids get a zero id byte prepended; the caller's data is
// otherwise passed through.
func wrapOutputReport(data []byte, usesIDs bool) []byte {
	if usesIDs {
		return data
	}
	buf := make([]byte, len(data)+1)
	buf[0] = hidReportIDNone
	copy(buf[1:], data)
	return buf
}

// inputReportBuffer allocates the scratch buffer for an inbound report of
// the expected wire size. One trailing byte is added so a device returning
// more than expected is caught as an overflow instead of silently
// truncated.
func inputReportBuffer(expected uint32) []byte {
	return make([]byte, expected+1)
}

// unwrapInputReport moves ioSize wire bytes into dst, stripping the report
// id prefix when the device does not use ids. Returns the byte count the
// caller sees and the terminal status; more data than expected maps to
// overflow.
func unwrapInputReport(dst, wire []byte, ioSize, expected uint32, usesIDs bool) (int, usb.TransferStatus) {
	if ioSize == 0 {
		return 0, usb.TransferCompleted
	}
	status := usb.TransferCompleted
	if ioSize > expected {
		status = usb.TransferOverflow
		ioSize = expected
	}
	offset := uint32(0)
	if !usesIDs {
		offset = 1
		if ioSize == 0 {
			return 0, status
		}
		ioSize--
	}
	if int(ioSize) > len(dst) {
		status = usb.TransferOverflow
		ioSize = uint32(len(dst))
	}
	copy(dst, wire[offset:offset+ioSize])
	return int(ioSize), status
}

// hidDeviceDescriptor synthesizes the standard device descriptor of a HID
// device from its probed attributes.
func hidDeviceDescriptor(info *device.HIDInfo) usb.DeviceDescriptor {
	return usb.DeviceDescriptor{
		BcdUSB:             0x0200,
		BMaxPacketSize0:    64,
		IDVendor:           info.VID,
		IDProduct:          info.PID,
		BcdDevice:          0x0100,
		IManufacturer:      1,
		IProduct:           2,
		ISerialNumber:      3,
		BNumConfigurations: 1,
	}
}

// hidReportDescriptor synthesizes a vendor-defined report descriptor
// matching the probed report sizes, one byte-array report per channel.
func hidReportDescriptor(info *device.HIDInfo) []byte {
	d := make([]byte, 0, hidMaxReportDescriptorSize)
	d = append(d,
		0x06, 0xA0, 0xFF, // Usage Page (vendor defined)
		0x09, 0x01, // Usage (vendor defined)
		0xA1, 0x01, // Collection (Application)
		0x09, 0x01, // Usage (vendor defined)
	)
	if info.InputReportSize > 0 {
		d = append(d,
			0x15, 0x00, // Logical Minimum (0)
			0x26, 0xFF, 0x00, // Logical Maximum (255)
			0x75, 0x08, // Report Size (8 bits)
			0x95, uint8(info.InputReportSize), // Report Count
			0x81, 0x00, // Input (Data, Array)
		)
	}
	if info.OutputReportSize > 0 {
		d = append(d,
			0x09, 0x02, // Usage (vendor defined)
			0x15, 0x00,
			0x26, 0xFF, 0x00,
			0x75, 0x08,
			0x95, uint8(info.OutputReportSize),
			0x91, 0x00, // Output (Data, Array)
		)
	}
	if info.FeatureReportSize > 0 {
		d = append(d,
			0x09, 0x03, // Usage (vendor defined)
			0x15, 0x00,
			0x26, 0xFF, 0x00,
			0x75, 0x08,
			0x95, uint8(info.FeatureReportSize),
			0xB2, 0x02, 0x01, // Feature (Data, Variable, Buffered Bytes)
		)
	}
	d = append(d, 0xC0) // End Collection
	return d
}

// hidConfigDescriptor synthesizes the full configuration descriptor: one
// interface of class HID with an interrupt IN endpoint and, when the device
// has an output report, an interrupt OUT endpoint.
func hidConfigDescriptor(info *device.HIDInfo) []byte {
	numEndpoints := uint8(1)
	if info.OutputReportSize > 0 {
		numEndpoints = 2
	}
	report := hidReportDescriptor(info)

	var b bytes.Buffer
	usb.ConfigHeader{
		WTotalLength: uint16(usb.ConfigDescLen + usb.InterfaceDescLen + usb.HIDDescLen +
			int(numEndpoints)*usb.EndpointDescLen),
		BNumInterfaces:      1,
		BConfigurationValue: 1,
		BMAttributes:        1 << 7, // bus powered
		BMaxPower:           50,
	}.Write(&b)
	usb.InterfaceDescriptor{
		BNumEndpoints:   numEndpoints,
		BInterfaceClass: usb.ClassHID,
	}.Write(&b)
	usb.HIDDescriptor{
		BcdHID:            0x0110,
		BNumDescriptors:   1,
		ClassDescType:     usb.ReportDescType,
		WDescriptorLength: uint16(len(report)),
	}.Write(&b)
	usb.EndpointDescriptor{
		BEndpointAddress: usb.EndpointIn | 1,
		BMAttributes:     uint8(usb.TransferInterrupt),
		WMaxPacketSize:   uint16(info.InputReportSize),
		BInterval:        10,
	}.Write(&b)
	if numEndpoints == 2 {
		usb.EndpointDescriptor{
			BEndpointAddress: usb.EndpointOut | 2,
			BMAttributes:     uint8(usb.TransferInterrupt),
			WMaxPacketSize:   uint16(info.OutputReportSize),
			BInterval:        10,
		}.Write(&b)
	}
	return b.Bytes()
}

// hidStringDescriptor synthesizes string descriptors: index 0 is the
// language id table (US English), 1-3 map to the probed device strings.
func hidStringDescriptor(info *device.HIDInfo, index uint8) ([]byte, bool) {
	switch index {
	case 0:
		return []byte{0x04, usb.StringDescType, 0x09, 0x04}, true
	case 1:
		return usb.EncodeStringDescriptor(info.ManufacturerString), true
	case 2:
		return usb.EncodeStringDescriptor(info.ProductString), true
	case 3:
		return usb.EncodeStringDescriptor(info.SerialString), true
	default:
		return nil, false
	}
}

// hidDescriptorBytes answers a GET_DESCRIPTOR control request from the
// synthesized descriptor set.
func hidDescriptorBytes(info *device.HIDInfo, descType, index uint8) ([]byte, bool) {
	switch descType {
	case usb.DeviceDescType:
		return hidDeviceDescriptor(info).Bytes(), true
	case usb.ConfigDescType:
		if index == 0 {
			return hidConfigDescriptor(info), true
		}
		return nil, false
	case usb.StringDescType:
		return hidStringDescriptor(info, index)
	case usb.ReportDescType:
		return hidReportDescriptor(info), true
	default:
		return nil, false
	}
}
