package usb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// USB descriptor type constants
const (
	DeviceDescType    = 0x01
	ConfigDescType    = 0x02
	StringDescType    = 0x03
	InterfaceDescType = 0x04
	EndpointDescType  = 0x05
	HIDDescType       = 0x21
	ReportDescType    = 0x22
)

// Descriptor lengths in bytes (fixed values from USB spec)
const (
	DeviceDescLen    = 18
	ConfigDescLen    = 9
	InterfaceDescLen = 9
	EndpointDescLen  = 7
	HIDDescLen       = 9
)

// DeviceDescriptor represents the standard USB device descriptor.
// BLength and BDescriptorType are implied by the type.
type DeviceDescriptor struct {
	BcdUSB             uint16 // LE
	BDeviceClass       uint8
	BDeviceSubClass    uint8
	BDeviceProtocol    uint8
	BMaxPacketSize0    uint8
	IDVendor           uint16 // LE
	IDProduct          uint16 // LE
	BcdDevice          uint16 // LE
	IManufacturer      uint8
	IProduct           uint8
	ISerialNumber      uint8
	BNumConfigurations uint8
}

// Bytes returns the 18-byte wire encoding with BLength auto-filled.
func (d DeviceDescriptor) Bytes() []byte {
	var b bytes.Buffer
	b.WriteByte(DeviceDescLen)
	b.WriteByte(DeviceDescType)
	_ = binary.Write(&b, binary.LittleEndian, d.BcdUSB)
	b.WriteByte(d.BDeviceClass)
	b.WriteByte(d.BDeviceSubClass)
	b.WriteByte(d.BDeviceProtocol)
	b.WriteByte(d.BMaxPacketSize0)
	_ = binary.Write(&b, binary.LittleEndian, d.IDVendor)
	_ = binary.Write(&b, binary.LittleEndian, d.IDProduct)
	_ = binary.Write(&b, binary.LittleEndian, d.BcdDevice)
	b.WriteByte(d.IManufacturer)
	b.WriteByte(d.IProduct)
	b.WriteByte(d.ISerialNumber)
	b.WriteByte(d.BNumConfigurations)
	return b.Bytes()
}

// ParseDeviceDescriptor decodes a wire device descriptor.
func ParseDeviceDescriptor(b []byte) (DeviceDescriptor, error) {
	if len(b) < DeviceDescLen {
		return DeviceDescriptor{}, fmt.Errorf("%w: device descriptor needs %d bytes, got %d", ErrInvalidParam, DeviceDescLen, len(b))
	}
	if b[1] != DeviceDescType {
		return DeviceDescriptor{}, fmt.Errorf("%w: descriptor type 0x%02x is not a device descriptor", ErrInvalidParam, b[1])
	}
	return DeviceDescriptor{
		BcdUSB:             binary.LittleEndian.Uint16(b[2:]),
		BDeviceClass:       b[4],
		BDeviceSubClass:    b[5],
		BDeviceProtocol:    b[6],
		BMaxPacketSize0:    b[7],
		IDVendor:           binary.LittleEndian.Uint16(b[8:]),
		IDProduct:          binary.LittleEndian.Uint16(b[10:]),
		BcdDevice:          binary.LittleEndian.Uint16(b[12:]),
		IManufacturer:      b[14],
		IProduct:           b[15],
		ISerialNumber:      b[16],
		BNumConfigurations: b[17],
	}, nil
}

// ConfigHeader represents the USB configuration descriptor header (9 bytes).
type ConfigHeader struct {
	WTotalLength        uint16 // LE, patched after building
	BNumInterfaces      uint8
	BConfigurationValue uint8
	IConfiguration      uint8
	BMAttributes        uint8
	BMaxPower           uint8
}

func (h ConfigHeader) Write(b *bytes.Buffer) {
	b.WriteByte(ConfigDescLen)
	b.WriteByte(ConfigDescType)
	_ = binary.Write(b, binary.LittleEndian, h.WTotalLength)
	b.WriteByte(h.BNumInterfaces)
	b.WriteByte(h.BConfigurationValue)
	b.WriteByte(h.IConfiguration)
	b.WriteByte(h.BMAttributes)
	b.WriteByte(h.BMaxPower)
}

// InterfaceDescriptor (9 bytes) for each interface altsetting.
type InterfaceDescriptor struct {
	BInterfaceNumber   uint8
	BAlternateSetting  uint8
	BNumEndpoints      uint8
	BInterfaceClass    uint8
	BInterfaceSubClass uint8
	BInterfaceProtocol uint8
	IInterface         uint8
}

func (i InterfaceDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(InterfaceDescLen)
	b.WriteByte(InterfaceDescType)
	b.WriteByte(i.BInterfaceNumber)
	b.WriteByte(i.BAlternateSetting)
	b.WriteByte(i.BNumEndpoints)
	b.WriteByte(i.BInterfaceClass)
	b.WriteByte(i.BInterfaceSubClass)
	b.WriteByte(i.BInterfaceProtocol)
	b.WriteByte(i.IInterface)
}

// EndpointDescriptor (7 bytes) for each endpoint.
type EndpointDescriptor struct {
	BEndpointAddress uint8
	BMAttributes     uint8
	WMaxPacketSize   uint16 // LE
	BInterval        uint8
}

// In reports whether the endpoint is device-to-host.
func (e EndpointDescriptor) In() bool { return e.BEndpointAddress&EndpointDirMask != 0 }

// Type returns the endpoint transfer type from BMAttributes.
func (e EndpointDescriptor) Type() TransferType { return TransferType(e.BMAttributes & TransferTypeMask) }

func (e EndpointDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(EndpointDescLen)
	b.WriteByte(EndpointDescType)
	b.WriteByte(e.BEndpointAddress)
	b.WriteByte(e.BMAttributes)
	_ = binary.Write(b, binary.LittleEndian, e.WMaxPacketSize)
	b.WriteByte(e.BInterval)
}

// HIDDescriptor (class descriptor, 0x21) with one subordinate report descriptor (0x22).
type HIDDescriptor struct {
	BcdHID            uint16 // LE
	BCountryCode      uint8
	BNumDescriptors   uint8
	ClassDescType     uint8  // 0x22 (report)
	WDescriptorLength uint16 // LE, report descriptor length
}

func (h HIDDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(HIDDescLen)
	b.WriteByte(HIDDescType)
	_ = binary.Write(b, binary.LittleEndian, h.BcdHID)
	b.WriteByte(h.BCountryCode)
	b.WriteByte(h.BNumDescriptors)
	b.WriteByte(h.ClassDescType)
	_ = binary.Write(b, binary.LittleEndian, h.WDescriptorLength)
}

// EncodeStringDescriptor converts a UTF-8 string to a USB string descriptor byte array.
// The resulting descriptor has the format:
//
//	Byte 0: bLength (total descriptor length)
//	Byte 1: bDescriptorType (0x03 for string)
//	Bytes 2+: UTF-16LE encoded string
func EncodeStringDescriptor(s string) []byte {
	runes := []rune(s)
	buf := make([]byte, 2+len(runes)*2)
	buf[0] = uint8(len(buf)) // bLength
	buf[1] = StringDescType
	for i, r := range runes {
		buf[2+i*2] = uint8(r)
		buf[2+i*2+1] = uint8(r >> 8)
	}
	return buf
}

// InterfaceSetting is one alternate setting of an interface, with its
// endpoints and any class-specific bytes that followed it.
type InterfaceSetting struct {
	Descriptor InterfaceDescriptor
	Endpoints  []EndpointDescriptor
	Extra      []byte
}

// Interface groups the alternate settings sharing one interface number.
type Interface struct {
	Number      uint8
	AltSettings []InterfaceSetting
}

// ConfigDescriptor is a parsed configuration tree plus the raw bytes it was
// decoded from.
type ConfigDescriptor struct {
	Header     ConfigHeader
	Interfaces []Interface
	Extra      []byte
	Raw        []byte
}

// Setting returns the alternate setting alt of interface number iface.
func (c *ConfigDescriptor) Setting(iface, alt uint8) (*InterfaceSetting, bool) {
	for i := range c.Interfaces {
		if c.Interfaces[i].Number != iface {
			continue
		}
		for j := range c.Interfaces[i].AltSettings {
			if c.Interfaces[i].AltSettings[j].Descriptor.BAlternateSetting == alt {
				return &c.Interfaces[i].AltSettings[j], true
			}
		}
	}
	return nil, false
}

// InterfaceByEndpoint returns the interface number owning the endpoint
// address, searching every alternate setting.
func (c *ConfigDescriptor) InterfaceByEndpoint(endpoint uint8) (uint8, bool) {
	for i := range c.Interfaces {
		for j := range c.Interfaces[i].AltSettings {
			for _, ep := range c.Interfaces[i].AltSettings[j].Endpoints {
				if ep.BEndpointAddress == endpoint {
					return c.Interfaces[i].Number, true
				}
			}
		}
	}
	return 0, false
}

// ParseConfigDescriptor decodes a full configuration descriptor blob,
// grouping interfaces by number and altsetting. Unknown descriptors between
// standard ones are collected as Extra bytes of the preceding scope.
func ParseConfigDescriptor(b []byte) (*ConfigDescriptor, error) {
	if len(b) < ConfigDescLen {
		return nil, fmt.Errorf("%w: config descriptor needs %d bytes, got %d", ErrInvalidParam, ConfigDescLen, len(b))
	}
	if b[1] != ConfigDescType {
		return nil, fmt.Errorf("%w: descriptor type 0x%02x is not a config descriptor", ErrInvalidParam, b[1])
	}
	total := int(binary.LittleEndian.Uint16(b[2:]))
	if total > len(b) {
		total = len(b)
	}
	cfg := &ConfigDescriptor{
		Header: ConfigHeader{
			WTotalLength:        binary.LittleEndian.Uint16(b[2:]),
			BNumInterfaces:      b[4],
			BConfigurationValue: b[5],
			IConfiguration:      b[6],
			BMAttributes:        b[7],
			BMaxPower:           b[8],
		},
		Raw: append([]byte(nil), b[:total]...),
	}

	var cur *InterfaceSetting
	off := ConfigDescLen
	for off+2 <= total {
		dlen, dtype := int(b[off]), b[off+1]
		if dlen < 2 || off+dlen > total {
			break
		}
		body := b[off : off+dlen]
		switch dtype {
		case InterfaceDescType:
			if dlen < InterfaceDescLen {
				return nil, fmt.Errorf("%w: short interface descriptor (%d bytes)", ErrInvalidParam, dlen)
			}
			setting := InterfaceSetting{Descriptor: InterfaceDescriptor{
				BInterfaceNumber:   body[2],
				BAlternateSetting:  body[3],
				BNumEndpoints:      body[4],
				BInterfaceClass:    body[5],
				BInterfaceSubClass: body[6],
				BInterfaceProtocol: body[7],
				IInterface:         body[8],
			}}
			idx := -1
			for i := range cfg.Interfaces {
				if cfg.Interfaces[i].Number == setting.Descriptor.BInterfaceNumber {
					idx = i
					break
				}
			}
			if idx < 0 {
				cfg.Interfaces = append(cfg.Interfaces, Interface{Number: setting.Descriptor.BInterfaceNumber})
				idx = len(cfg.Interfaces) - 1
			}
			cfg.Interfaces[idx].AltSettings = append(cfg.Interfaces[idx].AltSettings, setting)
			cur = &cfg.Interfaces[idx].AltSettings[len(cfg.Interfaces[idx].AltSettings)-1]
		case EndpointDescType:
			if dlen < EndpointDescLen {
				return nil, fmt.Errorf("%w: short endpoint descriptor (%d bytes)", ErrInvalidParam, dlen)
			}
			if cur != nil {
				cur.Endpoints = append(cur.Endpoints, EndpointDescriptor{
					BEndpointAddress: body[2],
					BMAttributes:     body[3],
					WMaxPacketSize:   binary.LittleEndian.Uint16(body[4:]),
					BInterval:        body[6],
				})
			}
		default:
			if cur != nil {
				cur.Extra = append(cur.Extra, body...)
			} else {
				cfg.Extra = append(cfg.Extra, body...)
			}
		}
		off += dlen
	}
	return cfg, nil
}
