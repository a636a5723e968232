// Package usb contains USB wire-level types shared by the host stack:
// descriptors with byte-exact encoding and parsing, setup packets, speeds
// and the error taxonomy surfaced to callers.
package usb

import (
	"encoding/binary"
	"fmt"
)

// Speed is the negotiated bus speed of a connected device.
type Speed uint8

const (
	SpeedUnknown Speed = iota
	SpeedLow
	SpeedFull
	SpeedHigh
	SpeedSuper
)

func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "low"
	case SpeedFull:
		return "full"
	case SpeedHigh:
		return "high"
	case SpeedSuper:
		return "super"
	default:
		return "unknown"
	}
}

// TransferType identifies the endpoint transfer kind.
type TransferType uint8

const (
	TransferControl TransferType = iota
	TransferIsochronous
	TransferBulk
	TransferInterrupt
)

func (t TransferType) String() string {
	switch t {
	case TransferControl:
		return "control"
	case TransferIsochronous:
		return "isochronous"
	case TransferBulk:
		return "bulk"
	case TransferInterrupt:
		return "interrupt"
	default:
		return fmt.Sprintf("transfer(%d)", uint8(t))
	}
}

// Endpoint address helpers.
const (
	EndpointDirMask  = 0x80
	EndpointNumMask  = 0x0F
	EndpointIn       = 0x80
	EndpointOut      = 0x00
	TransferTypeMask = 0x03
)

// Request type fields of SetupPacket.RequestType.
const (
	RequestTypeStandard = 0x00 << 5
	RequestTypeClass    = 0x01 << 5
	RequestTypeVendor   = 0x02 << 5
	RequestTypeMask     = 0x60

	RecipientDevice    = 0x00
	RecipientInterface = 0x01
	RecipientEndpoint  = 0x02
	RecipientOther     = 0x03
	RecipientMask      = 0x1F
)

// Standard request codes.
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Class codes that matter to enumeration.
const (
	ClassPerInterface = 0x00
	ClassHID          = 0x03
	ClassHub          = 0x09
	ClassVendorSpec   = 0xFF
)

// SetupSize is the wire size of a control setup packet.
const SetupSize = 8

// SetupPacket is the 8-byte control transfer setup stage.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// In reports whether the data stage moves device to host.
func (s SetupPacket) In() bool { return s.RequestType&EndpointDirMask != 0 }

// Bytes encodes the packet in wire order (little endian fields).
func (s SetupPacket) Bytes() []byte {
	b := make([]byte, SetupSize)
	b[0] = s.RequestType
	b[1] = s.Request
	binary.LittleEndian.PutUint16(b[2:], s.Value)
	binary.LittleEndian.PutUint16(b[4:], s.Index)
	binary.LittleEndian.PutUint16(b[6:], s.Length)
	return b
}

// ParseSetup decodes a setup packet from the first 8 bytes of b.
func ParseSetup(b []byte) (SetupPacket, error) {
	if len(b) < SetupSize {
		return SetupPacket{}, fmt.Errorf("%w: setup packet needs %d bytes, got %d", ErrInvalidParam, SetupSize, len(b))
	}
	return SetupPacket{
		RequestType: b[0],
		Request:     b[1],
		Value:       binary.LittleEndian.Uint16(b[2:]),
		Index:       binary.LittleEndian.Uint16(b[4:]),
		Length:      binary.LittleEndian.Uint16(b[6:]),
	}, nil
}
