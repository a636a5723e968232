package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/usb"
)

func TestWrapOutputReport(t *testing.T) {
	data := []byte{0xAA, 0xBB}

	wire := wrapOutputReport(data, true)
	assert.Equal(t, data, wire, "devices with report ids send caller data as-is")

	wire = wrapOutputReport(data, false)
	assert.Equal(t, []byte{0x00, 0xAA, 0xBB}, wire, "zero id byte prepended")
}

func TestUnwrapInputReport(t *testing.T) {
	tests := []struct {
		name     string
		wire     []byte
		ioSize   uint32
		expected uint32
		usesIDs  bool
		want     []byte
		n        int
		status   usb.TransferStatus
	}{
		{
			name: "with ids passthrough",
			wire: []byte{0x01, 0x02, 0x03}, ioSize: 3, expected: 3, usesIDs: true,
			want: []byte{0x01, 0x02, 0x03}, n: 3, status: usb.TransferCompleted,
		},
		{
			name: "id byte stripped",
			wire: []byte{0x00, 0x02, 0x03}, ioSize: 3, expected: 3, usesIDs: false,
			want: []byte{0x02, 0x03}, n: 2, status: usb.TransferCompleted,
		},
		{
			name: "zero bytes",
			wire: []byte{}, ioSize: 0, expected: 4, usesIDs: true,
			want: nil, n: 0, status: usb.TransferCompleted,
		},
		{
			name: "device returned more than expected",
			wire: []byte{0x01, 0x02, 0x03, 0x04, 0x05}, ioSize: 5, expected: 4, usesIDs: true,
			want: []byte{0x01, 0x02, 0x03, 0x04}, n: 4, status: usb.TransferOverflow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]byte, tt.expected)
			n, status := unwrapInputReport(dst, tt.wire, tt.ioSize, tt.expected, tt.usesIDs)
			assert.Equal(t, tt.n, n)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.want, append([]byte(nil), dst[:n]...))
		})
	}
}

func TestUnwrapInputReportSmallCallerBuffer(t *testing.T) {
	dst := make([]byte, 2)
	n, status := unwrapInputReport(dst, []byte{0x01, 0x02, 0x03}, 3, 3, true)
	assert.Equal(t, 2, n)
	assert.Equal(t, usb.TransferOverflow, status)
	assert.Equal(t, []byte{0x01, 0x02}, dst)
}

func TestInputReportBufferHasOverflowSlack(t *testing.T) {
	assert.Len(t, inputReportBuffer(8), 9)
}

func testHIDInfo() *device.HIDInfo {
	return &device.HIDInfo{
		VID: 0x054C, PID: 0x05C4,
		InputReportSize:    64,
		OutputReportSize:   32,
		FeatureReportSize:  0,
		ManufacturerString: "Sony",
		ProductString:      "Wireless Controller",
		SerialString:       "0123",
	}
}

func TestHIDDeviceDescriptorSynthesis(t *testing.T) {
	raw, ok := hidDescriptorBytes(testHIDInfo(), usb.DeviceDescType, 0)
	require.True(t, ok)
	d, err := usb.ParseDeviceDescriptor(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x054C), d.IDVendor)
	assert.Equal(t, uint16(0x05C4), d.IDProduct)
	assert.Equal(t, uint8(1), d.BNumConfigurations)
}

func TestHIDConfigDescriptorSynthesis(t *testing.T) {
	raw, ok := hidDescriptorBytes(testHIDInfo(), usb.ConfigDescType, 0)
	require.True(t, ok)
	cfg, err := usb.ParseConfigDescriptor(raw)
	require.NoError(t, err)

	assert.Equal(t, int(cfg.Header.WTotalLength), len(raw))
	require.Len(t, cfg.Interfaces, 1)
	setting, ok := cfg.Setting(0, 0)
	require.True(t, ok)
	assert.Equal(t, uint8(usb.ClassHID), setting.Descriptor.BInterfaceClass)
	require.Len(t, setting.Endpoints, 2, "output report adds an interrupt OUT endpoint")
	assert.True(t, setting.Endpoints[0].In())
	assert.Equal(t, uint16(64), setting.Endpoints[0].WMaxPacketSize)
	assert.False(t, setting.Endpoints[1].In())
	assert.Equal(t, uint16(32), setting.Endpoints[1].WMaxPacketSize)
	require.Len(t, setting.Extra, usb.HIDDescLen, "class descriptor rides along")
	assert.Equal(t, uint8(usb.HIDDescType), setting.Extra[1])

	// No output report, no OUT endpoint.
	info := testHIDInfo()
	info.OutputReportSize = 0
	raw, ok = hidDescriptorBytes(info, usb.ConfigDescType, 0)
	require.True(t, ok)
	cfg, err = usb.ParseConfigDescriptor(raw)
	require.NoError(t, err)
	setting, ok = cfg.Setting(0, 0)
	require.True(t, ok)
	assert.Len(t, setting.Endpoints, 1)
}

func TestHIDStringDescriptorSynthesis(t *testing.T) {
	info := testHIDInfo()

	lang, ok := hidDescriptorBytes(info, usb.StringDescType, 0)
	require.True(t, ok)
	assert.Equal(t, []byte{0x04, usb.StringDescType, 0x09, 0x04}, lang)

	product, ok := hidDescriptorBytes(info, usb.StringDescType, 2)
	require.True(t, ok)
	assert.Equal(t, usb.EncodeStringDescriptor("Wireless Controller"), product)

	_, ok = hidDescriptorBytes(info, usb.StringDescType, 9)
	assert.False(t, ok)
}

func TestHIDReportDescriptorSynthesis(t *testing.T) {
	rd, ok := hidDescriptorBytes(testHIDInfo(), usb.ReportDescType, 0)
	require.True(t, ok)
	assert.LessOrEqual(t, len(rd), hidMaxReportDescriptorSize)
	assert.Equal(t, byte(0xC0), rd[len(rd)-1], "collection closed")
	assert.Contains(t, string(rd), string([]byte{0x95, 64, 0x81, 0x00}), "input report count encoded")
	assert.Contains(t, string(rd), string([]byte{0x95, 32, 0x91, 0x00}), "output report count encoded")

	_, ok = hidDescriptorBytes(testHIDInfo(), 0x05, 0)
	assert.False(t, ok)
}
