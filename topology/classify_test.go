package topology_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/topology"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		di   topology.DriverInfo
		api  device.APIKind
		sub  device.SubAPI
	}{
		{"empty", topology.DriverInfo{}, device.APIUnsupported, device.SubNotSet},
		{"unknown service", topology.DriverInfo{Service: "usbstor"}, device.APIUnsupported, device.SubNotSet},
		{"hub", topology.DriverInfo{Service: "USBHUB3"}, device.APIHub, device.SubNotSet},
		{"hub lowercase", topology.DriverInfo{Service: "usbhub"}, device.APIHub, device.SubNotSet},
		{"composite", topology.DriverInfo{Service: "usbccgp"}, device.APIComposite, device.SubNotSet},
		{"winusb", topology.DriverInfo{Service: "WinUSB"}, device.APIWinUSB, device.SubWinUSB},
		{"libusbK", topology.DriverInfo{Service: "libusbK"}, device.APIWinUSB, device.SubLibusbK},
		{"libusb0 filter in uppers", topology.DriverInfo{Service: "WinUSB", Upper: []string{"libusb0"}}, device.APIWinUSB, device.SubWinUSB},
		{"hid", topology.DriverInfo{Service: "HidUsb"}, device.APIHID, device.SubNotSet},
		{"hid mouse filter", topology.DriverInfo{Upper: []string{"mouhid"}}, device.APIHID, device.SubNotSet},
		{"lower filters considered last", topology.DriverInfo{Lower: []string{"", " usbhub "}}, device.APIHub, device.SubNotSet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, sub := topology.Classify(tt.di)
			assert.Equal(t, tt.api, api)
			assert.Equal(t, tt.sub, sub)
		})
	}
}

// The service name wins over filter drivers: a libusb0 filter stacked on a
// HID function still routes through the HID access method.
func TestClassifyServiceBeatsFilters(t *testing.T) {
	api, sub := topology.Classify(topology.DriverInfo{
		Service: "HidUsb",
		Upper:   []string{"libusb0"},
	})
	assert.Equal(t, device.APIHID, api)
	assert.Equal(t, device.SubNotSet, sub)
}
