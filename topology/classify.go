package topology

import (
	"strings"

	"github.com/kettleby/usbhost/device"
)

// DriverInfo carries the driver names bound to a device node: the service
// name plus upper and lower filter driver lists.
type DriverInfo struct {
	Service string
	Upper   []string
	Lower   []string
}

// Known driver names per access method. Matching is case-insensitive.
// Order inside the WinUSB-like list fixes the sub-variant preference:
// libusbK first, the filter driver next, plain WinUSB last.
var (
	hubDrivers = []string{
		"USBHUB", "USBHUB3", "NUSB3HUB", "RUSB3HUB", "FLXHCIH",
		"TIHUB3", "ETRONHUB3", "VIAHUB3", "ASMTHUB3", "IUSB3HUB",
	}
	compositeDrivers = []string{"USBCCGP"}
	winusbDrivers    = []string{"LIBUSBK", "LIBUSB0", "WINUSB"}
	hidDrivers       = []string{"HIDUSB", "MOUHID", "KBDHID"}
)

var winusbSubByIndex = [...]device.SubAPI{device.SubLibusbK, device.SubLibusb0, device.SubWinUSB}

// Classify selects the access method for a device from its bound driver
// names. The service name is checked first, then upper filters, then lower
// filters; the first token matching any known list wins. Devices with no
// match stay enumerable but unsupported.
func Classify(di DriverInfo) (device.APIKind, device.SubAPI) {
	var tokens []string
	if di.Service != "" {
		tokens = append(tokens, di.Service)
	}
	tokens = append(tokens, di.Upper...)
	tokens = append(tokens, di.Lower...)

	for _, tok := range tokens {
		t := strings.ToUpper(strings.TrimSpace(tok))
		if t == "" {
			continue
		}
		for _, name := range hubDrivers {
			if t == name {
				return device.APIHub, device.SubNotSet
			}
		}
		for _, name := range compositeDrivers {
			if t == name {
				return device.APIComposite, device.SubNotSet
			}
		}
		for i, name := range winusbDrivers {
			if t == name {
				return device.APIWinUSB, winusbSubByIndex[i]
			}
		}
		for _, name := range hidDrivers {
			if t == name {
				return device.APIHID, device.SubNotSet
			}
		}
	}
	return device.APIUnsupported, device.SubNotSet
}
