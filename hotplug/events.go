// Package hotplug watches the OS for device arrivals and removals and
// reduces the interface-level broadcasts to rescan triggers. Only
// enumerators that can carry USB devices wake the scanner; chatty classes
// like disk volumes are filtered out up front.
package hotplug

import (
	"strings"

	"github.com/google/uuid"
)

// Kind tells arrivals from removals.
type Kind int

const (
	Arrived Kind = iota
	Departed
)

func (k Kind) String() string {
	if k == Arrived {
		return "arrived"
	}
	return "departed"
}

// DeviceGUID is the whole-device interface class; broadcasts of any other
// class describe a single function of a device.
var DeviceGUID = uuid.MustParse("a5dcbf10-6530-11d2-901f-00c04fb951ed")

// Event is one device change. Path is the raw interface path of the
// broadcast; WholeDevice is set when the class is the device class rather
// than a function-level one.
type Event struct {
	Kind        Kind
	Path        string
	Class       uuid.UUID
	WholeDevice bool
}

// Enumerators whose devices can sit on the USB tree. IUSB3 and NUSB3 are
// the vendor spellings of third-party XHCI stacks.
var allowedEnumerators = []string{"USB", "IUSB3", "NUSB3", "HID"}

// EnumeratorOf extracts the enumerator prefix of an interface path, the
// segment between the \\?\ prefix and the first '#'.
func EnumeratorOf(path string) string {
	for _, prefix := range []string{`\\?\`, `\\.\`} {
		if strings.HasPrefix(path, prefix) {
			path = path[len(prefix):]
			break
		}
	}
	if i := strings.IndexByte(path, '#'); i >= 0 {
		path = path[:i]
	}
	return path
}

// Relevant reports whether the path belongs to an enumerator that may
// carry USB devices.
func Relevant(path string) bool {
	enum := EnumeratorOf(path)
	for _, want := range allowedEnumerators {
		if strings.EqualFold(enum, want) {
			return true
		}
	}
	return false
}
