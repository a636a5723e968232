//go:build !windows

package host

import (
	"fmt"

	"github.com/kettleby/usbhost/topology"
	"github.com/kettleby/usbhost/usb"
)

func platformTree() topology.DeviceTree { return nil }

type watcherHandle struct{}

// StartHotplug has no portable implementation; the production watcher is
// platform specific.
func (c *Context) StartHotplug() error {
	return fmt.Errorf("%w: hotplug watching on this platform", usb.ErrNotSupported)
}

func (c *Context) stopWatcher() {}
