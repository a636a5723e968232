//go:build windows

package host

import (
	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/hotplug"
	"github.com/kettleby/usbhost/topology"
)

func platformTree() topology.DeviceTree { return topology.NewDeviceTree() }

type watcherHandle struct {
	w    *hotplug.Watcher
	done chan struct{}
}

// StartHotplug subscribes to device broadcasts and keeps the device table
// current. It returns once the subscription is live, so nothing arriving
// after the call can be missed.
func (c *Context) StartHotplug() error {
	w := hotplug.NewWatcher(c.log)
	if err := w.Start(); err != nil {
		return err
	}
	done := make(chan struct{})
	c.mu.Lock()
	c.watcher = watcherHandle{w: w, done: done}
	c.mu.Unlock()

	go func() {
		defer close(done)
		for ev := range w.Events() {
			c.handleHotplug(ev)
		}
	}()
	return nil
}

func (c *Context) handleHotplug(ev hotplug.Event) {
	c.log.Debug("hotplug event", "kind", ev.Kind.String(), "path", ev.Path, "wholeDevice", ev.WholeDevice)
	switch ev.Kind {
	case hotplug.Arrived:
		if err := c.Rescan(); err != nil {
			c.log.Warn("rescan after arrival failed", "error", err)
		}
	case hotplug.Departed:
		path := topology.SanitizePath(ev.Path)
		if ev.WholeDevice {
			c.Remove(c.enum.SessionID(path))
			return
		}
		// A departing function interface: drop it from whatever device
		// holds it. HID collection tables compact; composite slots are
		// cleared in place so interface numbers keep their meaning.
		c.mu.RLock()
		for _, d := range c.bySession {
			if d.API == device.APIComposite {
				if d.ClearBindingByPath(path) {
					break
				}
				continue
			}
			if d.RemoveHIDPath(path) {
				break
			}
		}
		c.mu.RUnlock()
	}
}

func (c *Context) stopWatcher() {
	c.mu.Lock()
	wh := c.watcher
	c.watcher = watcherHandle{}
	c.mu.Unlock()
	if wh.w == nil {
		return
	}
	wh.w.Stop()
	<-wh.done
}
