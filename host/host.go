// Package host is the top of the stack: it owns backend lifecycles, runs
// enumeration scans, tracks the live device table and hands out open
// handles. One Context corresponds to one independent view of the bus.
package host

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/internal/log"
	"github.com/kettleby/usbhost/monoclock"
	"github.com/kettleby/usbhost/topology"
	"github.com/kettleby/usbhost/transfer"
	"github.com/kettleby/usbhost/usb"
)

// Backend init happens once for the first context and is torn down with
// the last one.
var (
	initMu    sync.Mutex
	initCount int
)

// Options configures a Context. Zero values select production defaults;
// tests inject a simulated device tree.
type Options struct {
	Logger *slog.Logger
	Raw    log.RawLogger
	Tree   topology.DeviceTree
	Poller transfer.Poller
}

// Context is one live view of the bus.
type Context struct {
	log    *slog.Logger
	enum   *topology.Enumerator
	engine *transfer.Engine
	clock  *monoclock.Service

	mu         sync.RWMutex
	bySession  map[uint64]*device.Device
	byInstance map[string]*device.Device

	cbMu     sync.Mutex
	onAttach []func(*device.Device)
	onDetach []func(*device.Device)

	watcher watcherHandle
	closed  bool
}

// Init brings the stack up: backends are initialized (once, process-wide)
// and an initial scan fills the device table. A failed backend init rolls
// back the ones already up.
func Init(opts Options) (*Context, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tree := opts.Tree
	if tree == nil {
		tree = platformTree()
	}
	if tree == nil {
		return nil, fmt.Errorf("%w: no device tree on this platform", usb.ErrNotSupported)
	}

	if err := initBackends(logger); err != nil {
		return nil, err
	}

	ctx := &Context{
		log:        logger,
		enum:       topology.NewEnumerator(tree, logger),
		engine:     transfer.NewEngine(logger, opts.Raw, opts.Poller),
		clock:      monoclock.NewService(nil),
		bySession:  make(map[uint64]*device.Device),
		byInstance: make(map[string]*device.Device),
	}
	ctx.clock.Start()

	if err := ctx.Rescan(); err != nil {
		ctx.Close()
		return nil, err
	}
	return ctx, nil
}

// initBackends initializes every registered backend, undoing the ones
// already up when one fails. Reference-counted across contexts.
func initBackends(logger *slog.Logger) error {
	initMu.Lock()
	defer initMu.Unlock()
	if initCount > 0 {
		initCount++
		return nil
	}

	var started []device.Backend
	err := device.EachBackend(func(k device.APIKind, b device.Backend) error {
		if err := b.Init(); err != nil {
			// An access method whose driver is absent stays registered but
			// unusable; only hard failures abort.
			logger.Debug("backend unavailable", "backend", b.Name(), "error", err)
			return nil
		}
		started = append(started, b)
		return nil
	})
	if err != nil {
		for i := len(started) - 1; i >= 0; i-- {
			_ = started[i].Exit()
		}
		return err
	}
	initCount = 1
	return nil
}

func exitBackends() {
	initMu.Lock()
	defer initMu.Unlock()
	if initCount == 0 {
		return
	}
	initCount--
	if initCount > 0 {
		return
	}
	_ = device.EachBackend(func(k device.APIKind, b device.Backend) error {
		_ = b.Exit()
		return nil
	})
}

// Close tears the context down: hotplug watching, the clock service and
// (for the last context) the backends.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.stopWatcher()
	c.clock.Stop()
	exitBackends()
}

// Engine exposes the transfer engine of this context.
func (c *Context) Engine() *transfer.Engine { return c.engine }

// Now returns a monotonic timestamp from the clock service.
func (c *Context) Now() (time.Duration, error) { return c.clock.Now() }

// Rescan walks the device tree and publishes new records into the table.
// Known devices keep their records and their session ids.
func (c *Context) Rescan() error {
	return c.enum.Scan(c)
}

// BySession returns the live record for a session id.
func (c *Context) BySession(id uint64) *device.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bySession[id]
}

// ByInstanceID returns the live record for an instance id.
func (c *Context) ByInstanceID(id string) *device.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byInstance[id]
}

// Publish installs a finished record and fires attach callbacks.
func (c *Context) Publish(d *device.Device) {
	c.mu.Lock()
	c.bySession[d.SessionID] = d
	c.byInstance[d.InstanceID] = d
	c.mu.Unlock()

	c.cbMu.Lock()
	cbs := append([]func(*device.Device){}, c.onAttach...)
	c.cbMu.Unlock()
	for _, cb := range cbs {
		cb(d)
	}
}

// Remove drops the record with the given session id and fires detach
// callbacks. Unknown session ids are ignored.
func (c *Context) Remove(sessionID uint64) {
	c.mu.Lock()
	d := c.bySession[sessionID]
	if d != nil {
		delete(c.bySession, sessionID)
		delete(c.byInstance, d.InstanceID)
	}
	c.mu.Unlock()
	if d == nil {
		return
	}
	c.cbMu.Lock()
	cbs := append([]func(*device.Device){}, c.onDetach...)
	c.cbMu.Unlock()
	for _, cb := range cbs {
		cb(d)
	}
}

// OnAttach registers a callback fired for every published record.
func (c *Context) OnAttach(fn func(*device.Device)) {
	c.cbMu.Lock()
	c.onAttach = append(c.onAttach, fn)
	c.cbMu.Unlock()
}

// OnDetach registers a callback fired when a record leaves the table.
func (c *Context) OnDetach(fn func(*device.Device)) {
	c.cbMu.Lock()
	c.onDetach = append(c.onDetach, fn)
	c.cbMu.Unlock()
}

// Devices returns a snapshot of the device table in no particular order.
func (c *Context) Devices() []*device.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*device.Device, 0, len(c.bySession))
	for _, d := range c.bySession {
		out = append(out, d)
	}
	return out
}

// Open opens a device through its access method.
func (c *Context) Open(d *device.Device) (*device.Handle, error) {
	h := &device.Handle{Dev: d}
	if err := device.BackendFor(d.API).Open(h); err != nil {
		return nil, err
	}
	return h, nil
}

// CloseHandle releases every claimed interface and the OS handles.
func (c *Context) CloseHandle(h *device.Handle) {
	b := device.BackendFor(h.Dev.API)
	for _, iface := range h.ClaimedInterfaces() {
		if err := b.ReleaseInterface(h, iface); err != nil {
			c.log.Debug("release on close failed", "interface", iface, "error", err)
		}
		h.SetClaimed(iface, false)
	}
	b.Close(h)
}

// Claim claims an interface explicitly. An explicit claim absorbs any
// implicit claim a transfer took earlier; the reference count resets so
// only an explicit release frees the interface.
func (c *Context) Claim(h *device.Handle, iface int) error {
	if iface < 0 || iface >= device.MaxInterfaces {
		return fmt.Errorf("%w: interface %d out of range", usb.ErrInvalidParam, iface)
	}
	if h.Claimed(iface) {
		h.ResetAutoClaim(iface)
		return nil
	}
	if err := device.BackendFor(h.Dev.API).ClaimInterface(h, iface); err != nil {
		return err
	}
	h.SetClaimed(iface, true)
	h.ResetAutoClaim(iface)
	return nil
}

// Release releases an explicitly claimed interface.
func (c *Context) Release(h *device.Handle, iface int) error {
	if !h.Claimed(iface) {
		return fmt.Errorf("%w: interface %d is not claimed", usb.ErrNotFound, iface)
	}
	if err := device.BackendFor(h.Dev.API).ReleaseInterface(h, iface); err != nil {
		return err
	}
	h.SetClaimed(iface, false)
	return nil
}

// SetAltSetting selects an alternate setting on a claimed interface and
// reconfigures its endpoints.
func (c *Context) SetAltSetting(h *device.Handle, iface int, alt uint8) error {
	if !h.Claimed(iface) {
		return fmt.Errorf("%w: interface %d must be claimed first", usb.ErrNotFound, iface)
	}
	return device.BackendFor(h.Dev.API).SetAltSetting(h, iface, alt)
}

// ClearHalt clears a stall condition on an endpoint.
func (c *Context) ClearHalt(h *device.Handle, endpoint uint8) error {
	return device.BackendFor(h.Dev.API).ClearHalt(h, endpoint)
}

// Reset resets the device as far as its driver allows.
func (c *Context) Reset(h *device.Handle) error {
	return device.BackendFor(h.Dev.API).ResetDevice(h)
}

// GetConfiguration returns the cached active configuration value. The OS
// owns configuration selection, so no control request is issued.
func (c *Context) GetConfiguration(h *device.Handle) (uint8, error) {
	return h.Dev.ActiveConfig, nil
}

// SetConfiguration accepts only the configuration the OS already selected.
func (c *Context) SetConfiguration(h *device.Handle, cfg uint8) error {
	if cfg != h.Dev.ActiveConfig {
		return fmt.Errorf("%w: the OS owns configuration selection (active is %d)",
			usb.ErrNotSupported, h.Dev.ActiveConfig)
	}
	return nil
}

// KernelDriverActive reports whether a kernel driver owns the interface.
// Drivers are never detachable on this platform.
func (c *Context) KernelDriverActive(h *device.Handle, iface int) (bool, error) {
	return false, fmt.Errorf("%w: kernel driver queries", usb.ErrNotSupported)
}

// DetachKernelDriver is not expressible on this platform.
func (c *Context) DetachKernelDriver(h *device.Handle, iface int) error {
	return fmt.Errorf("%w: kernel driver detach", usb.ErrNotSupported)
}

// AttachKernelDriver is not expressible on this platform.
func (c *Context) AttachKernelDriver(h *device.Handle, iface int) error {
	return fmt.Errorf("%w: kernel driver attach", usb.ErrNotSupported)
}
