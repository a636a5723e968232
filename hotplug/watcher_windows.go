//go:build windows

package hotplug

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/windows"

	"github.com/kettleby/usbhost/internal/winapi"
)

const watcherClassName = "usbhost-devnotify"

// Watcher owns the message-only window device broadcasts arrive on. The
// window and its message loop are pinned to one OS thread; Start does not
// return until the subscription is live, so no arrival between Start and
// the first scan can be missed.
type Watcher struct {
	log    *slog.Logger
	events chan Event

	mu      sync.Mutex
	hwnd    uintptr
	started bool

	done chan struct{}
}

// NewWatcher returns an unstarted watcher.
func NewWatcher(logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		log:    logger,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
}

// Events is the stream of filtered device changes. The channel is closed
// when the watcher stops.
func (w *Watcher) Events() <-chan Event { return w.events }

// Start brings the notification window up and blocks until it is
// subscribed or failed.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("hotplug watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	ready := make(chan error, 1)
	go w.run(ready)
	return <-ready
}

// Stop closes the window and waits for the message loop to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	hwnd := w.hwnd
	w.mu.Unlock()
	if hwnd == 0 {
		return
	}
	winapi.PostCloseMessage(hwnd)
	<-w.done
}

// run is the message-loop thread. Window creation, notification
// registration and message dispatch all have to happen on the same OS
// thread.
func (w *Watcher) run(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)
	defer close(w.events)

	wndProc := windows.NewCallback(func(hwnd uintptr, msg uint32, wParam, lParam uintptr) uintptr {
		switch msg {
		case winapi.WMDeviceChange:
			w.deviceChange(wParam, lParam)
			return 0
		case winapi.WMClose:
			winapi.DestroyMessageWindow(hwnd)
			return 0
		case winapi.WMDestroy:
			// Without WM_QUIT the GetMessage loop below never exits and
			// Stop blocks forever on done.
			winapi.PostQuitMessage(0)
			return 0
		}
		return winapi.DefWindowProc(hwnd, msg, wParam, lParam)
	})

	hwnd, err := winapi.CreateMessageWindow(watcherClassName, wndProc)
	if err != nil {
		ready <- err
		return
	}
	notify, err := winapi.RegisterAllInterfaceNotification(hwnd)
	if err != nil {
		winapi.DestroyMessageWindow(hwnd)
		ready <- err
		return
	}
	w.mu.Lock()
	w.hwnd = hwnd
	w.mu.Unlock()
	ready <- nil

	var msg winapi.Msg
	for winapi.GetMessage(&msg, 0) {
		winapi.DispatchMessage(&msg)
	}

	winapi.UnregisterDeviceNotificationHandle(notify)
	w.mu.Lock()
	w.hwnd = 0
	w.mu.Unlock()
}

// deviceChange reduces one WM_DEVICECHANGE broadcast to an Event.
func (w *Watcher) deviceChange(wParam, lParam uintptr) {
	var kind Kind
	switch wParam {
	case winapi.DBTDeviceArrival:
		kind = Arrived
	case winapi.DBTDeviceRemoveComplete:
		kind = Departed
	default:
		return
	}
	path, class, ok := winapi.BroadcastInterface(lParam)
	if !ok || !Relevant(path) {
		return
	}
	ev := Event{
		Kind:  kind,
		Path:  path,
		Class: fromWinGUID(class),
	}
	ev.WholeDevice = ev.Class == DeviceGUID
	select {
	case w.events <- ev:
	default:
		w.log.Warn("hotplug event dropped, consumer too slow",
			"kind", kind.String(), "path", path)
	}
}

// fromWinGUID converts the registry layout back to textual byte order.
func fromWinGUID(g windows.GUID) uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], g.Data1)
	binary.BigEndian.PutUint16(u[4:6], g.Data2)
	binary.BigEndian.PutUint16(u[6:8], g.Data3)
	copy(u[8:16], g.Data4[:])
	return u
}
