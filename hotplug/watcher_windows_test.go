//go:build windows

package hotplug_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kettleby/usbhost/hotplug"
)

func TestWatcherStopReturns(t *testing.T) {
	w := hotplug.NewWatcher(slog.Default())
	require.NoError(t, w.Start())

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return, message loop still running")
	}

	// The event stream closes once the loop drains.
	select {
	case _, open := <-w.Events():
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("event channel not closed after Stop")
	}
}

func TestWatcherStopBeforeStart(t *testing.T) {
	w := hotplug.NewWatcher(slog.Default())
	w.Stop() // no window yet, must not block
}
