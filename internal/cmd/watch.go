package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/host"
	"github.com/kettleby/usbhost/internal/log"
)

// Watch follows device arrivals and removals until interrupted.
type Watch struct {
	Timeout time.Duration `help:"Stop watching after this duration (0 = until interrupted)" default:"0s"`
}

// Run is called by Kong when the watch command is executed.
func (w *Watch) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, err := host.Init(host.Options{Logger: logger, Raw: rawLogger})
	if err != nil {
		return fmt.Errorf("stack init failed: %w", err)
	}
	defer ctx.Close()

	ctx.OnAttach(func(d *device.Device) {
		fmt.Printf("%s attached bus %d addr %d %04x:%04x %s (%s)\n",
			time.Now().Format(time.TimeOnly), d.Bus, d.Address,
			d.Descriptor.IDVendor, d.Descriptor.IDProduct,
			d.InstanceID, d.API.String())
	})
	ctx.OnDetach(func(d *device.Device) {
		fmt.Printf("%s detached bus %d addr %d %04x:%04x %s\n",
			time.Now().Format(time.TimeOnly), d.Bus, d.Address,
			d.Descriptor.IDVendor, d.Descriptor.IDProduct, d.InstanceID)
	})

	if err := ctx.StartHotplug(); err != nil {
		return fmt.Errorf("hotplug subscription failed: %w", err)
	}
	logger.Info("watching for device changes", "devices", len(ctx.Devices()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	if w.Timeout > 0 {
		select {
		case <-sig:
		case <-time.After(w.Timeout):
		}
		return nil
	}
	<-sig
	return nil
}
