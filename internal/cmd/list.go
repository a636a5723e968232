package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/host"
	"github.com/kettleby/usbhost/internal/log"
)

// List enumerates the bus once and prints every device.
type List struct {
	Verbose bool `short:"v" help:"Show interface bindings and cached configurations"`
	Flat    bool `help:"Print one line per device instead of a tree"`
}

// Run is called by Kong when the list command is executed.
func (l *List) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, err := host.Init(host.Options{Logger: logger, Raw: rawLogger})
	if err != nil {
		return fmt.Errorf("stack init failed: %w", err)
	}
	defer ctx.Close()

	devices := ctx.Devices()
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Bus != devices[j].Bus {
			return devices[i].Bus < devices[j].Bus
		}
		return devices[i].Address < devices[j].Address
	})

	// Pipes get plain output; tree connectors are for eyes only.
	tree := !l.Flat && term.IsTerminal(int(os.Stdout.Fd()))
	for _, d := range devices {
		indent := ""
		if tree && d.Depth > 0 {
			indent = strings.Repeat("  ", int(d.Depth)-1) + "└─ "
		}
		fmt.Printf("%sbus %d addr %-3d %04x:%04x %s (%s, %s speed)\n",
			indent, d.Bus, d.Address,
			d.Descriptor.IDVendor, d.Descriptor.IDProduct,
			d.InstanceID, d.API.String(), d.Speed.String())
		if l.Verbose {
			printBindings(d)
		}
	}
	fmt.Printf("%d devices\n", len(devices))
	return nil
}

func printBindings(d *device.Device) {
	d.EachBinding(func(iface int, b device.Binding) bool {
		access := b.API.String()
		if b.API == device.APIWinUSB {
			access = b.Sub.String()
		}
		restricted := ""
		if b.Restricted {
			restricted = " (restricted)"
		}
		fmt.Printf("    interface %d: %s%s %s\n", iface, access, restricted, b.Path)
		return true
	})
	for i := range d.Configs {
		cfg, err := d.ConfigDescriptor(uint8(i))
		if err != nil {
			continue
		}
		active := ""
		if cfg.Header.BConfigurationValue == d.ActiveConfig {
			active = " (active)"
		}
		fmt.Printf("    config %d: %d interfaces%s\n",
			cfg.Header.BConfigurationValue, len(cfg.Interfaces), active)
	}
}
