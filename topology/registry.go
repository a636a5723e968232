package topology

import (
	"log/slog"
	"sync"
)

// maxControllers bounds the bus registry; bus numbers are one byte and
// bus 0 is never handed out.
const maxControllers = 255

// BusRegistry assigns stable bus numbers to host controllers. Controllers
// are recorded in first-seen order, keyed by their PCI instance id; the
// registry index plus one is the bus number, so a controller keeps its bus
// number across repeated scans within one process.
type BusRegistry struct {
	mu    sync.Mutex
	order []string
}

// NewBusRegistry returns an empty registry.
func NewBusRegistry() *BusRegistry { return &BusRegistry{} }

// BusNumber returns the bus number for the controller with the given PCI
// instance id, registering it on first sight. A full registry reports 0.
func (r *BusRegistry) BusNumber(controllerID string) uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, id := range r.order {
		if id == controllerID {
			return uint8(i + 1)
		}
	}
	if len(r.order) >= maxControllers {
		slog.Error("host controller registry is full", "capacity", maxControllers)
		return 0
	}
	r.order = append(r.order, controllerID)
	return uint8(len(r.order))
}
