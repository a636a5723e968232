// Package transfer runs asynchronous transfers: submission through the
// device's access method, timeout-driven cancellation, and reduction of
// overlapped completion results to one status/byte-count contract.
package transfer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/internal/log"
	"github.com/kettleby/usbhost/usb"
)

// OS error codes reduced by the completion mapping. Values are fixed by
// the platform ABI.
const (
	errorSuccess          = 0
	errorGenFailure       = 31  // stalled endpoint
	errorSemTimeout       = 121 // driver-level timeout
	errorOperationAborted = 995 // explicit abort
)

// Poller is the event-polling layer transfers are handed to while pending.
// It waits on the transfer's event handle and feeds the overlapped result
// back into Engine.Complete.
type Poller interface {
	Register(event uintptr, t *device.Transfer)
	Unregister(event uintptr)
}

// Engine owns transfer lifecycles. Submission blocks only long enough to
// issue the OS request; completion arrives later through Complete.
type Engine struct {
	log    *slog.Logger
	raw    log.RawLogger
	poller Poller

	mu     sync.Mutex
	timers map[*device.Transfer]*time.Timer
}

// NewEngine returns an engine reporting completions through poller.
func NewEngine(logger *slog.Logger, raw log.RawLogger, poller Poller) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if raw == nil {
		raw = log.NewRaw(nil)
	}
	return &Engine{
		log:    logger,
		raw:    raw,
		poller: poller,
		timers: make(map[*device.Transfer]*time.Timer),
	}
}

// Submit issues the transfer through the backend owning the device. On
// success the transfer's event handle is registered with the poller; a
// synchronously completed operation arrives there already signaled.
func (e *Engine) Submit(t *device.Transfer) error {
	if t.Handle == nil || t.Handle.Dev == nil {
		return fmt.Errorf("%w: transfer without an open handle", usb.ErrInvalidParam)
	}
	b := device.BackendFor(t.Handle.Dev.API)

	var err error
	switch t.Kind {
	case usb.TransferControl:
		if t.Setup == nil {
			return fmt.Errorf("%w: control transfer without setup packet", usb.ErrInvalidParam)
		}
		err = b.SubmitControlTransfer(t)
	case usb.TransferBulk, usb.TransferInterrupt:
		err = b.SubmitBulkTransfer(t)
	case usb.TransferIsochronous:
		err = b.SubmitIsoTransfer(t)
	default:
		return fmt.Errorf("%w: unknown transfer type %d", usb.ErrInvalidParam, t.Kind)
	}
	if err != nil {
		AutoRelease(t)
		return err
	}

	if !t.In() && len(t.Buffer) > 0 {
		e.raw.Log(false, t.Buffer)
	}

	if e.poller != nil && t.Event != 0 {
		e.poller.Register(t.Event, t)
	}
	if t.Timeout > 0 {
		e.mu.Lock()
		e.timers[t] = time.AfterFunc(t.Timeout, func() { e.cancelTimedOut(t) })
		e.mu.Unlock()
	}
	return nil
}

// Cancel aborts a pending transfer. The completion still flows through
// Complete with an aborted result; it is reported cancelled unless a
// timeout flag was already set.
func (e *Engine) Cancel(t *device.Transfer) error {
	b := device.BackendFor(t.Handle.Dev.API)
	if t.Kind == usb.TransferControl {
		return b.AbortControl(t)
	}
	return b.AbortTransfers(t)
}

// cancelTimedOut marks the transfer timed out, then aborts it. The flag is
// set first so the aborted completion maps to timed-out, never cancelled.
func (e *Engine) cancelTimedOut(t *device.Transfer) {
	t.TimedOut = true
	if err := e.Cancel(t); err != nil {
		e.log.Debug("timeout cancel failed", "error", err)
	}
}

// Complete reduces an overlapped result to the transfer's terminal state,
// finalizing data movement through the backend and tearing down the
// transfer's OS resources. It returns the byte count visible to the caller.
func (e *Engine) Complete(t *device.Transfer, ioResult, ioSize uint32) (int, usb.TransferStatus) {
	b := device.BackendFor(t.Handle.Dev.API)

	var (
		n      int
		status usb.TransferStatus
	)
	// Every terminal path finalizes through the backend, even when no data
	// moved: backends drop their per-transfer tracking state in the
	// finalize call.
	switch ioResult {
	case errorSuccess:
		n, status = b.CopyTransferData(t, ioSize)
	case errorGenFailure:
		_, _ = b.CopyTransferData(t, 0)
		status = usb.TransferStall
	case errorSemTimeout:
		_, _ = b.CopyTransferData(t, 0)
		status = usb.TransferTimedOut
	case errorOperationAborted:
		// Partial data may have landed before the abort took effect.
		n, _ = b.CopyTransferData(t, ioSize)
		if t.TimedOut {
			status = usb.TransferTimedOut
		} else {
			status = usb.TransferCancelled
		}
	default:
		e.log.Debug("transfer failed", "result", ioResult)
		_, _ = b.CopyTransferData(t, 0)
		status = usb.TransferError
	}

	if t.In() && n > 0 {
		e.raw.Log(true, t.Buffer[:n])
	}

	e.mu.Lock()
	if timer, ok := e.timers[t]; ok {
		timer.Stop()
		delete(e.timers, t)
	}
	e.mu.Unlock()

	if e.poller != nil && t.Event != 0 {
		e.poller.Unregister(t.Event)
	}
	AutoRelease(t)
	releaseTransferOS(t)

	e.log.Debug("transfer complete", "status", status.String(), "bytes", n, "endpoint", fmt.Sprintf("0x%02x", t.Endpoint))
	return n, status
}
