package transfer_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/transfer"
	"github.com/kettleby/usbhost/usb"
)

// fakeBackend completes every submit immediately and records claim traffic
// so auto-claim reference counting can be observed.
type fakeBackend struct {
	claims    []int
	releases  []int
	aborts    int
	finalizes int

	copyData []byte
}

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) Init() error  { return nil }
func (f *fakeBackend) Exit() error  { return nil }

func (f *fakeBackend) Open(h *device.Handle) error { return nil }
func (f *fakeBackend) Close(h *device.Handle)      {}

func (f *fakeBackend) ConfigureEndpoints(h *device.Handle, iface int) error { return nil }
func (f *fakeBackend) ClaimInterface(h *device.Handle, iface int) error {
	f.claims = append(f.claims, iface)
	return nil
}
func (f *fakeBackend) SetAltSetting(h *device.Handle, iface int, alt uint8) error { return nil }
func (f *fakeBackend) ReleaseInterface(h *device.Handle, iface int) error {
	f.releases = append(f.releases, iface)
	return nil
}
func (f *fakeBackend) ClearHalt(h *device.Handle, endpoint uint8) error { return nil }
func (f *fakeBackend) ResetDevice(h *device.Handle) error               { return nil }

func (f *fakeBackend) SubmitControlTransfer(t *device.Transfer) error {
	return transfer.AutoClaim(t, device.APIWinUSB)
}
func (f *fakeBackend) SubmitBulkTransfer(t *device.Transfer) error { return nil }
func (f *fakeBackend) SubmitIsoTransfer(t *device.Transfer) error  { return nil }

func (f *fakeBackend) AbortControl(t *device.Transfer) error {
	f.aborts++
	return nil
}
func (f *fakeBackend) AbortTransfers(t *device.Transfer) error {
	f.aborts++
	return nil
}

func (f *fakeBackend) CopyTransferData(t *device.Transfer, length uint32) (int, usb.TransferStatus) {
	f.finalizes++
	n := copy(t.Buffer, f.copyData)
	if uint32(n) > length {
		n = int(length)
	}
	return n, usb.TransferCompleted
}

func newFakeHandle(t *testing.T, fb *fakeBackend) *device.Handle {
	t.Helper()
	device.Register(device.APIWinUSB, fb)
	d := &device.Device{API: device.APIWinUSB}
	require.NoError(t, d.SetBinding(0, device.Binding{Path: `\\.\WINUSB#0`, API: device.APIWinUSB}))
	return &device.Handle{Dev: d}
}

func controlTransfer(h *device.Handle) *device.Transfer {
	return &device.Transfer{
		Handle: h,
		Kind:   usb.TransferControl,
		Setup:  &usb.SetupPacket{RequestType: usb.EndpointIn, Length: 8},
		Buffer: make([]byte, 8),
	}
}

func TestCompleteStatusMapping(t *testing.T) {
	fb := &fakeBackend{copyData: []byte{1, 2, 3, 4}}
	h := newFakeHandle(t, fb)
	e := transfer.NewEngine(nil, nil, nil)

	tests := []struct {
		name     string
		ioResult uint32
		ioSize   uint32
		timedOut bool
		n        int
		status   usb.TransferStatus
	}{
		{"success", 0, 4, false, 4, usb.TransferCompleted},
		{"stall", 31, 0, false, 0, usb.TransferStall},
		{"driver timeout", 121, 0, false, 0, usb.TransferTimedOut},
		{"aborted", 995, 2, false, 2, usb.TransferCancelled},
		{"aborted after timeout", 995, 2, true, 2, usb.TransferTimedOut},
		{"unknown code", 1117, 0, false, 0, usb.TransferError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := controlTransfer(h)
			tr.TimedOut = tt.timedOut
			n, status := e.Complete(tr, tt.ioResult, tt.ioSize)
			assert.Equal(t, tt.n, n)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestCompleteFinalizesEveryTerminalStatus(t *testing.T) {
	fb := &fakeBackend{}
	h := newFakeHandle(t, fb)
	e := transfer.NewEngine(nil, nil, nil)

	// Backends keep per-transfer state until the finalize call; a stalled
	// or errored transfer must release it just like a successful one.
	for _, ioResult := range []uint32{0, 31, 121, 995, 1117} {
		before := fb.finalizes
		e.Complete(controlTransfer(h), ioResult, 0)
		assert.Equal(t, before+1, fb.finalizes, "result code %d must finalize through the backend", ioResult)
	}
}

func TestSubmitRejectsMalformedTransfers(t *testing.T) {
	fb := &fakeBackend{}
	h := newFakeHandle(t, fb)
	e := transfer.NewEngine(nil, nil, nil)

	err := e.Submit(&device.Transfer{Kind: usb.TransferControl})
	assert.ErrorIs(t, err, usb.ErrInvalidParam)

	err = e.Submit(&device.Transfer{Handle: h, Kind: usb.TransferControl})
	assert.ErrorIs(t, err, usb.ErrInvalidParam, "control transfer needs a setup packet")

	err = e.Submit(&device.Transfer{Handle: h, Kind: usb.TransferType(9)})
	assert.ErrorIs(t, err, usb.ErrInvalidParam)
}

func TestSubmitTimeoutCancels(t *testing.T) {
	fb := &fakeBackend{}
	h := newFakeHandle(t, fb)
	e := transfer.NewEngine(nil, nil, nil)

	tr := controlTransfer(h)
	tr.Timeout = 5 * time.Millisecond
	require.NoError(t, e.Submit(tr))

	assert.Eventually(t, func() bool { return fb.aborts > 0 }, time.Second, time.Millisecond)
	assert.True(t, tr.TimedOut, "flag set before the abort so the completion maps to timed-out")

	_, status := e.Complete(tr, 995, 0)
	assert.Equal(t, usb.TransferTimedOut, status)
}

func TestAutoClaimRefCounting(t *testing.T) {
	fb := &fakeBackend{}
	h := newFakeHandle(t, fb)

	t1 := controlTransfer(h)
	t2 := controlTransfer(h)
	require.NoError(t, transfer.AutoClaim(t1, device.APIWinUSB))
	require.NoError(t, transfer.AutoClaim(t2, device.APIWinUSB))

	assert.Equal(t, []int{0}, fb.claims, "one implicit claim covers both transfers")
	assert.True(t, h.Claimed(0))
	assert.Equal(t, 2, h.AutoClaimCount(0))
	assert.True(t, t1.AutoClaimed)
	assert.Equal(t, 0, t1.Iface)

	transfer.AutoRelease(t1)
	assert.Empty(t, fb.releases, "claim held while a transfer still references it")
	assert.True(t, h.Claimed(0))

	transfer.AutoRelease(t2)
	assert.Equal(t, []int{0}, fb.releases)
	assert.False(t, h.Claimed(0))

	// Releasing twice is harmless.
	transfer.AutoRelease(t2)
	assert.Equal(t, []int{0}, fb.releases)
}

func TestAutoClaimConcurrentTransfers(t *testing.T) {
	fb := &fakeBackend{}
	h := newFakeHandle(t, fb)

	const workers = 16
	trs := make([]*device.Transfer, workers)
	errs := make([]error, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		trs[i] = controlTransfer(h)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = transfer.AutoClaim(trs[i], device.APIWinUSB)
		}(i)
	}
	close(start)
	wg.Wait()
	for i := range errs {
		require.NoError(t, errs[i])
	}

	assert.Equal(t, []int{0}, fb.claims, "one implicit claim covers all concurrent transfers")
	assert.Equal(t, workers, h.AutoClaimCount(0))
	assert.True(t, h.Claimed(0))

	for i := range trs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			transfer.AutoRelease(trs[i])
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []int{0}, fb.releases, "released once, when the last reference drops")
	assert.False(t, h.Claimed(0))
	assert.Equal(t, 0, h.AutoClaimCount(0))
}

func TestAutoClaimPrefersExplicitClaim(t *testing.T) {
	fb := &fakeBackend{}
	h := newFakeHandle(t, fb)
	h.SetClaimed(0, true)

	tr := controlTransfer(h)
	require.NoError(t, transfer.AutoClaim(tr, device.APIWinUSB))
	assert.Equal(t, 0, tr.Iface)
	assert.False(t, tr.AutoClaimed, "explicit claims carry no auto reference")
	assert.Empty(t, fb.claims)

	transfer.AutoRelease(tr)
	assert.True(t, h.Claimed(0), "explicit claim survives")
}

func TestAutoClaimNoBindableInterface(t *testing.T) {
	fb := &fakeBackend{}
	device.Register(device.APIWinUSB, fb)
	h := &device.Handle{Dev: &device.Device{API: device.APIWinUSB}}

	err := transfer.AutoClaim(controlTransfer(h), device.APIWinUSB)
	assert.ErrorIs(t, err, usb.ErrNotFound)
}
