package backend_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/kettleby/usbhost/backend"
	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/usb"
)

// fakeBackend records routed calls so tests can assert where the composite
// router sent them.
type fakeBackend struct {
	name     string
	failOpen bool

	opens, closes int
	controls      []int // interface the control transfer landed on
	bulks         []int
	claims        []int
	releases      []int
	clearHalts    []uint8
	resets        int
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) Init() error  { return nil }
func (f *fakeBackend) Exit() error  { return nil }

func (f *fakeBackend) Open(h *device.Handle) error {
	if f.failOpen {
		return fmt.Errorf("%w: %s open refused", usb.ErrAccess, f.name)
	}
	f.opens++
	return nil
}
func (f *fakeBackend) Close(h *device.Handle) { f.closes++ }

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
func (f *fakeBackend) ClearHalt(h *device.Handle, endpoint uint8) error {
	f.clearHalts = append(f.clearHalts, endpoint)
	return nil
}
func (f *fakeBackend) ResetDevice(h *device.Handle) error {
	f.resets++
	return nil
}

func (f *fakeBackend) SubmitControlTransfer(t *device.Transfer) error {
	f.controls = append(f.controls, t.Iface)
	return nil
}
func (f *fakeBackend) SubmitBulkTransfer(t *device.Transfer) error {
	f.bulks = append(f.bulks, t.Iface)
	return nil
}
func (f *fakeBackend) SubmitIsoTransfer(t *device.Transfer) error { return nil }
func (f *fakeBackend) AbortControl(t *device.Transfer) error      { return nil }
func (f *fakeBackend) AbortTransfers(t *device.Transfer) error    { return nil }
func (f *fakeBackend) CopyTransferData(t *device.Transfer, length uint32) (int, usb.TransferStatus) {
	return int(length), usb.TransferCompleted
}

// compositeDevice builds a two-function device: a restricted HID collection
// on interface 0 and a WinUSB function on interface 1, with matching fakes
// registered.
func compositeDevice(t *testing.T) (*device.Device, *fakeBackend, *fakeBackend) {
	t.Helper()
	hid := &fakeBackend{name: "hid"}
	wu := &fakeBackend{name: "winusb"}
	device.Register(device.APIHID, hid)
	device.Register(device.APIWinUSB, wu)

	d := &device.Device{API: device.APIComposite, ActiveConfig: 1, Configs: [][]byte{configBlob(t)}}
	require.NoError(t, d.SetBinding(0, device.Binding{Path: `\\.\HID#0`, API: device.APIHID, Restricted: true}))
	require.NoError(t, d.SetBinding(1, device.Binding{Path: `\\.\WINUSB#1`, API: device.APIWinUSB, Sub: device.SubWinUSB}))
	return d, hid, wu
}

func configBlob(t *testing.T) []byte {
	t.Helper()
	var cfg []byte
	cfg = append(cfg, usb.ConfigDescLen, usb.ConfigDescType)
	total := usb.ConfigDescLen + 2*usb.InterfaceDescLen + 3*usb.EndpointDescLen
	cfg = append(cfg, byte(total), 0, 2, 1, 0, 1<<7, 50)
	// interface 0: HID, one interrupt IN
	cfg = append(cfg, usb.InterfaceDescLen, usb.InterfaceDescType, 0, 0, 1, usb.ClassHID, 0, 0, 0)
	cfg = append(cfg, usb.EndpointDescLen, usb.EndpointDescType, usb.EndpointIn|1, byte(usb.TransferInterrupt), 8, 0, 10)
	// interface 1: vendor, bulk IN/OUT
	cfg = append(cfg, usb.InterfaceDescLen, usb.InterfaceDescType, 1, 0, 2, usb.ClassVendorSpec, 0, 0, 0)
	cfg = append(cfg, usb.EndpointDescLen, usb.EndpointDescType, usb.EndpointIn|2, byte(usb.TransferBulk), 64, 0, 0)
	cfg = append(cfg, usb.EndpointDescLen, usb.EndpointDescType, usb.EndpointOut|2, byte(usb.TransferBulk), 64, 0, 0)
	return cfg
}

func TestCompositeOpenOpensEverySubBackend(t *testing.T) {
	d, hid, wu := compositeDevice(t)
	h := &device.Handle{Dev: d}
	comp := device.BackendFor(device.APIComposite)

	require.NoError(t, comp.Open(h))
	assert.Equal(t, 1, hid.opens)
	assert.Equal(t, 1, wu.opens)

	comp.Close(h)
	assert.Equal(t, 1, hid.closes)
	assert.Equal(t, 1, wu.closes)
}

func TestCompositeOpenRollsBackOnFailure(t *testing.T) {
	d, hid, wu := compositeDevice(t)
	wu.failOpen = true
	h := &device.Handle{Dev: d}

	err := device.BackendFor(device.APIComposite).Open(h)
	require.ErrorIs(t, err, usb.ErrAccess)
	assert.Equal(t, 1, hid.opens)
	assert.Equal(t, 1, hid.closes, "already-opened sub-backend rolled back")
	assert.Equal(t, 0, wu.opens)
}

func TestCompositeOpenWithoutBindings(t *testing.T) {
	h := &device.Handle{Dev: &device.Device{API: device.APIComposite}}
	err := device.BackendFor(device.APIComposite).Open(h)
	assert.ErrorIs(t, err, usb.ErrNotFound)
}

func TestCompositeControlSkipsRestrictedInterfaces(t *testing.T) {
	d, hid, wu := compositeDevice(t)
	h := &device.Handle{Dev: d}
	comp := device.BackendFor(device.APIComposite)

	tr := &device.Transfer{Handle: h, Kind: usb.TransferControl, Setup: &usb.SetupPacket{}}
	require.NoError(t, comp.SubmitControlTransfer(tr))
	assert.Empty(t, hid.controls)
	assert.Equal(t, []int{1}, wu.controls, "restricted HID skipped on the first pass")
	assert.Equal(t, 1, tr.Iface)
}

func TestCompositeControlFallsBackToRestricted(t *testing.T) {
	hid := &fakeBackend{name: "hid"}
	device.Register(device.APIHID, hid)
	d := &device.Device{API: device.APIComposite}
	require.NoError(t, d.SetBinding(0, device.Binding{Path: `\\.\HID#0`, API: device.APIHID, Restricted: true}))
	h := &device.Handle{Dev: d}

	tr := &device.Transfer{Handle: h, Kind: usb.TransferControl, Setup: &usb.SetupPacket{}}
	require.NoError(t, device.BackendFor(device.APIComposite).SubmitControlTransfer(tr))
	assert.Equal(t, []int{0}, hid.controls, "restricted interface carries the request when it is the only one")
}

func TestCompositeBulkRoutesByEndpoint(t *testing.T) {
	d, hid, wu := compositeDevice(t)
	h := &device.Handle{Dev: d}
	comp := device.BackendFor(device.APIComposite)

	tr := &device.Transfer{Handle: h, Kind: usb.TransferBulk, Endpoint: usb.EndpointOut | 2, Buffer: make([]byte, 8)}
	require.NoError(t, comp.SubmitBulkTransfer(tr))
	assert.Equal(t, []int{1}, wu.bulks)
	assert.Empty(t, hid.bulks)

	tr = &device.Transfer{Handle: h, Kind: usb.TransferBulk, Endpoint: usb.EndpointIn | 1, Buffer: make([]byte, 8)}
	require.NoError(t, comp.SubmitBulkTransfer(tr))
	assert.Equal(t, []int{0}, hid.bulks)

	tr = &device.Transfer{Handle: h, Kind: usb.TransferBulk, Endpoint: usb.EndpointIn | 9}
	assert.ErrorIs(t, comp.SubmitBulkTransfer(tr), usb.ErrNotFound)
}

func TestCompositeClaimAndHaltRouting(t *testing.T) {
	d, hid, wu := compositeDevice(t)
	h := &device.Handle{Dev: d}
	comp := device.BackendFor(device.APIComposite)

	require.NoError(t, comp.ClaimInterface(h, 0))
	require.NoError(t, comp.ClaimInterface(h, 1))
	assert.Equal(t, []int{0}, hid.claims)
	assert.Equal(t, []int{1}, wu.claims)

	require.NoError(t, comp.ClearHalt(h, usb.EndpointIn|2))
	assert.Equal(t, []uint8{usb.EndpointIn | 2}, wu.clearHalts)

	assert.ErrorIs(t, comp.ClaimInterface(h, 5), usb.ErrNotFound)

	require.NoError(t, comp.ResetDevice(h))
	assert.Equal(t, 1, hid.resets)
	assert.Equal(t, 1, wu.resets)
}
