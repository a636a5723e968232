package host_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/host"
	"github.com/kettleby/usbhost/topology"
	"github.com/kettleby/usbhost/usb"
)

const (
	controllerID = `PCI\VEN_8086&DEV_A36D\3&11583659&0&A0`
	rootHubID    = `USB\ROOT_HUB30\4&AABBCC&0&0`
	rootHubPath  = `\\?\usb#root_hub30#4&aabbcc&0&0#{f18a0e88-c30c-11d0-8815-00a0c906bed8}`
)

// fakeTree simulates a root hub with one WinUSB device per entry in devs;
// entries can be added between scans to model arrivals.
type fakeTree struct {
	devs []fakeDev
}

type fakeDev struct {
	instanceID string
	path       string
	port       uint32
}

func newFakeTree() *fakeTree {
	return &fakeTree{devs: []fakeDev{{
		instanceID: `USB\VID_1209&PID_0001\SER1`,
		path:       `\\?\usb#vid_1209&pid_0001#ser1#{dee824ef-729b-4a0e-9c14-b7117d33a817}`,
		port:       1,
	}}}
}

func (f *fakeTree) HostControllers() ([]topology.Node, error) {
	return []topology.Node{{InstanceID: controllerID}}, nil
}

func (f *fakeTree) Hubs() ([]topology.Node, error) {
	return []topology.Node{{InstanceID: rootHubID, Path: rootHubPath}}, nil
}

func (f *fakeTree) Devices() ([]topology.Node, error) {
	var out []topology.Node
	for _, d := range f.devs {
		out = append(out, topology.Node{InstanceID: d.instanceID, Path: d.path})
	}
	return out, nil
}

func (f *fakeTree) Parent(instanceID string) (string, error) {
	if instanceID == rootHubID {
		return controllerID, nil
	}
	for _, d := range f.devs {
		if d.instanceID == instanceID {
			return rootHubID, nil
		}
	}
	return "", fmt.Errorf("no parent for %s", instanceID)
}

func (f *fakeTree) Children(instanceID string) ([]string, error) { return nil, nil }

func (f *fakeTree) Port(instanceID string) (uint32, error) {
	if instanceID == rootHubID {
		return 0, nil
	}
	for _, d := range f.devs {
		if d.instanceID == instanceID {
			return d.port, nil
		}
	}
	return 0, fmt.Errorf("no port for %s", instanceID)
}

func (f *fakeTree) DriverInfo(instanceID string) (topology.DriverInfo, error) {
	if instanceID == rootHubID {
		return topology.DriverInfo{Service: "USBHUB3"}, nil
	}
	return topology.DriverInfo{Service: "WinUSB"}, nil
}

func (f *fakeTree) ExtraInterfaceGUIDs(string) ([]uuid.UUID, error) { return nil, nil }

func (f *fakeTree) InterfaceNodes(uuid.UUID) ([]topology.Node, error) { return nil, nil }

func (f *fakeTree) PortInfo(hubPath string, port uint32) (*topology.PortInfo, error) {
	for _, d := range f.devs {
		if d.port == port {
			return &topology.PortInfo{
				Descriptor: usb.DeviceDescriptor{
					BcdUSB:             0x0200,
					BMaxPacketSize0:    64,
					IDVendor:           0x1209,
					IDProduct:          0x0001,
					BNumConfigurations: 1,
				},
				Address:      uint8(port + 1),
				Speed:        usb.SpeedHigh,
				ActiveConfig: 1,
			}, nil
		}
	}
	return nil, fmt.Errorf("no device on port %d", port)
}

func (f *fakeTree) ConfigDescriptor(hubPath string, port uint32, index uint8) ([]byte, error) {
	cfg := []byte{
		usb.ConfigDescLen, usb.ConfigDescType,
		usb.ConfigDescLen + usb.InterfaceDescLen + usb.EndpointDescLen, 0,
		1, 1, 0, 1 << 7, 50,
		usb.InterfaceDescLen, usb.InterfaceDescType, 0, 0, 1, usb.ClassVendorSpec, 0, 0, 0,
		usb.EndpointDescLen, usb.EndpointDescType, usb.EndpointIn | 1, byte(usb.TransferBulk), 64, 0, 0,
	}
	return cfg, nil
}

// fakeWinUSB stands in for the driver-backed access method.
type fakeWinUSB struct {
	claims, releases []int
	failClaim        bool
}

func (f *fakeWinUSB) Name() string { return "winusb" }
func (f *fakeWinUSB) Init() error  { return nil }
func (f *fakeWinUSB) Exit() error  { return nil }

func (f *fakeWinUSB) Open(h *device.Handle) error { return nil }
func (f *fakeWinUSB) Close(h *device.Handle)      {}

func (f *fakeWinUSB) ConfigureEndpoints(h *device.Handle, iface int) error { return nil }
func (f *fakeWinUSB) ClaimInterface(h *device.Handle, iface int) error {
	if f.failClaim {
		return fmt.Errorf("%w: interface %d held elsewhere", usb.ErrBusy, iface)
	}
	f.claims = append(f.claims, iface)
	return nil
}
func (f *fakeWinUSB) SetAltSetting(h *device.Handle, iface int, alt uint8) error { return nil }
func (f *fakeWinUSB) ReleaseInterface(h *device.Handle, iface int) error {
	f.releases = append(f.releases, iface)
	return nil
}
func (f *fakeWinUSB) ClearHalt(h *device.Handle, endpoint uint8) error { return nil }
func (f *fakeWinUSB) ResetDevice(h *device.Handle) error               { return nil }

func (f *fakeWinUSB) SubmitControlTransfer(t *device.Transfer) error { return nil }
func (f *fakeWinUSB) SubmitBulkTransfer(t *device.Transfer) error    { return nil }
func (f *fakeWinUSB) SubmitIsoTransfer(t *device.Transfer) error     { return nil }
func (f *fakeWinUSB) AbortControl(t *device.Transfer) error          { return nil }
func (f *fakeWinUSB) AbortTransfers(t *device.Transfer) error        { return nil }
func (f *fakeWinUSB) CopyTransferData(t *device.Transfer, length uint32) (int, usb.TransferStatus) {
	return int(length), usb.TransferCompleted
}

func setupContext(t *testing.T) (*host.Context, *fakeTree, *fakeWinUSB) {
	t.Helper()
	fb := &fakeWinUSB{}
	device.Register(device.APIWinUSB, fb)
	tree := newFakeTree()
	ctx, err := host.Init(host.Options{Tree: tree})
	require.NoError(t, err)
	t.Cleanup(ctx.Close)
	return ctx, tree, fb
}

func winusbDevice(t *testing.T, ctx *host.Context) *device.Device {
	t.Helper()
	for _, d := range ctx.Devices() {
		if d.API == device.APIWinUSB {
			return d
		}
	}
	t.Fatal("no winusb device in the table")
	return nil
}

func TestInitPublishesDeviceTable(t *testing.T) {
	ctx, _, _ := setupContext(t)

	devs := ctx.Devices()
	require.Len(t, devs, 2)

	d := winusbDevice(t, ctx)
	assert.Equal(t, uint16(0x1209), d.Descriptor.IDVendor)
	assert.Equal(t, uint8(1), d.ActiveConfig)
	require.NotNil(t, d.Parent)
	assert.Equal(t, device.APIHub, d.Parent.API)
	assert.Same(t, d, ctx.BySession(d.SessionID))
	assert.Same(t, d, ctx.ByInstanceID(d.InstanceID))

	b, ok := d.Binding(0)
	require.True(t, ok)
	assert.Equal(t, device.APIWinUSB, b.API)
}

func TestRescanFiresAttachForNewDevices(t *testing.T) {
	ctx, tree, _ := setupContext(t)

	var attached []*device.Device
	ctx.OnAttach(func(d *device.Device) { attached = append(attached, d) })

	require.NoError(t, ctx.Rescan())
	assert.Empty(t, attached, "no new devices, no callbacks")

	tree.devs = append(tree.devs, fakeDev{
		instanceID: `USB\VID_1209&PID_0002\SER2`,
		path:       `\\?\usb#vid_1209&pid_0002#ser2#{dee824ef-729b-4a0e-9c14-b7117d33a817}`,
		port:       2,
	})
	require.NoError(t, ctx.Rescan())
	require.Len(t, attached, 1)
	assert.Equal(t, uint8(3), attached[0].Address)
	assert.Len(t, ctx.Devices(), 3)
}

func TestRemoveFiresDetach(t *testing.T) {
	ctx, _, _ := setupContext(t)
	d := winusbDevice(t, ctx)

	var detached []*device.Device
	ctx.OnDetach(func(d *device.Device) { detached = append(detached, d) })

	ctx.Remove(d.SessionID)
	require.Len(t, detached, 1)
	assert.Same(t, d, detached[0])
	assert.Nil(t, ctx.BySession(d.SessionID))
	assert.Nil(t, ctx.ByInstanceID(d.InstanceID))

	// Removing an unknown session is a no-op.
	ctx.Remove(d.SessionID)
	assert.Len(t, detached, 1)
}

func TestClaimRelease(t *testing.T) {
	ctx, _, fb := setupContext(t)
	d := winusbDevice(t, ctx)

	h, err := ctx.Open(d)
	require.NoError(t, err)
	defer ctx.CloseHandle(h)

	assert.ErrorIs(t, ctx.Claim(h, -1), usb.ErrInvalidParam)
	assert.ErrorIs(t, ctx.Claim(h, device.MaxInterfaces), usb.ErrInvalidParam)

	require.NoError(t, ctx.Claim(h, 0))
	assert.True(t, h.Claimed(0))
	assert.Equal(t, []int{0}, fb.claims)

	// Claiming again is idempotent and does not hit the backend.
	require.NoError(t, ctx.Claim(h, 0))
	assert.Equal(t, []int{0}, fb.claims)

	require.NoError(t, ctx.Release(h, 0))
	assert.False(t, h.Claimed(0))
	assert.Equal(t, []int{0}, fb.releases)

	assert.ErrorIs(t, ctx.Release(h, 0), usb.ErrNotFound)
}

func TestExplicitClaimAbsorbsAutoClaims(t *testing.T) {
	ctx, _, _ := setupContext(t)
	d := winusbDevice(t, ctx)

	h, err := ctx.Open(d)
	require.NoError(t, err)
	defer ctx.CloseHandle(h)

	h.SetClaimed(0, true)
	h.AddAutoClaim(0)
	h.AddAutoClaim(0)

	require.NoError(t, ctx.Claim(h, 0))
	assert.Equal(t, 0, h.AutoClaimCount(0), "explicit claim resets the implicit references")
	assert.True(t, h.Claimed(0))
}

func TestClaimFailurePropagates(t *testing.T) {
	ctx, _, fb := setupContext(t)
	d := winusbDevice(t, ctx)

	h, err := ctx.Open(d)
	require.NoError(t, err)
	defer ctx.CloseHandle(h)

	fb.failClaim = true
	assert.ErrorIs(t, ctx.Claim(h, 0), usb.ErrBusy)
	assert.False(t, h.Claimed(0))
}

func TestSetAltSettingRequiresClaim(t *testing.T) {
	ctx, _, _ := setupContext(t)
	d := winusbDevice(t, ctx)

	h, err := ctx.Open(d)
	require.NoError(t, err)
	defer ctx.CloseHandle(h)

	assert.ErrorIs(t, ctx.SetAltSetting(h, 0, 1), usb.ErrNotFound)
	require.NoError(t, ctx.Claim(h, 0))
	assert.NoError(t, ctx.SetAltSetting(h, 0, 1))
}

func TestConfigurationIsOSOwned(t *testing.T) {
	ctx, _, _ := setupContext(t)
	d := winusbDevice(t, ctx)

	h, err := ctx.Open(d)
	require.NoError(t, err)
	defer ctx.CloseHandle(h)

	cfg, err := ctx.GetConfiguration(h)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), cfg)

	assert.NoError(t, ctx.SetConfiguration(h, 1), "re-selecting the active configuration succeeds")
	assert.ErrorIs(t, ctx.SetConfiguration(h, 2), usb.ErrNotSupported)
}

func TestKernelDriverOpsUnsupported(t *testing.T) {
	ctx, _, _ := setupContext(t)
	d := winusbDevice(t, ctx)

	h, err := ctx.Open(d)
	require.NoError(t, err)
	defer ctx.CloseHandle(h)

	_, err = ctx.KernelDriverActive(h, 0)
	assert.ErrorIs(t, err, usb.ErrNotSupported)
	assert.ErrorIs(t, ctx.DetachKernelDriver(h, 0), usb.ErrNotSupported)
	assert.ErrorIs(t, ctx.AttachKernelDriver(h, 0), usb.ErrNotSupported)
}

func TestCloseHandleReleasesClaims(t *testing.T) {
	ctx, _, fb := setupContext(t)
	d := winusbDevice(t, ctx)

	h, err := ctx.Open(d)
	require.NoError(t, err)
	require.NoError(t, ctx.Claim(h, 0))

	ctx.CloseHandle(h)
	assert.Equal(t, []int{0}, fb.releases)
	assert.False(t, h.Claimed(0))
}

func TestContextCloseIsIdempotent(t *testing.T) {
	fb := &fakeWinUSB{}
	device.Register(device.APIWinUSB, fb)
	ctx, err := host.Init(host.Options{Tree: newFakeTree()})
	require.NoError(t, err)

	_, err = ctx.Now()
	assert.NoError(t, err)

	ctx.Close()
	ctx.Close()

	_, err = ctx.Now()
	assert.Error(t, err, "clock stops with the context")
}
