package device_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kettleby/usbhost/device"
	"github.com/kettleby/usbhost/usb"
)

func TestSetBindingFirstAttachmentWins(t *testing.T) {
	d := &device.Device{}
	require.NoError(t, d.SetBinding(0, device.Binding{Path: `\\.\WINUSB#0`, API: device.APIWinUSB, Sub: device.SubLibusbK}))

	// HID collections surface the same interface repeatedly; a HID newcomer
	// must not displace the existing attachment.
	require.NoError(t, d.SetBinding(0, device.Binding{Path: `\\.\HID#0`, API: device.APIHID}))
	b, ok := d.Binding(0)
	require.True(t, ok)
	assert.Equal(t, device.APIWinUSB, b.API)
	assert.Equal(t, `\\.\WINUSB#0`, b.Path)

	// Any other newcomer overwrites.
	require.NoError(t, d.SetBinding(0, device.Binding{Path: `\\.\WINUSB#NEW`, API: device.APIWinUSB, Sub: device.SubWinUSB}))
	b, ok = d.Binding(0)
	require.True(t, ok)
	assert.Equal(t, `\\.\WINUSB#NEW`, b.Path)
	assert.Equal(t, device.SubWinUSB, b.Sub)
}

func TestSetBindingRange(t *testing.T) {
	d := &device.Device{}
	assert.ErrorIs(t, d.SetBinding(-1, device.Binding{API: device.APIHID}), usb.ErrInvalidParam)
	assert.ErrorIs(t, d.SetBinding(device.MaxInterfaces, device.Binding{API: device.APIHID}), usb.ErrInvalidParam)

	_, ok := d.Binding(-1)
	assert.False(t, ok)
	_, ok = d.Binding(device.MaxInterfaces)
	assert.False(t, ok)
}

func TestClearBinding(t *testing.T) {
	d := &device.Device{}
	require.NoError(t, d.SetBinding(2, device.Binding{Path: `\\.\X`, API: device.APIWinUSB}))
	d.ClearBinding(2)
	_, ok := d.Binding(2)
	assert.False(t, ok)
}

func TestClearBindingByPath(t *testing.T) {
	d := &device.Device{API: device.APIComposite}
	require.NoError(t, d.SetBinding(0, device.Binding{Path: `\\.\HID#COL00`, API: device.APIHID}))
	require.NoError(t, d.SetBinding(2, device.Binding{Path: `\\.\WINUSB#MI02`, API: device.APIWinUSB}))

	assert.False(t, d.ClearBindingByPath(""))
	assert.False(t, d.ClearBindingByPath(`\\.\NOSUCH`))

	assert.True(t, d.ClearBindingByPath(`\\.\WINUSB#MI02`))
	_, ok := d.Binding(2)
	assert.False(t, ok)

	// Remaining slots keep their numbers; composite tables stay sparse.
	b0, ok := d.Binding(0)
	require.True(t, ok)
	assert.Equal(t, `\\.\HID#COL00`, b0.Path)
}

func TestAppendHIDPath(t *testing.T) {
	d := &device.Device{}
	assert.False(t, d.AppendHIDPath("", false))
	assert.True(t, d.AppendHIDPath(`\\.\HID#COL00`, false))
	assert.True(t, d.AppendHIDPath(`\\.\HID#COL01`, true))
	assert.False(t, d.AppendHIDPath(`\\.\HID#COL00`, false), "duplicate path")

	b0, ok := d.Binding(0)
	require.True(t, ok)
	assert.Equal(t, `\\.\HID#COL00`, b0.Path)
	assert.Equal(t, device.APIHID, b0.API)
	assert.False(t, b0.Restricted)

	b1, ok := d.Binding(1)
	require.True(t, ok)
	assert.Equal(t, `\\.\HID#COL01`, b1.Path)
	assert.True(t, b1.Restricted)
}

func TestRemoveHIDPathCompacts(t *testing.T) {
	d := &device.Device{}
	for _, p := range []string{`\\.\HID#A`, `\\.\HID#B`, `\\.\HID#C`} {
		require.True(t, d.AppendHIDPath(p, false))
	}

	assert.False(t, d.RemoveHIDPath(`\\.\HID#MISSING`))
	assert.True(t, d.RemoveHIDPath(`\\.\HID#B`))

	b0, _ := d.Binding(0)
	b1, _ := d.Binding(1)
	assert.Equal(t, `\\.\HID#A`, b0.Path)
	assert.Equal(t, `\\.\HID#C`, b1.Path, "later slots shift down")
	_, ok := d.Binding(2)
	assert.False(t, ok)
}

// configBytes builds a one-interface config descriptor with the given
// configuration value and a single bulk IN endpoint.
func configBytes(value uint8, endpoint uint8) []byte {
	var body bytes.Buffer
	usb.InterfaceDescriptor{BInterfaceNumber: 0, BNumEndpoints: 1, BInterfaceClass: usb.ClassVendorSpec}.Write(&body)
	usb.EndpointDescriptor{BEndpointAddress: endpoint, BMAttributes: uint8(usb.TransferBulk), WMaxPacketSize: 64}.Write(&body)
	var full bytes.Buffer
	usb.ConfigHeader{
		WTotalLength:        uint16(usb.ConfigDescLen + body.Len()),
		BNumInterfaces:      1,
		BConfigurationValue: value,
	}.Write(&full)
	full.Write(body.Bytes())
	return full.Bytes()
}

func TestActiveConfigDescriptorMatchesByValue(t *testing.T) {
	d := &device.Device{
		ActiveConfig: 2,
		Configs: [][]byte{
			configBytes(1, usb.EndpointIn|1),
			configBytes(2, usb.EndpointIn|2),
		},
	}
	cfg, err := d.ActiveConfigDescriptor()
	require.NoError(t, err)
	assert.Equal(t, uint8(2), cfg.Header.BConfigurationValue)

	iface, err := d.InterfaceByEndpoint(usb.EndpointIn | 2)
	require.NoError(t, err)
	assert.Equal(t, 0, iface)

	_, err = d.InterfaceByEndpoint(usb.EndpointIn | 1)
	assert.ErrorIs(t, err, usb.ErrNotFound)
}

func TestActiveConfigDescriptorUnconfigured(t *testing.T) {
	d := &device.Device{Configs: [][]byte{configBytes(1, usb.EndpointIn|1)}}
	_, err := d.ActiveConfigDescriptor()
	assert.ErrorIs(t, err, usb.ErrNotFound)

	d.ActiveConfig = 3
	_, err = d.ActiveConfigDescriptor()
	assert.ErrorIs(t, err, usb.ErrNotFound)
}

func TestConfigDescriptorIndex(t *testing.T) {
	d := &device.Device{Configs: [][]byte{configBytes(1, usb.EndpointIn|1)}}
	cfg, err := d.ConfigDescriptor(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), cfg.Header.BConfigurationValue)

	_, err = d.ConfigDescriptor(1)
	assert.ErrorIs(t, err, usb.ErrNotFound)
}

func TestHandleValidInterface(t *testing.T) {
	d := &device.Device{}
	require.NoError(t, d.SetBinding(0, device.Binding{Path: `\\.\HID#0`, API: device.APIHID}))
	require.NoError(t, d.SetBinding(1, device.Binding{Path: `\\.\WINUSB#1`, API: device.APIWinUSB}))
	h := &device.Handle{Dev: d}

	iface, err := h.ValidInterface(1, device.APIWinUSB)
	require.NoError(t, err)
	assert.Equal(t, 1, iface)

	_, err = h.ValidInterface(0, device.APIWinUSB)
	assert.ErrorIs(t, err, usb.ErrNotFound)

	iface, err = h.ValidInterface(-1, device.APIHID)
	require.NoError(t, err)
	assert.Equal(t, 0, iface)

	_, err = h.ValidInterface(-1, device.APIHub)
	assert.ErrorIs(t, err, usb.ErrNotFound)
}

func TestHandleAutoClaimCounting(t *testing.T) {
	h := &device.Handle{Dev: &device.Device{}}

	assert.Equal(t, 1, h.AddAutoClaim(3))
	assert.Equal(t, 2, h.AddAutoClaim(3))
	assert.Equal(t, 2, h.AutoClaimCount(3))

	assert.False(t, h.DropAutoClaim(3))
	assert.True(t, h.DropAutoClaim(3), "last drop reports release")
	assert.False(t, h.DropAutoClaim(3), "never goes negative")

	h.AddAutoClaim(3)
	h.ResetAutoClaim(3)
	assert.Equal(t, 0, h.AutoClaimCount(3))
}

func TestHandleClaimState(t *testing.T) {
	h := &device.Handle{Dev: &device.Device{}}
	h.SetClaimed(1, true)
	h.SetAltSetting(1, 2)
	assert.True(t, h.Claimed(1))
	assert.Equal(t, uint8(2), h.AltSetting(1))
	assert.Equal(t, []int{1}, h.ClaimedInterfaces())

	// Releasing resets the alternate setting.
	h.SetClaimed(1, false)
	assert.False(t, h.Claimed(1))
	assert.Equal(t, uint8(0), h.AltSetting(1))
	assert.Empty(t, h.ClaimedInterfaces())
}
