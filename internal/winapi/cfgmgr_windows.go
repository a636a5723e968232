//go:build windows

package winapi

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	procCMLocateDevNodeW = cfgmgr32.NewProc("CM_Locate_DevNodeW")
	procCMGetParent      = cfgmgr32.NewProc("CM_Get_Parent")
	procCMGetChild       = cfgmgr32.NewProc("CM_Get_Child")
	procCMGetSibling     = cfgmgr32.NewProc("CM_Get_Sibling")
	procCMGetDeviceIDW   = cfgmgr32.NewProc("CM_Get_Device_IDW")
)

// Configuration-manager return codes.
const (
	CRSuccess       = 0x00
	CRNoSuchDevnode = 0x0D
	CRBufferSmall   = 0x1A
)

const cmLocateDevNodeNormal = 0

// crError wraps a nonzero CONFIGRET.
func crError(op string, cr uintptr) error {
	return fmt.Errorf("%s: CONFIGRET 0x%02x", op, cr)
}

// LocateDevNode resolves a device instance id to a devnode handle.
func LocateDevNode(instanceID string) (uint32, error) {
	p, err := windows.UTF16PtrFromString(instanceID)
	if err != nil {
		return 0, err
	}
	var devInst uint32
	cr, _, _ := procCMLocateDevNodeW.Call(
		uintptr(unsafe.Pointer(&devInst)), uintptr(unsafe.Pointer(p)), cmLocateDevNodeNormal)
	if cr != CRSuccess {
		return 0, crError("CM_Locate_DevNodeW", cr)
	}
	return devInst, nil
}

// ParentDevNode returns the parent devnode.
func ParentDevNode(devInst uint32) (uint32, error) {
	var parent uint32
	cr, _, _ := procCMGetParent.Call(uintptr(unsafe.Pointer(&parent)), uintptr(devInst), 0)
	if cr != CRSuccess {
		return 0, crError("CM_Get_Parent", cr)
	}
	return parent, nil
}

// ChildDevNode returns the first child devnode; ok is false for leaves.
func ChildDevNode(devInst uint32) (uint32, bool) {
	var child uint32
	cr, _, _ := procCMGetChild.Call(uintptr(unsafe.Pointer(&child)), uintptr(devInst), 0)
	return child, cr == CRSuccess
}

// SiblingDevNode returns the next sibling devnode; ok is false at the end.
func SiblingDevNode(devInst uint32) (uint32, bool) {
	var sib uint32
	cr, _, _ := procCMGetSibling.Call(uintptr(unsafe.Pointer(&sib)), uintptr(devInst), 0)
	return sib, cr == CRSuccess
}

// DevNodeID returns the instance id string of a devnode.
func DevNodeID(devInst uint32) (string, error) {
	buf := make([]uint16, 256)
	cr, _, _ := procCMGetDeviceIDW.Call(
		uintptr(devInst), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), 0)
	if cr != CRSuccess {
		return "", crError("CM_Get_Device_IDW", cr)
	}
	return windows.UTF16ToString(buf), nil
}

// ChildrenOf walks the child/sibling chain of a devnode, returning direct
// child instance ids in sibling order.
func ChildrenOf(devInst uint32) ([]string, error) {
	var out []string
	child, ok := ChildDevNode(devInst)
	for ok {
		id, err := DevNodeID(child)
		if err != nil {
			return out, err
		}
		out = append(out, id)
		child, ok = SiblingDevNode(child)
	}
	return out, nil
}
