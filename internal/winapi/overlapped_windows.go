//go:build windows

package winapi

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	procLocalAlloc = kernel32.NewProc("LocalAlloc")
	procLocalFree  = kernel32.NewProc("LocalFree")
)

const lmemZeroInit = 0x0040

// AllocOverlapped creates a manual-reset event and an OVERLAPPED block
// referencing it. The block lives outside the Go heap because the kernel
// writes to it after the submitting call returns.
func AllocOverlapped() (event windows.Handle, overlapped uintptr, err error) {
	event, err = windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("CreateEvent: %w", err)
	}
	size := unsafe.Sizeof(windows.Overlapped{})
	r, _, allocErr := procLocalAlloc.Call(lmemZeroInit, uintptr(size))
	if r == 0 {
		windows.CloseHandle(event)
		return 0, 0, fmt.Errorf("LocalAlloc: %w", allocErr)
	}
	(*windows.Overlapped)(unsafe.Pointer(r)).HEvent = event
	return event, r, nil
}

// FreeOverlapped releases an OVERLAPPED block from AllocOverlapped. The
// event handle is closed separately.
func FreeOverlapped(overlapped uintptr) {
	if overlapped != 0 {
		_, _, _ = procLocalFree.Call(overlapped)
	}
}

// OverlappedResult collects the outcome of a finished overlapped
// operation without waiting.
func OverlappedResult(file windows.Handle, overlapped uintptr) (uint32, error) {
	var transferred uint32
	err := windows.GetOverlappedResult(file, (*windows.Overlapped)(unsafe.Pointer(overlapped)), &transferred, false)
	if err != nil {
		return transferred, err
	}
	return transferred, nil
}

// ResetOverlappedEvent rearms the event for another submission.
func ResetOverlappedEvent(event windows.Handle) {
	_ = windows.ResetEvent(event)
}
