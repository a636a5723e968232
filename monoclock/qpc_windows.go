//go:build windows

package monoclock

import (
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                      = windows.NewLazySystemDLL("kernel32.dll")
	procQueryPerformanceCounter   = kernel32.NewProc("QueryPerformanceCounter")
	procQueryPerformanceFrequency = kernel32.NewProc("QueryPerformanceFrequency")
)

// qpcSource reads the performance counter. The frequency is fixed at boot,
// so it is sampled once.
type qpcSource struct {
	freq int64
}

func defaultSource() Source {
	var freq int64
	r, _, _ := procQueryPerformanceFrequency.Call(uintptr(unsafe.Pointer(&freq)))
	if r == 0 || freq <= 0 {
		return newRealtimeSource()
	}
	return &qpcSource{freq: freq}
}

func (q *qpcSource) Read() (time.Duration, error) {
	var counter int64
	r, _, err := procQueryPerformanceCounter.Call(uintptr(unsafe.Pointer(&counter)))
	if r == 0 {
		return 0, err
	}
	sec := counter / q.freq
	rem := counter % q.freq
	return time.Duration(sec)*time.Second +
		time.Duration(rem*int64(time.Second)/q.freq), nil
}
