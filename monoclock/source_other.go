//go:build !windows

package monoclock

func defaultSource() Source {
	return newRealtimeSource()
}
