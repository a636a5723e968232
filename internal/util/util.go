//go:build !windows

package util

func IsRunFromGUI() bool {
	// Double-click launches are a Windows concern; everywhere else the
	// tool is assumed to run from a shell.
	return false
}
