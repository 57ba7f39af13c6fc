//go:build windows

package logger

import "golang.org/x/sys/windows"

// isTerminal reports whether fd is attached to a console, deciding whether
// log output gets color.
func isTerminal(fd uintptr) bool {
	var mode uint32
	return windows.GetConsoleMode(windows.Handle(fd), &mode) == nil
}
