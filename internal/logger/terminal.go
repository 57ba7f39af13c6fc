//go:build darwin

package logger

import "golang.org/x/sys/unix"

// isTerminal reports whether fd is attached to a terminal, deciding whether
// log output gets color.
func isTerminal(fd uintptr) bool {
	_, err := unix.IoctlGetTermios(int(fd), unix.TIOCGETA)
	return err == nil
}
