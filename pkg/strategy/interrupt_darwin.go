//go:build darwin

package strategy

import "syscall"

// currentThreadID returns thread_selfid, the id the registry records on
// macOS.
func currentThreadID() int {
	id, _, _ := syscall.RawSyscall(syscall.SYS_THREAD_SELFID, 0, 0, 0)
	return int(id)
}
