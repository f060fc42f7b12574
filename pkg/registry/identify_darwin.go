//go:build darwin

package registry

import (
	"fmt"
	"syscall"
)

// DefaultIdentifier identifies the calling thread with thread_selfid.
// macOS offers no syscall for the stack base, so StackBase is left zero;
// hosts that need signal sampling insert records themselves.
func DefaultIdentifier() Identifier {
	return IdentifierFunc(currentDarwin)
}

func currentDarwin() (Record, error) {
	id, _, errno := syscall.RawSyscall(syscall.SYS_THREAD_SELFID, 0, 0, 0)
	if errno != 0 {
		return Record{}, fmt.Errorf("%w: thread_selfid: %v", ErrNoIdentity, errno)
	}
	return Record{
		NativeHandle: uint64(id),
		OSThreadID:   int(id),
	}, nil
}
