//go:build linux

package registry

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultIdentifier identifies the calling thread with gettid and derives
// the stack base from the /proc/self/maps region holding the caller's
// stack. The caller must be locked to its OS thread.
//
// It only serves callers running on a system stack, such as a host thread
// calling in through cgo. Goroutine stacks live in the Go heap and move as
// they grow, so a plain goroutine gets ErrNoIdentity; such hosts should
// compute the record themselves and use Registry.Insert.
func DefaultIdentifier() Identifier {
	return IdentifierFunc(currentLinux)
}

func currentLinux() (Record, error) {
	tid := unix.Gettid()

	var anchor byte
	addr := uintptr(unsafe.Pointer(&anchor))

	file, err := os.Open("/proc/self/maps")
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrNoIdentity, err)
	}
	defer file.Close()

	base, err := stackBaseFromMaps(file, addr)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrNoIdentity, err)
	}

	return Record{
		NativeHandle: uint64(tid),
		OSThreadID:   tid,
		StackBase:    base,
	}, nil
}
