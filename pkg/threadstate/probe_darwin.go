//go:build darwin

package threadstate

import (
	"errors"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/danpilch/stacksampler/pkg/registry"
)

// Constants from <sys/proc_info.h>.
const (
	procInfoCallPidInfo   = 2  // PROC_INFO_CALL_PIDINFO
	procPidThreadID64Info = 15 // PROC_PIDTHREADID64INFO
	maxThreadNameSize     = 64
)

// procThreadInfo mirrors struct proc_threadinfo.
type procThreadInfo struct {
	UserTime    uint64
	SystemTime  uint64
	CPUUsage    int32
	Policy      int32
	RunState    int32
	Flags       int32
	SleepTime   int32
	CurPri      int32
	Priority    int32
	MaxPriority int32
	Name        [maxThreadNameSize]byte
}

// procInfoProbe queries proc_info(PROC_PIDTHREADID64INFO).
type procInfoProbe struct {
	pid int
}

// NewProbe returns the proc_info probe for the current process.
func NewProbe() Probe {
	return &procInfoProbe{pid: os.Getpid()}
}

// State implements Probe. ESRCH means the thread no longer exists.
func (p *procInfoProbe) State(rec registry.Record) State {
	var info procThreadInfo
	size := unsafe.Sizeof(info)
	n, _, errno := syscall.Syscall6(
		uintptr(syscall.SYS_PROC_INFO),
		uintptr(procInfoCallPidInfo),
		uintptr(p.pid),
		uintptr(procPidThreadID64Info),
		uintptr(rec.OSThreadID),
		uintptr(unsafe.Pointer(&info)),
		size,
	)
	if errno != 0 {
		if errors.Is(errno, unix.ESRCH) {
			return Dead
		}
		return Running
	}
	if n != size {
		return Running
	}
	return MapDarwinRunState(info.RunState)
}
