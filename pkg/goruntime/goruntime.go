// Package goruntime adapts the Go runtime to the host interfaces, treating
// goroutines as managed threads. It lets the sampler profile the process it
// is linked into.
package goruntime

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/danpilch/stacksampler/pkg/host"
)

// ErrNotPaused is returned when stacks are requested outside a pause.
var ErrNotPaused = errors.New("goroutine snapshot not taken: runtime is not paused")

// Runtime implements host.RuntimeControl and host.NameResolver.
//
// PauseAllExecution stops the world just long enough to copy every
// goroutine stack; the copies are then walked while the program runs on.
// Handles are positions in that snapshot and are only valid until
// ResumeAllExecution.
type Runtime struct {
	mu       sync.Mutex
	snapshot []runtime.StackRecord
	paused   bool
}

// New creates a Go runtime adapter.
func New() *Runtime {
	return &Runtime{}
}

// PauseAllExecution implements host.RuntimeControl.
func (r *Runtime) PauseAllExecution() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		return errors.New("runtime already paused")
	}

	n, _ := runtime.GoroutineProfile(nil)
	for attempt := 0; attempt < 5; attempt++ {
		records := make([]runtime.StackRecord, n+n/4+8)
		var ok bool
		n, ok = runtime.GoroutineProfile(records)
		if ok {
			r.snapshot = records[:n]
			r.paused = true
			return nil
		}
	}
	return fmt.Errorf("goroutine count kept growing past %d", n)
}

// ResumeAllExecution implements host.RuntimeControl.
func (r *Runtime) ResumeAllExecution() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused {
		return errors.New("runtime not paused")
	}
	r.snapshot = nil
	r.paused = false
	return nil
}

// EnumerateLiveThreads implements host.RuntimeControl.
func (r *Runtime) EnumerateLiveThreads() ([]host.ThreadHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused {
		return nil, ErrNotPaused
	}
	handles := make([]host.ThreadHandle, len(r.snapshot))
	for i := range r.snapshot {
		handles[i] = host.ThreadHandle(i + 1)
	}
	return handles, nil
}

// WalkManagedStack implements host.RuntimeControl.
func (r *Runtime) WalkManagedStack(handle host.ThreadHandle, cb host.FrameCallback) error {
	r.mu.Lock()
	if !r.paused {
		r.mu.Unlock()
		return ErrNotPaused
	}
	if handle == 0 || int(handle) > len(r.snapshot) {
		r.mu.Unlock()
		return fmt.Errorf("unknown goroutine handle %s", handle)
	}
	pcs := r.snapshot[handle-1].Stack()
	r.mu.Unlock()

	for _, pc := range pcs {
		id, _ := r.ResolveFunction(pc)
		if !cb(host.FrameInfo{IP: pc, FunctionID: id}) {
			break
		}
	}
	return nil
}

// UserCodeStarted implements host.RuntimeControl. main is always running
// by the time a Go program can start the sampler.
func (r *Runtime) UserCodeStarted() bool {
	return true
}

// ResolveFunction implements host.NameResolver. ip is a return address, so
// the lookup uses the preceding instruction.
func (r *Runtime) ResolveFunction(ip uintptr) (host.FunctionID, bool) {
	if ip == 0 {
		return 0, false
	}
	fn := runtime.FuncForPC(ip - 1)
	if fn == nil {
		return 0, false
	}
	return host.FunctionID(fn.Entry()), true
}

// QualifiedName implements host.NameResolver.
func (r *Runtime) QualifiedName(id host.FunctionID) string {
	fn := runtime.FuncForPC(uintptr(id))
	if fn == nil {
		return fmt.Sprintf("func@0x%x", uint64(id))
	}
	return fn.Name()
}
