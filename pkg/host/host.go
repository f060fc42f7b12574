// Package host defines the boundary between the sampler and the managed
// runtime it is embedded in.
package host

import "fmt"

// ThreadHandle identifies a logical thread. It is issued by the host runtime
// and stays stable for the lifetime of the thread.
type ThreadHandle uint64

// String formats the handle the way it appears in sample output.
func (h ThreadHandle) String() string {
	return fmt.Sprintf("0x%X", uint64(h))
}

// FunctionID is the host runtime's identity for a managed function.
type FunctionID uint64

// FrameInfo describes one managed frame reported during a stack walk.
type FrameInfo struct {
	IP         uintptr
	FunctionID FunctionID
}

// FrameCallback is invoked once per managed frame, leaf first.
// Returning false stops the walk.
type FrameCallback func(frame FrameInfo) bool

// RuntimeControl is the runtime-control API of the host.
type RuntimeControl interface {
	// PauseAllExecution stops every managed thread.
	PauseAllExecution() error

	// ResumeAllExecution undoes PauseAllExecution.
	ResumeAllExecution() error

	// EnumerateLiveThreads returns all threads currently known to the runtime.
	EnumerateLiveThreads() ([]ThreadHandle, error)

	// WalkManagedStack walks the managed frames of a paused thread.
	WalkManagedStack(handle ThreadHandle, cb FrameCallback) error

	// UserCodeStarted reports whether application code has begun executing.
	UserCodeStarted() bool
}

// NameResolver maps instruction pointers to managed function identities.
type NameResolver interface {
	ResolveFunction(ip uintptr) (FunctionID, bool)
	QualifiedName(id FunctionID) string
}
