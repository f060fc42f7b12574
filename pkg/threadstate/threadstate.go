// Package threadstate reports whether a native thread is running,
// suspended or dead.
package threadstate

import "github.com/danpilch/stacksampler/pkg/registry"

// State is the coarse run state of a thread.
type State string

const (
	Running   State = "running"
	Suspended State = "suspended"
	Dead      State = "dead"
)

// Probe queries the OS for a thread's run state.
type Probe interface {
	State(rec registry.Record) State
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(rec registry.Record) State

// State calls f.
func (f ProbeFunc) State(rec registry.Record) State {
	return f(rec)
}

// MapLinuxState maps the state letter of /proc/<pid>/task/<tid>/stat.
// Unknown letters map to Running so the thread is still sampled.
func MapLinuxState(c byte) State {
	switch c {
	case 'R':
		return Running
	case 'S', 'D', 'I', 'W', 'P', 'T', 't', 'K':
		return Suspended
	case 'X', 'x', 'Z':
		return Dead
	default:
		return Running
	}
}

// Run states reported in proc_threadinfo.pth_run_state.
const (
	darwinStateRunning         = 1
	darwinStateStopped         = 2
	darwinStateWaiting         = 3
	darwinStateUninterruptible = 4
	darwinStateHalted          = 5
)

// MapDarwinRunState maps a proc_threadinfo run state.
func MapDarwinRunState(s int32) State {
	switch s {
	case darwinStateRunning:
		return Running
	case darwinStateStopped, darwinStateWaiting, darwinStateUninterruptible:
		return Suspended
	case darwinStateHalted:
		return Dead
	default:
		return Running
	}
}
