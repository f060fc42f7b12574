// Package hosttest provides in-memory host collaborators for tests.
package hosttest

import (
	"errors"
	"sort"
	"sync"

	"github.com/danpilch/stacksampler/pkg/capture"
	"github.com/danpilch/stacksampler/pkg/host"
)

// ErrInjected is the error returned by failures configured on Runtime.
var ErrInjected = errors.New("injected failure")

// Runtime is a scripted RuntimeControl. Stacks maps each live thread to
// its managed frames, leaf first.
type Runtime struct {
	mu sync.Mutex

	Stacks  map[host.ThreadHandle][]host.FrameInfo
	Started bool

	FailPause     bool
	FailResume    bool
	FailEnumerate bool
	FailWalk      map[host.ThreadHandle]bool

	Paused  bool
	Pauses  int
	Resumes int
	Calls   []string
}

// NewRuntime returns a runtime with user code started and no threads.
func NewRuntime() *Runtime {
	return &Runtime{
		Stacks:   make(map[host.ThreadHandle][]host.FrameInfo),
		Started:  true,
		FailWalk: make(map[host.ThreadHandle]bool),
	}
}

func (r *Runtime) record(call string) {
	r.Calls = append(r.Calls, call)
}

// PauseAllExecution implements host.RuntimeControl.
func (r *Runtime) PauseAllExecution() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("pause")
	if r.FailPause {
		return ErrInjected
	}
	r.Paused = true
	r.Pauses++
	return nil
}

// ResumeAllExecution implements host.RuntimeControl.
func (r *Runtime) ResumeAllExecution() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("resume")
	if r.FailResume {
		return ErrInjected
	}
	r.Paused = false
	r.Resumes++
	return nil
}

// EnumerateLiveThreads implements host.RuntimeControl. Handles are
// returned in ascending order.
func (r *Runtime) EnumerateLiveThreads() ([]host.ThreadHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("enumerate")
	if r.FailEnumerate {
		return nil, ErrInjected
	}
	handles := make([]host.ThreadHandle, 0, len(r.Stacks))
	for h := range r.Stacks {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles, nil
}

// WalkManagedStack implements host.RuntimeControl.
func (r *Runtime) WalkManagedStack(handle host.ThreadHandle, cb host.FrameCallback) error {
	r.mu.Lock()
	r.record("walk")
	fail := r.FailWalk[handle]
	frames := append([]host.FrameInfo(nil), r.Stacks[handle]...)
	r.mu.Unlock()

	if fail {
		return ErrInjected
	}
	for _, f := range frames {
		if !cb(f) {
			break
		}
	}
	return nil
}

// UserCodeStarted implements host.RuntimeControl.
func (r *Runtime) UserCodeStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Started
}

// SetStarted changes the user-code-started flag.
func (r *Runtime) SetStarted(started bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Started = started
}

// CallLog returns a copy of the recorded calls.
func (r *Runtime) CallLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Calls...)
}

// Resolver is a NameResolver backed by maps.
type Resolver struct {
	Functions map[uintptr]host.FunctionID
	Names     map[host.FunctionID]string
}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		Functions: make(map[uintptr]host.FunctionID),
		Names:     make(map[host.FunctionID]string),
	}
}

// Add registers a managed function at ip.
func (r *Resolver) Add(ip uintptr, id host.FunctionID, name string) {
	r.Functions[ip] = id
	r.Names[id] = name
}

// ResolveFunction implements host.NameResolver.
func (r *Resolver) ResolveFunction(ip uintptr) (host.FunctionID, bool) {
	id, ok := r.Functions[ip]
	return id, ok
}

// QualifiedName implements host.NameResolver.
func (r *Resolver) QualifiedName(id host.FunctionID) string {
	if name, ok := r.Names[id]; ok {
		return name
	}
	return "<unnamed>"
}

// Sink records every stack written to it.
type Sink struct {
	mu     sync.Mutex
	Stacks map[host.ThreadHandle][][]capture.Frame
	Order  []host.ThreadHandle
}

// NewSink returns an empty recording sink.
func NewSink() *Sink {
	return &Sink{Stacks: make(map[host.ThreadHandle][][]capture.Frame)}
}

// WriteStack implements output.Sink.
func (s *Sink) WriteStack(handle host.ThreadHandle, frames []capture.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stacks[handle] = append(s.Stacks[handle], append([]capture.Frame(nil), frames...))
	s.Order = append(s.Order, handle)
	return nil
}

// Last returns the most recent stack written for handle.
func (s *Sink) Last(handle host.ThreadHandle) ([]capture.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stacks := s.Stacks[handle]
	if len(stacks) == 0 {
		return nil, false
	}
	return stacks[len(stacks)-1], true
}

// Count returns the number of stacks written.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Order)
}
