package strategy

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/stacksampler/pkg/capture"
	"github.com/danpilch/stacksampler/pkg/event"
	"github.com/danpilch/stacksampler/pkg/host"
	"github.com/danpilch/stacksampler/pkg/registry"
	"github.com/danpilch/stacksampler/pkg/symbols"
	"github.com/danpilch/stacksampler/pkg/threadstate"
)

// session is everything the interrupt handler needs, staged before the
// interrupt is sent. The handler reaches it only through Signal.slot.
type session struct {
	buf       *capture.Buffer
	stackBase uintptr
	tid       int
}

// Signal samples one thread at a time by interrupting it. Other threads keep
// running; the target is stopped only while its handler copies the stack.
//
// At most one sample is in flight per Signal: SampleThread is serialized,
// and the staged session is claimed by exactly one handler invocation.
// There is no timeout unless WaitTimeout is set, so a thread that never
// runs its handler stalls the caller.
type Signal struct {
	registry    *registry.Registry
	probe       threadstate.Probe
	interrupter Interrupter
	resolver    host.NameResolver
	symbolizer  symbols.Symbolizer
	deps        Deps
	logger      *logrus.Logger

	sampleMu sync.Mutex
	slot     atomic.Pointer[session]
	sess     session
	mem      capture.StackMemory
	done     *event.AutoReset
	timeout  time.Duration
	threadID func() int
}

// NewSignal creates the signal-interrupt strategy. The capture buffer is
// allocated here, once.
func NewSignal(deps Deps) (*Signal, error) {
	if deps.Registry == nil {
		return nil, errors.New("signal strategy requires a thread registry")
	}
	if deps.Sink == nil {
		return nil, errors.New("signal strategy requires a sink")
	}
	if deps.Interrupter == nil {
		return nil, ErrNoInterrupter
	}
	size := deps.BufferSize
	if size == 0 {
		size = capture.DefaultCapacity
	}
	buf, err := capture.NewBuffer(size)
	if err != nil {
		return nil, err
	}

	probe := deps.Probe
	if probe == nil {
		probe = threadstate.NewProbe()
	}
	mem := deps.Memory
	if mem == nil {
		mem = capture.LiveMemory{}
	}

	threadID := deps.ThreadID
	if threadID == nil {
		threadID = currentThreadID
	}

	logger := deps.logger()
	if deps.WaitTimeout <= 0 {
		logger.Warn("Signal sampling without wait timeout: an unresponsive thread stalls the sampler")
	}

	return &Signal{
		registry:    deps.Registry,
		probe:       probe,
		interrupter: deps.Interrupter,
		resolver:    deps.Resolver,
		symbolizer:  deps.Symbolizer,
		deps:        deps,
		logger:      logger,
		sess:        session{buf: buf},
		mem:         mem,
		done:        event.NewAutoReset(),
		timeout:     deps.WaitTimeout,
		threadID:    threadID,
	}, nil
}

// Name implements Strategy.
func (s *Signal) Name() string { return string(KindSignal) }

// BeforeSampleAllThreads implements Strategy. No global state is taken.
func (s *Signal) BeforeSampleAllThreads() bool { return true }

// AfterSampleAllThreads implements Strategy.
func (s *Signal) AfterSampleAllThreads() bool { return true }

// SampleThread interrupts the thread behind handle, waits for its handler
// to copy the stack, then unwinds and emits the copy.
func (s *Signal) SampleThread(handle host.ThreadHandle) bool {
	s.sampleMu.Lock()
	defer s.sampleMu.Unlock()

	rec, ok := s.registry.Lookup(handle)
	if !ok {
		s.unregistered(handle)
		return false
	}
	log := s.logger.WithFields(logrus.Fields{
		"handle": handle.String(),
		"tid":    rec.OSThreadID,
	})
	if rec.StackBase == 0 {
		log.Warn("Thread has no recorded stack base, skipping")
		return false
	}
	if s.probe.State(rec) == threadstate.Dead {
		log.Debug("Thread is dead, skipping")
		return false
	}

	s.sess.stackBase = rec.StackBase
	s.sess.tid = rec.OSThreadID
	s.done.Reset()
	if !s.slot.CompareAndSwap(nil, &s.sess) {
		// Only reachable if a handler from an abandoned sample is still
		// holding the session; SampleThread itself is serialized.
		log.Error("Sample session busy, skipping")
		return false
	}

	if err := s.interrupter.Interrupt(rec); err != nil {
		s.slot.Store(nil)
		log.WithError(err).Warn("Interrupt delivery failed")
		return false
	}

	if !s.done.WaitTimeout(s.timeout) {
		if s.slot.CompareAndSwap(&s.sess, nil) {
			log.WithField("timeout", s.timeout).Warn("Thread did not respond to interrupt, skipping")
			return false
		}
		// The handler claimed the session and is copying; it will finish.
		s.done.Wait()
	}

	buf := s.sess.buf
	frames := s.unwind(buf)
	log.WithFields(logrus.Fields{
		"captured": buf.Len(),
		"frames":   len(frames),
	}).Debug("Thread sampled")

	if err := s.deps.Sink.WriteStack(handle, frames); err != nil {
		log.WithError(err).Warn("Writing stack failed")
	}
	return buf.Len() > 0
}

// HandleInterrupt is the body of the interrupt handler and runs on the
// interrupted thread. regs are the thread's stack and frame pointer at the
// moment of interruption. It claims the staged session only if that session
// targets the calling thread, copies the stack and signals completion; any
// other interrupt, including one arriving after its sample timed out, is
// ignored.
//
// HandleInterrupt does not allocate, lock or perform I/O.
func (s *Signal) HandleInterrupt(regs capture.Registers) {
	s.HandleInterruptOn(s.threadID(), regs)
}

// HandleInterruptOn is HandleInterrupt for hosts whose trampoline already
// knows the OS thread id of the interrupted thread.
func (s *Signal) HandleInterruptOn(tid int, regs capture.Registers) {
	sess := s.slot.Load()
	if sess == nil || sess.tid != tid {
		return
	}
	if !s.slot.CompareAndSwap(sess, nil) {
		return
	}
	sess.buf.Capture(s.mem, sess.stackBase, regs)
	s.done.Set()
}

func (s *Signal) unwind(buf *capture.Buffer) []capture.Frame {
	var frames []capture.Frame
	buf.Walk(func(ret uintptr) bool {
		frames = append(frames, resolveFrame(s.resolver, s.symbolizer, ret))
		return true
	})
	return frames
}

// unregistered handles a sample request for a thread the registry has never
// seen. Threads are registered before they can be enumerated, so this is a
// bug in the host integration.
func (s *Signal) unregistered(handle host.ThreadHandle) {
	if s.deps.Strict {
		panic(fmt.Sprintf("stacksampler: thread %s sampled before registration", handle))
	}
	s.logger.WithField("handle", handle.String()).Error("Thread sampled before registration")
}
