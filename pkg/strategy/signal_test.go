package strategy

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/stacksampler/pkg/capture"
	"github.com/danpilch/stacksampler/pkg/host"
	"github.com/danpilch/stacksampler/pkg/host/hosttest"
	"github.com/danpilch/stacksampler/pkg/registry"
	"github.com/danpilch/stacksampler/pkg/symbols"
	"github.com/danpilch/stacksampler/pkg/threadstate"
)

const stackBase = uintptr(0x7ffd_0000_0000)

// fakeThread is a registered thread with a synthetic stack and the
// registers its handler will report.
type fakeThread struct {
	rec   registry.Record
	regs  capture.Registers
	state threadstate.State
}

// harness wires a Signal strategy to an interrupter that runs the handler
// on another goroutine, the way a real signal runs it on the target thread.
type harness struct {
	signal      *Signal
	registry    *registry.Registry
	sink        *hosttest.Sink
	resolver    *hosttest.Resolver
	threads     map[int]*fakeThread
	interrupts  atomic.Int32
	interruptFn func(rec registry.Record) error
}

func newHarness(t *testing.T, mem capture.StackMemory, syms symbols.Symbolizer, mutate func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		registry: registry.New(registry.IdentifierFunc(func() (registry.Record, error) {
			return registry.Record{}, registry.ErrNoIdentity
		}), nil),
		sink:     hosttest.NewSink(),
		resolver: hosttest.NewResolver(),
		threads:  make(map[int]*fakeThread),
	}
	h.interruptFn = func(rec registry.Record) error {
		th := h.threads[rec.OSThreadID]
		go h.signal.HandleInterruptOn(rec.OSThreadID, th.regs)
		return nil
	}

	deps := Deps{
		Registry: h.registry,
		Resolver: h.resolver,
		Sink:     h.sink,
		Probe: threadstate.ProbeFunc(func(rec registry.Record) threadstate.State {
			return h.threads[rec.OSThreadID].state
		}),
		Interrupter: InterrupterFunc(func(rec registry.Record) error {
			h.interrupts.Add(1)
			return h.interruptFn(rec)
		}),
		Memory:     mem,
		Symbolizer: syms,
		BufferSize: 64,
	}
	if mutate != nil {
		mutate(&deps)
	}
	s, err := NewSignal(deps)
	require.NoError(t, err)
	h.signal = s
	return h
}

func (h *harness) addThread(handle host.ThreadHandle, tid int, regs capture.Registers) {
	rec := registry.Record{NativeHandle: uint64(tid), OSThreadID: tid, StackBase: stackBase}
	h.threads[tid] = &fakeThread{rec: rec, regs: regs, state: threadstate.Running}
	h.registry.Insert(handle, rec)
}

func TestSignalEndToEndNativeFrame(t *testing.T) {
	const nativeAddr = uintptr(0x5555_0000_1234)

	stack := capture.NewSyntheticStack(stackBase, 64)
	fp := stackBase - 24
	stack.PutPointer(fp, stackBase-32) // next frame lies below the captured sp
	stack.PutPointer(fp+capture.PointerSize, nativeAddr)

	syms := symbols.SymbolizerFunc(func(addr uintptr) (symbols.Symbol, bool) {
		if addr == nativeAddr {
			return symbols.Symbol{Name: "epoll_wait", Offset: 0x34}, true
		}
		return symbols.Symbol{}, false
	})
	h := newHarness(t, stack, syms, nil)
	h.addThread(0x10, 100, capture.Registers{SP: stackBase - 24, FP: fp})

	require.True(t, h.signal.BeforeSampleAllThreads())
	require.True(t, h.signal.SampleThread(0x10))
	require.True(t, h.signal.AfterSampleAllThreads())

	frames, ok := h.sink.Last(0x10)
	require.True(t, ok)
	require.Len(t, frames, 1, "walk stops when the chain leaves the captured range")
	assert.Equal(t, capture.Native, frames[0].Kind)
	assert.Equal(t, "epoll_wait+0x34", frames[0].String())
	assert.Equal(t, int32(1), h.interrupts.Load())
}

func TestSignalResolvesManagedBeforeNative(t *testing.T) {
	stack := capture.NewSyntheticStack(stackBase, 64)
	f0, f1 := stackBase-64, stackBase-32
	stack.PutPointer(f0, f1)
	stack.PutPointer(f0+8, 0xAAA0)
	stack.PutPointer(f1, 0)
	stack.PutPointer(f1+8, 0xBBB0)

	h := newHarness(t, stack, symbols.SymbolizerFunc(func(addr uintptr) (symbols.Symbol, bool) {
		return symbols.Symbol{Name: "libfoo", Offset: 4}, true
	}), nil)
	h.resolver.Add(0xAAA0, 0xF00D, "App.Service.Handle")
	h.addThread(1, 1, capture.Registers{SP: f0, FP: f0})

	require.True(t, h.signal.SampleThread(1))
	frames, _ := h.sink.Last(1)
	require.Len(t, frames, 2)
	assert.Equal(t, "App.Service.Handle (identifier=0xF00D)", frames[0].String())
	assert.Equal(t, "libfoo+0x4", frames[1].String())
}

func TestSignalUnknownFrame(t *testing.T) {
	stack := capture.NewSyntheticStack(stackBase, 64)
	fp := stackBase - 16
	stack.PutPointer(fp, 0)
	stack.PutPointer(fp+8, 0x42)

	h := newHarness(t, stack, nil, nil)
	h.addThread(1, 1, capture.Registers{SP: fp, FP: fp})

	require.True(t, h.signal.SampleThread(1))
	frames, _ := h.sink.Last(1)
	require.Len(t, frames, 1)
	assert.Equal(t, "Unknown", frames[0].String())
	assert.Equal(t, uintptr(0x42), frames[0].IP)
}

func TestSignalSkipsDeadThreadWithoutInterrupt(t *testing.T) {
	h := newHarness(t, capture.NewSyntheticStack(stackBase, 64), nil, nil)
	h.addThread(1, 1, capture.Registers{SP: stackBase - 8})
	h.threads[1].state = threadstate.Dead

	assert.False(t, h.signal.SampleThread(1))
	assert.Equal(t, int32(0), h.interrupts.Load())
	assert.Equal(t, 0, h.sink.Count())
}

func TestSignalSuspendedThreadIsSampled(t *testing.T) {
	stack := capture.NewSyntheticStack(stackBase, 64)
	h := newHarness(t, stack, nil, nil)
	h.addThread(1, 1, capture.Registers{SP: stackBase - 32})
	h.threads[1].state = threadstate.Suspended

	assert.True(t, h.signal.SampleThread(1))
	assert.Equal(t, int32(1), h.interrupts.Load())
}

func TestSignalUnregisteredThread(t *testing.T) {
	h := newHarness(t, capture.NewSyntheticStack(stackBase, 64), nil, nil)
	assert.False(t, h.signal.SampleThread(99))
	assert.Equal(t, int32(0), h.interrupts.Load())

	strict := newHarness(t, capture.NewSyntheticStack(stackBase, 64), nil, func(d *Deps) {
		d.Strict = true
	})
	assert.Panics(t, func() { strict.signal.SampleThread(99) })
}

func TestSignalZeroStackBaseSkipped(t *testing.T) {
	h := newHarness(t, capture.NewSyntheticStack(stackBase, 64), nil, nil)
	h.registry.Insert(5, registry.Record{OSThreadID: 5})
	h.threads[5] = &fakeThread{state: threadstate.Running}

	assert.False(t, h.signal.SampleThread(5))
	assert.Equal(t, int32(0), h.interrupts.Load())
}

func TestSignalInterruptFailureReleasesSession(t *testing.T) {
	stack := capture.NewSyntheticStack(stackBase, 64)
	h := newHarness(t, stack, nil, nil)
	h.addThread(1, 1, capture.Registers{SP: stackBase - 16})

	deliver := h.interruptFn
	h.interruptFn = func(registry.Record) error { return errors.New("ESRCH") }
	assert.False(t, h.signal.SampleThread(1))

	h.interruptFn = deliver
	assert.True(t, h.signal.SampleThread(1), "a failed delivery must not leave the session staged")
}

func TestSignalWaitTimeout(t *testing.T) {
	stack := capture.NewSyntheticStack(stackBase, 64)
	h := newHarness(t, stack, nil, func(d *Deps) {
		d.WaitTimeout = 20 * time.Millisecond
	})
	h.addThread(1, 1, capture.Registers{SP: stackBase - 16})

	deliver := h.interruptFn
	h.interruptFn = func(registry.Record) error { return nil } // handler never runs
	assert.False(t, h.signal.SampleThread(1))

	// A late handler finds nothing staged and must not signal completion.
	h.signal.HandleInterruptOn(1, capture.Registers{SP: stackBase - 16})

	h.interruptFn = deliver
	assert.True(t, h.signal.SampleThread(1))
	assert.Equal(t, 1, h.sink.Count())
}

func TestSignalLateHandlerCannotClaimAnotherThreadsSession(t *testing.T) {
	const (
		base1 = stackBase
		base2 = stackBase - 0x1000
	)
	stack1 := capture.NewSyntheticStack(base1, 32)
	stack1.PutPointer(base1-16, 0)
	stack1.PutPointer(base1-8, 0xAAAA)
	stack2 := capture.NewSyntheticStack(base2, 32)
	stack2.PutPointer(base2-16, 0)
	stack2.PutPointer(base2-8, 0xBBBB)
	mem := capture.StackMemory(memoryFunc(func(dst []byte, addr uintptr) bool {
		if addr >= base2 {
			return stack1.Read(dst, addr)
		}
		return stack2.Read(dst, addr)
	}))

	h := newHarness(t, mem, nil, func(d *Deps) {
		d.WaitTimeout = 20 * time.Millisecond
	})
	regs1 := capture.Registers{SP: base1 - 16, FP: base1 - 16}
	regs2 := capture.Registers{SP: base2 - 16, FP: base2 - 16}
	h.addThread(1, 1, regs1)
	h.registry.Insert(2, registry.Record{NativeHandle: 2, OSThreadID: 2, StackBase: base2})
	h.threads[2] = &fakeThread{rec: registry.Record{OSThreadID: 2, StackBase: base2}, regs: regs2, state: threadstate.Running}

	deliver := h.interruptFn
	h.interruptFn = func(registry.Record) error { return nil }
	require.False(t, h.signal.SampleThread(1), "thread 1 never answers in time")

	// Thread 1's delayed signal lands while thread 2's sample is staged.
	h.interruptFn = func(rec registry.Record) error {
		h.signal.HandleInterruptOn(1, regs1)
		return deliver(rec)
	}
	require.True(t, h.signal.SampleThread(2))

	frames, ok := h.sink.Last(2)
	require.True(t, ok)
	require.Len(t, frames, 1)
	assert.Equal(t, uintptr(0xBBBB), frames[0].IP)
	_, ok = h.sink.Last(1)
	assert.False(t, ok)
}

func TestSignalHandleInterruptMatchesCallingThread(t *testing.T) {
	stack := capture.NewSyntheticStack(stackBase, 64)
	var current atomic.Int32
	h := newHarness(t, stack, nil, func(d *Deps) {
		d.ThreadID = func() int { return int(current.Load()) }
	})
	h.addThread(1, 7, capture.Registers{SP: stackBase - 16})
	h.interruptFn = func(rec registry.Record) error {
		go h.signal.HandleInterrupt(h.threads[rec.OSThreadID].regs)
		return nil
	}

	current.Store(7)
	assert.True(t, h.signal.SampleThread(1))
	assert.Equal(t, 16, h.signal.sess.buf.Len())
}

func TestNewSignalRequiresInterrupter(t *testing.T) {
	_, err := NewSignal(Deps{
		Registry: registry.New(nil, nil),
		Sink:     hosttest.NewSink(),
	})
	assert.ErrorIs(t, err, ErrNoInterrupter)
}

type memoryFunc func(dst []byte, addr uintptr) bool

func (f memoryFunc) Read(dst []byte, addr uintptr) bool { return f(dst, addr) }

func TestSignalSpuriousInterruptIgnored(t *testing.T) {
	stack := capture.NewSyntheticStack(stackBase, 64)
	h := newHarness(t, stack, nil, nil)
	h.addThread(1, 1, capture.Registers{SP: stackBase - 16})

	h.signal.HandleInterrupt(capture.Registers{SP: stackBase - 8})
	assert.True(t, h.signal.SampleThread(1))
	assert.Equal(t, 16, h.signal.sess.buf.Len(), "the staged sample is the one captured")
}

// trackingMemory records how many captures are copying at the same time.
type trackingMemory struct {
	inner    capture.StackMemory
	inFlight atomic.Int32
	peak     atomic.Int32
	reads    atomic.Int32
}

func (m *trackingMemory) Read(dst []byte, addr uintptr) bool {
	n := m.inFlight.Add(1)
	for {
		cur := m.peak.Load()
		if n <= cur || m.peak.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(200 * time.Microsecond)
	ok := m.inner.Read(dst, addr)
	m.reads.Add(1)
	m.inFlight.Add(-1)
	return ok
}

func TestSignalSingleFlightUnderConcurrentCallers(t *testing.T) {
	stack := capture.NewSyntheticStack(stackBase, 64)
	mem := &trackingMemory{inner: stack}
	h := newHarness(t, mem, nil, nil)
	for i := 1; i <= 4; i++ {
		h.addThread(host.ThreadHandle(i), i, capture.Registers{SP: stackBase - uintptr(8*i)})
	}

	const workers, perWorker = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				h.signal.SampleThread(host.ThreadHandle(1 + (w+i)%4))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int32(1), mem.peak.Load())
	assert.Equal(t, int32(workers*perWorker), mem.reads.Load())
	assert.Equal(t, workers*perWorker, h.sink.Count())
}

func TestSignalWithTextSink(t *testing.T) {
	stack := capture.NewSyntheticStack(stackBase, 64)
	fp := stackBase - 16
	stack.PutPointer(fp, 0)
	stack.PutPointer(fp+8, 0x1000)

	var out strings.Builder
	h := newHarness(t, stack, nil, func(d *Deps) {
		d.Sink = &lineSink{b: &out}
	})
	h.resolver.Add(0x1000, 0xC0DE, "App.Tick")
	h.addThread(0xA, 1, capture.Registers{SP: fp, FP: fp})

	require.True(t, h.signal.SampleThread(0xA))
	assert.Equal(t, "0xA App.Tick (identifier=0xC0DE)\n", out.String())
}

type lineSink struct{ b *strings.Builder }

func (s *lineSink) WriteStack(handle host.ThreadHandle, frames []capture.Frame) error {
	for _, f := range frames {
		s.b.WriteString(handle.String() + " " + f.String() + "\n")
	}
	return nil
}
