// Package strategy implements the two ways of capturing a thread's stack:
// pausing the whole runtime, or interrupting one thread at a time.
package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/stacksampler/pkg/capture"
	"github.com/danpilch/stacksampler/pkg/host"
	"github.com/danpilch/stacksampler/pkg/output"
	"github.com/danpilch/stacksampler/pkg/registry"
	"github.com/danpilch/stacksampler/pkg/symbols"
	"github.com/danpilch/stacksampler/pkg/threadstate"
)

// Strategy captures stacks during one sampling pass. Within a pass the
// calls are always Before, then SampleThread once per live thread, then
// After. If Before returns false the pass is abandoned and After is not
// called.
type Strategy interface {
	// Name returns the strategy kind.
	Name() string

	// BeforeSampleAllThreads prepares a pass.
	BeforeSampleAllThreads() bool

	// SampleThread captures, resolves and emits one thread's stack and
	// reports whether a stack was obtained.
	SampleThread(handle host.ThreadHandle) bool

	// AfterSampleAllThreads completes what Before started.
	AfterSampleAllThreads() bool
}

// Kind selects a strategy implementation.
type Kind string

const (
	KindPause  Kind = "pause"
	KindSignal Kind = "signal"
)

// ErrUnknownKind is returned by New for an unrecognized kind.
var ErrUnknownKind = errors.New("unknown strategy")

// ParseKind validates a strategy name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindPause, KindSignal:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w %q (want %q or %q)", ErrUnknownKind, s, KindPause, KindSignal)
	}
}

// Deps are the collaborators shared by both strategies. Fields a strategy
// does not use may be left nil.
type Deps struct {
	Runtime    host.RuntimeControl
	Resolver   host.NameResolver
	Symbolizer symbols.Symbolizer
	Sink       output.Sink
	Logger     *logrus.Logger

	// Signal strategy only.
	Registry    *registry.Registry
	Probe       threadstate.Probe
	Interrupter Interrupter
	ThreadID    func() int // OS thread id of the caller; defaults to gettid
	Memory      capture.StackMemory
	BufferSize  int
	WaitTimeout time.Duration
	Strict      bool
}

func (d *Deps) logger() *logrus.Logger {
	if d.Logger == nil {
		d.Logger = logrus.New()
		d.Logger.SetLevel(logrus.WarnLevel)
	}
	return d.Logger
}

// New builds the strategy of the given kind.
func New(kind Kind, deps Deps) (Strategy, error) {
	switch kind {
	case KindPause:
		return NewPause(deps)
	case KindSignal:
		return NewSignal(deps)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
}

// resolveFrame classifies a return address: managed if the host knows it,
// native if a symbol covers it, unknown otherwise.
func resolveFrame(resolver host.NameResolver, syms symbols.Symbolizer, ip uintptr) capture.Frame {
	if resolver != nil {
		if id, ok := resolver.ResolveFunction(ip); ok {
			return capture.Frame{
				IP:         ip,
				Kind:       capture.Managed,
				Name:       resolver.QualifiedName(id),
				FunctionID: uint64(id),
			}
		}
	}
	if syms != nil {
		if sym, ok := syms.Symbolize(ip); ok {
			return capture.Frame{
				IP:     ip,
				Kind:   capture.Native,
				Name:   sym.Name,
				Offset: sym.Offset,
			}
		}
	}
	return capture.Frame{IP: ip, Kind: capture.Unknown}
}
