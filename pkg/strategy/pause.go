package strategy

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/stacksampler/pkg/capture"
	"github.com/danpilch/stacksampler/pkg/host"
)

// Pause stops all managed execution for the duration of a pass and walks
// each thread's managed stack through the host. Nothing runs while stacks
// are read, at the price of stalling every application thread.
type Pause struct {
	runtime  host.RuntimeControl
	resolver host.NameResolver
	deps     Deps
	logger   *logrus.Logger
}

// NewPause creates the global-pause strategy.
func NewPause(deps Deps) (*Pause, error) {
	if deps.Runtime == nil {
		return nil, errors.New("pause strategy requires a runtime")
	}
	if deps.Resolver == nil {
		return nil, errors.New("pause strategy requires a name resolver")
	}
	if deps.Sink == nil {
		return nil, errors.New("pause strategy requires a sink")
	}
	logger := deps.logger()
	return &Pause{
		runtime:  deps.Runtime,
		resolver: deps.Resolver,
		deps:     deps,
		logger:   logger,
	}, nil
}

// Name implements Strategy.
func (p *Pause) Name() string { return string(KindPause) }

// BeforeSampleAllThreads pauses the runtime. A failed pause leaves nothing
// to undo.
func (p *Pause) BeforeSampleAllThreads() bool {
	if err := p.runtime.PauseAllExecution(); err != nil {
		p.logger.WithError(err).Warn("Pause all execution failed, skipping pass")
		return false
	}
	return true
}

// SampleThread walks the managed frames of handle. A thread without
// managed frames is emitted as an empty stack.
func (p *Pause) SampleThread(handle host.ThreadHandle) bool {
	var frames []capture.Frame
	err := p.runtime.WalkManagedStack(handle, func(fi host.FrameInfo) bool {
		if fi.FunctionID == 0 {
			frames = append(frames, resolveFrame(p.resolver, p.deps.Symbolizer, fi.IP))
			return true
		}
		frames = append(frames, capture.Frame{
			IP:         fi.IP,
			Kind:       capture.Managed,
			Name:       p.resolver.QualifiedName(fi.FunctionID),
			FunctionID: uint64(fi.FunctionID),
		})
		return true
	})
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"handle": handle.String(),
			"error":  err,
		}).Warn("Managed stack walk failed")
		return false
	}

	if err := p.deps.Sink.WriteStack(handle, frames); err != nil {
		p.logger.WithError(err).Warn("Writing stack failed")
	}
	return len(frames) > 0
}

// AfterSampleAllThreads resumes the runtime. A failed resume is reported
// and not retried.
func (p *Pause) AfterSampleAllThreads() bool {
	if err := p.runtime.ResumeAllExecution(); err != nil {
		p.logger.WithError(err).Error("Resume all execution failed")
		return false
	}
	return true
}
