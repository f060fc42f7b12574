package sampler

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/danpilch/stacksampler/pkg/capture"
	"github.com/danpilch/stacksampler/pkg/host"
	"github.com/danpilch/stacksampler/pkg/registry"
	"github.com/danpilch/stacksampler/pkg/strategy"
)

// Options configures an Engine.
type Options struct {
	Kind     strategy.Kind
	Interval time.Duration
	Deps     strategy.Deps

	// Registerer receives the engine's metrics; nil disables registration.
	Registerer prometheus.Registerer

	// Wrap, if set, decorates the strategy before it is handed to the
	// scheduler.
	Wrap func(strategy.Strategy) strategy.Strategy
}

// Engine is the surface exposed to the embedding host: the start/stop gate,
// the thread lifecycle feed and, for signal sampling, the interrupt handler
// entry point.
type Engine struct {
	scheduler *Scheduler
	registry  *registry.Registry
	strategy  strategy.Strategy
	signal    *strategy.Signal
	metrics   *Metrics
	logger    *logrus.Logger
}

// NewEngine builds the registry (unless provided), the strategy selected by
// opts.Kind and a stopped scheduler.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Deps.Runtime == nil {
		return nil, errors.New("engine requires a runtime")
	}
	logger := opts.Deps.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		opts.Deps.Logger = logger
	}
	if opts.Deps.Registry == nil {
		opts.Deps.Registry = registry.New(nil, logger)
	}

	strat, err := strategy.New(opts.Kind, opts.Deps)
	if err != nil {
		return nil, err
	}
	sig, _ := strat.(*strategy.Signal)
	if opts.Wrap != nil {
		strat = opts.Wrap(strat)
	}

	metrics := NewMetrics(opts.Registerer)
	logger.WithFields(logrus.Fields{
		"strategy": strat.Name(),
		"interval": opts.Interval,
	}).Info("Sampling engine created")

	return &Engine{
		scheduler: NewScheduler(opts.Deps.Runtime, strat, opts.Interval, logger, metrics),
		registry:  opts.Deps.Registry,
		strategy:  strat,
		signal:    sig,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Start enables sampling.
func (e *Engine) Start() { e.scheduler.Start() }

// Stop pauses sampling after the current pass.
func (e *Engine) Stop() { e.scheduler.Stop() }

// Running reports whether sampling is enabled.
func (e *Engine) Running() bool { return e.scheduler.Running() }

// Run drives the sampling loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error { return e.scheduler.Run(ctx) }

// RunPass runs one pass immediately, regardless of the gate.
func (e *Engine) RunPass() PassResult { return e.scheduler.RunPass() }

// OnThreadCreated registers the calling thread under handle.
func (e *Engine) OnThreadCreated(handle host.ThreadHandle) error {
	return e.registry.OnThreadCreated(handle)
}

// OnThreadDestroyed forwards a thread-exit event to the registry.
func (e *Engine) OnThreadDestroyed(handle host.ThreadHandle) {
	e.registry.OnThreadDestroyed(handle)
}

// HandleInterrupt must be called from the interrupt handler of a thread
// interrupted for signal sampling. It is a no-op for other strategies.
func (e *Engine) HandleInterrupt(regs capture.Registers) {
	if e.signal != nil {
		e.signal.HandleInterrupt(regs)
	}
}

// HandleInterruptOn is HandleInterrupt for a trampoline that already knows
// the interrupted thread's OS id.
func (e *Engine) HandleInterruptOn(tid int, regs capture.Registers) {
	if e.signal != nil {
		e.signal.HandleInterruptOn(tid, regs)
	}
}

// Registry returns the thread registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Strategy returns the active, possibly wrapped, strategy.
func (e *Engine) Strategy() strategy.Strategy { return e.strategy }

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *Metrics { return e.metrics }
