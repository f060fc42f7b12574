// Package sampler drives periodic sampling passes and exposes the engine
// surface used by the embedding host.
package sampler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/stacksampler/pkg/event"
	"github.com/danpilch/stacksampler/pkg/host"
	"github.com/danpilch/stacksampler/pkg/strategy"
)

// DefaultInterval is the pause between sampling passes.
const DefaultInterval = 100 * time.Millisecond

// Outcome describes how a pass ended.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeNotStarted      Outcome = "not_started"
	OutcomeAborted         Outcome = "aborted"
	OutcomeEnumerateFailed Outcome = "enumerate_failed"
)

// PassResult summarizes one sampling pass.
type PassResult struct {
	Outcome  Outcome
	Threads  int
	Sampled  int
	Duration time.Duration
}

// Scheduler runs sampling passes on its own goroutine.
type Scheduler struct {
	runtime  host.RuntimeControl
	strategy strategy.Strategy
	gate     *event.Gate
	interval time.Duration
	logger   *logrus.Logger
	metrics  *Metrics
}

// NewScheduler creates a stopped scheduler. metrics may be nil.
func NewScheduler(rt host.RuntimeControl, strat strategy.Strategy, interval time.Duration, logger *logrus.Logger, metrics *Metrics) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Scheduler{
		runtime:  rt,
		strategy: strat,
		gate:     event.NewGate(),
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start lets passes run. It is idempotent.
func (s *Scheduler) Start() {
	s.gate.Open()
}

// Stop blocks the loop before its next pass until Start is called. A pass
// already in progress completes. It is idempotent.
func (s *Scheduler) Stop() {
	s.gate.Close()
}

// Running reports whether the gate is open.
func (s *Scheduler) Running() bool {
	return s.gate.IsOpen()
}

// Run loops until ctx is cancelled: sleep, wait for the gate, run a pass.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if err := s.gate.Wait(ctx); err != nil {
			return err
		}
		s.RunPass()
		timer.Reset(s.interval)
	}
}

// RunPass runs a single sampling pass across all live threads.
func (s *Scheduler) RunPass() PassResult {
	start := time.Now()
	result := s.pass()
	result.Duration = time.Since(start)
	s.metrics.observe(result)

	s.logger.WithFields(logrus.Fields{
		"strategy": s.strategy.Name(),
		"outcome":  result.Outcome,
		"threads":  result.Threads,
		"sampled":  result.Sampled,
		"duration": result.Duration,
	}).Debug("Sampling pass finished")
	return result
}

func (s *Scheduler) pass() PassResult {
	if !s.runtime.UserCodeStarted() {
		return PassResult{Outcome: OutcomeNotStarted}
	}
	if !s.strategy.BeforeSampleAllThreads() {
		return PassResult{Outcome: OutcomeAborted}
	}
	defer s.strategy.AfterSampleAllThreads()

	handles, err := s.runtime.EnumerateLiveThreads()
	if err != nil {
		s.logger.WithError(err).Warn("Enumerating live threads failed, skipping pass")
		return PassResult{Outcome: OutcomeEnumerateFailed}
	}

	result := PassResult{Outcome: OutcomeCompleted, Threads: len(handles)}
	for _, h := range handles {
		if s.strategy.SampleThread(h) {
			result.Sampled++
		}
	}
	return result
}
