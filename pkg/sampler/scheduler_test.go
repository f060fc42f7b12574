package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/stacksampler/pkg/host"
	"github.com/danpilch/stacksampler/pkg/host/hosttest"
)

// scriptedStrategy records the calls made by the scheduler.
type scriptedStrategy struct {
	mu         sync.Mutex
	calls      []string
	failBefore bool
	sampleOK   map[host.ThreadHandle]bool
	passes     chan struct{}
}

func newScripted() *scriptedStrategy {
	return &scriptedStrategy{
		sampleOK: make(map[host.ThreadHandle]bool),
		passes:   make(chan struct{}, 100),
	}
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) BeforeSampleAllThreads() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "before")
	return !s.failBefore
}

func (s *scriptedStrategy) SampleThread(h host.ThreadHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "sample:"+h.String())
	return s.sampleOK[h]
}

func (s *scriptedStrategy) AfterSampleAllThreads() bool {
	s.mu.Lock()
	s.calls = append(s.calls, "after")
	s.mu.Unlock()
	select {
	case s.passes <- struct{}{}:
	default:
	}
	return true
}

func (s *scriptedStrategy) log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func TestRunPassOrdersCalls(t *testing.T) {
	rt := hosttest.NewRuntime()
	rt.Stacks[1] = nil
	rt.Stacks[2] = nil
	rt.Stacks[3] = nil
	strat := newScripted()
	strat.sampleOK[1] = true
	strat.sampleOK[3] = true

	s := NewScheduler(rt, strat, time.Millisecond, nil, nil)
	result := s.RunPass()

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 3, result.Threads)
	assert.Equal(t, 2, result.Sampled, "a failed thread does not abort the pass")
	assert.Equal(t, []string{"before", "sample:0x1", "sample:0x2", "sample:0x3", "after"}, strat.log())
}

func TestRunPassSkipsBeforeUserCode(t *testing.T) {
	rt := hosttest.NewRuntime()
	rt.SetStarted(false)
	strat := newScripted()

	result := NewScheduler(rt, strat, 0, nil, nil).RunPass()

	assert.Equal(t, OutcomeNotStarted, result.Outcome)
	assert.Empty(t, strat.log())
	assert.NotContains(t, rt.CallLog(), "enumerate")
}

func TestRunPassBeforeFailureAbandonsPass(t *testing.T) {
	rt := hosttest.NewRuntime()
	rt.Stacks[1] = nil
	strat := newScripted()
	strat.failBefore = true

	result := NewScheduler(rt, strat, 0, nil, nil).RunPass()

	assert.Equal(t, OutcomeAborted, result.Outcome)
	assert.Equal(t, []string{"before"}, strat.log(), "no After without a successful Before")
	assert.NotContains(t, rt.CallLog(), "enumerate")
}

func TestRunPassEnumerateFailureStillCompletesBracket(t *testing.T) {
	rt := hosttest.NewRuntime()
	rt.FailEnumerate = true
	strat := newScripted()

	result := NewScheduler(rt, strat, 0, nil, nil).RunPass()

	assert.Equal(t, OutcomeEnumerateFailed, result.Outcome)
	assert.Equal(t, []string{"before", "after"}, strat.log())
}

func TestRunHonorsGate(t *testing.T) {
	rt := hosttest.NewRuntime()
	rt.Stacks[1] = nil
	strat := newScripted()
	s := NewScheduler(rt, strat, 2*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case <-strat.passes:
		t.Fatal("pass ran before Start")
	case <-time.After(30 * time.Millisecond):
	}

	s.Start()
	s.Start()
	select {
	case <-strat.passes:
	case <-time.After(time.Second):
		t.Fatal("no pass after Start")
	}

	s.Stop()
	s.Stop()
	// Drain a pass that may have been in flight when Stop was called.
	time.Sleep(20 * time.Millisecond)
	for len(strat.passes) > 0 {
		<-strat.passes
	}
	select {
	case <-strat.passes:
		t.Fatal("pass ran after Stop")
	case <-time.After(30 * time.Millisecond):
	}
	assert.False(t, s.Running())

	cancel()
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMetricsObservePasses(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	rt := hosttest.NewRuntime()
	rt.Stacks[1] = nil
	rt.Stacks[2] = nil
	strat := newScripted()
	strat.sampleOK[2] = true
	s := NewScheduler(rt, strat, 0, nil, metrics)

	s.RunPass()
	s.RunPass()
	rt.SetStarted(false)
	s.RunPass()

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Passes.WithLabelValues(string(OutcomeCompleted))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Passes.WithLabelValues(string(OutcomeNotStarted))))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Samples.WithLabelValues("sampled")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Samples.WithLabelValues("skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.LiveThreads))

	count, err := testutil.GatherAndCount(reg, "stacksampler_pass_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
