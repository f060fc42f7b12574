// Package debug provides instrumentation for the sampler itself.
package debug

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/danpilch/stacksampler/pkg/host"
	"github.com/danpilch/stacksampler/pkg/strategy"
)

var (
	debugTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	debugHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	debugDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Timing accumulates the latency of one strategy operation.
type Timing struct {
	Operation string
	Calls     int
	Total     time.Duration
	Max       time.Duration
}

// Mean returns the average call duration.
func (t Timing) Mean() time.Duration {
	if t.Calls == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Calls)
}

func (t *Timing) add(d time.Duration) {
	t.Calls++
	t.Total += d
	if d > t.Max {
		t.Max = d
	}
}

// TimedStrategy wraps a strategy to record how long each operation takes.
type TimedStrategy struct {
	inner strategy.Strategy

	mu     sync.Mutex
	before Timing
	sample Timing
	after  Timing
}

// NewTimedStrategy wraps s with timing instrumentation.
func NewTimedStrategy(s strategy.Strategy) *TimedStrategy {
	return &TimedStrategy{
		inner:  s,
		before: Timing{Operation: "before"},
		sample: Timing{Operation: "sample"},
		after:  Timing{Operation: "after"},
	}
}

// Name returns the wrapped strategy's name.
func (t *TimedStrategy) Name() string {
	return t.inner.Name()
}

// BeforeSampleAllThreads implements strategy.Strategy.
func (t *TimedStrategy) BeforeSampleAllThreads() bool {
	start := time.Now()
	ok := t.inner.BeforeSampleAllThreads()
	t.record(&t.before, time.Since(start))
	return ok
}

// SampleThread implements strategy.Strategy.
func (t *TimedStrategy) SampleThread(h host.ThreadHandle) bool {
	start := time.Now()
	ok := t.inner.SampleThread(h)
	t.record(&t.sample, time.Since(start))
	return ok
}

// AfterSampleAllThreads implements strategy.Strategy.
func (t *TimedStrategy) AfterSampleAllThreads() bool {
	start := time.Now()
	ok := t.inner.AfterSampleAllThreads()
	t.record(&t.after, time.Since(start))
	return ok
}

func (t *TimedStrategy) record(timing *Timing, d time.Duration) {
	t.mu.Lock()
	timing.add(d)
	t.mu.Unlock()
}

// Timings returns a copy of the recorded timings.
func (t *TimedStrategy) Timings() []Timing {
	t.mu.Lock()
	defer t.mu.Unlock()
	return []Timing{t.before, t.sample, t.after}
}

// TimingReport prints a styled timing summary.
func TimingReport(w io.Writer, strategyName string, timings []Timing) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, debugTitle.Render("Strategy Timing Report ("+strategyName+")"))
	fmt.Fprintln(w, debugDim.Render(strings.Repeat("═", 60)))
	fmt.Fprintf(w, "  %s  %s  %s  %s\n",
		debugHeader.Render("OPERATION "),
		debugHeader.Render("CALLS   "),
		debugHeader.Render("MEAN        "),
		debugHeader.Render("MAX         "))
	fmt.Fprintln(w, "  "+debugDim.Render(strings.Repeat("─", 60)))

	var total time.Duration
	for _, t := range timings {
		fmt.Fprintf(w, "  %-12s %-10d %-14v %v\n", t.Operation, t.Calls, t.Mean(), t.Max)
		total += t.Total
	}
	fmt.Fprintln(w, "  "+debugDim.Render(strings.Repeat("─", 60)))
	fmt.Fprintf(w, "  %-12s %v\n",
		lipgloss.NewStyle().Bold(true).Render("TOTAL"), total)
}
