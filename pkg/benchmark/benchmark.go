// Package benchmark measures the latency of sampling passes to validate
// the sampler's own overhead.
package benchmark

import (
	"fmt"
	"io"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/danpilch/stacksampler/pkg/sampler"
)

// Options configures a benchmark run.
type Options struct {
	Iterations int
	Warmup     int
}

// DefaultOptions returns sensible benchmark defaults.
func DefaultOptions() Options {
	return Options{
		Iterations: 20,
		Warmup:     3,
	}
}

// Passer runs a single sampling pass. *sampler.Engine and
// *sampler.Scheduler both satisfy it.
type Passer interface {
	RunPass() sampler.PassResult
}

// Target is a named pass source.
type Target struct {
	Name   string
	Passer Passer
}

// Result holds benchmark results for a single target.
type Result struct {
	Target        string
	Latencies     []time.Duration // sorted ascending
	Trend         string
	P50           time.Duration
	P95           time.Duration
	P99           time.Duration
	Incomplete    int
	MeanThreads   float64
	ThreadsStdDev float64
}

// Overhead holds the tool's own resource usage.
type Overhead struct {
	AllocBytes uint64
	AllocCount uint64
	GCPauses   uint32
}

var (
	bmTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	bmHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	bmDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Run benchmarks each target with the given options.
func Run(targets []Target, opts Options) []Result {
	var results []Result

	for _, tgt := range targets {
		for i := 0; i < opts.Warmup; i++ {
			tgt.Passer.RunPass()
		}

		latencies := make([]time.Duration, opts.Iterations)
		var threads []float64
		incomplete := 0

		for i := 0; i < opts.Iterations; i++ {
			start := time.Now()
			res := tgt.Passer.RunPass()
			latencies[i] = time.Since(start)

			if res.Outcome != sampler.OutcomeCompleted {
				incomplete++
				continue
			}
			threads = append(threads, float64(res.Threads))
		}

		trend := sparkline(latencies)
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		results = append(results, Result{
			Target:        tgt.Name,
			Latencies:     latencies,
			Trend:         trend,
			P50:           percentile(latencies, 0.50),
			P95:           percentile(latencies, 0.95),
			P99:           percentile(latencies, 0.99),
			Incomplete:    incomplete,
			MeanThreads:   mean(threads),
			ThreadsStdDev: stddev(threads),
		})
	}

	return results
}

// MeasureOverhead returns the tool's memory overhead so far.
func MeasureOverhead() Overhead {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Overhead{
		AllocBytes: m.TotalAlloc,
		AllocCount: m.Mallocs,
		GCPauses:   m.NumGC,
	}
}

// RenderResults outputs styled benchmark results.
func RenderResults(w io.Writer, results []Result, overhead Overhead) {
	fmt.Fprintln(w, bmTitle.Render("Sampling Pass Benchmark"))
	fmt.Fprintln(w, bmDim.Render(strings.Repeat("═", 78)))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s %s %s %s %s\n",
		bmHeader.Render("TARGET            "),
		bmHeader.Render("P50        "),
		bmHeader.Render("P95        "),
		bmHeader.Render("P99        "),
		bmHeader.Render("THREADS      "),
		bmHeader.Render("FAILED"))
	fmt.Fprintln(w, "  "+bmDim.Render(strings.Repeat("─", 78)))

	for _, r := range results {
		fmt.Fprintf(w, "  %-20s %-12v %-12v %-12v %-14s %d\n",
			r.Target, r.P50, r.P95, r.P99,
			fmt.Sprintf("%.1f±%.1f", r.MeanThreads, r.ThreadsStdDev),
			r.Incomplete)
		if r.Trend != "" {
			fmt.Fprintf(w, "  %-20s %s\n", "", bmDim.Render(r.Trend))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, bmTitle.Render("Tool Overhead"))
	fmt.Fprintln(w, bmDim.Render(strings.Repeat("─", 40)))
	fmt.Fprintf(w, "  Memory allocated: %s\n", lipgloss.NewStyle().Bold(true).Render(formatBytes(overhead.AllocBytes)))
	fmt.Fprintf(w, "  Allocations:      %s\n", lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%d", overhead.AllocCount)))
	fmt.Fprintf(w, "  GC pauses:        %s\n", lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%d", overhead.GCPauses)))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum, sumSq float64
	for _, v := range values {
		sum += v
		sumSq += v * v
	}
	n := float64(len(values))
	m := sum / n
	variance := (sumSq / n) - (m * m)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
