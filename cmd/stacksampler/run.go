package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/danpilch/stacksampler/pkg/config"
	"github.com/danpilch/stacksampler/pkg/debug"
	"github.com/danpilch/stacksampler/pkg/goruntime"
	"github.com/danpilch/stacksampler/pkg/output"
	"github.com/danpilch/stacksampler/pkg/sampler"
	"github.com/danpilch/stacksampler/pkg/strategy"
	"github.com/danpilch/stacksampler/pkg/symbols"
)

type runFlags struct {
	duration time.Duration
	interval time.Duration
	output   string
	format   string
	metrics  string
	pprof    string
	timing   bool
}

func newRunCommand(g *globalFlags) *cobra.Command {
	f := new(runFlags)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sample this process's goroutine stacks periodically",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd.Flags(), f.apply)
			if err != nil {
				return err
			}
			return runSampler(cmd.Context(), cfg, f, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().DurationVarP(&f.interval, "interval", "i", sampler.DefaultInterval, "pause between sampling passes")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write stacks to this file instead of stdout")
	cmd.Flags().StringVarP(&f.format, "format", "f", string(output.FormatText), "stack format: text or table")
	cmd.Flags().StringVar(&f.metrics, "metrics", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&f.pprof, "pprof", "", "serve pprof endpoints on this address")
	cmd.Flags().BoolVar(&f.timing, "timing", false, "print per-operation strategy timings on exit")
	return cmd
}

func (f *runFlags) apply(cfg *config.Config, flags *pflag.FlagSet) {
	if flags.Changed("interval") {
		cfg.Interval = f.interval
	}
	if flags.Changed("output") {
		cfg.Output = f.output
	}
	if flags.Changed("format") {
		cfg.Format = f.format
	}
	if flags.Changed("metrics") {
		cfg.MetricsAddr = f.metrics
	}
	if flags.Changed("pprof") {
		cfg.PprofAddr = f.pprof
	}
}

func runSampler(ctx context.Context, cfg config.Config, f *runFlags, stdout io.Writer) error {
	logger := cfg.Logger()

	kind, _ := strategy.ParseKind(cfg.Strategy)
	if kind != strategy.KindPause {
		// Goroutines have no registered OS thread to interrupt.
		return fmt.Errorf("strategy %q requires an embedding host; the CLI only supports %q", kind, strategy.KindPause)
	}

	out := stdout
	if cfg.Output != "" && cfg.Output != "-" {
		file, err := os.Create(cfg.Output)
		if err != nil {
			return fmt.Errorf("cannot create output: %w", err)
		}
		defer file.Close()
		out = file
	}
	format, _ := output.ParseFormat(cfg.Format)
	sink := output.NewWriter(format, out)

	syms, err := symbols.NewDefault()
	if err != nil {
		logger.WithError(err).Warn("Native symbolization disabled")
		syms = symbols.GoRuntime{}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	var timed *debug.TimedStrategy
	rt := goruntime.New()
	deps := cfg.StrategyDeps()
	deps.Runtime = rt
	deps.Resolver = rt
	deps.Symbolizer = syms
	deps.Sink = sink
	deps.Logger = logger
	engine, err := sampler.NewEngine(sampler.Options{
		Kind:       kind,
		Interval:   cfg.Interval,
		Deps:       deps,
		Registerer: reg,
		Wrap: func(s strategy.Strategy) strategy.Strategy {
			timed = debug.NewTimedStrategy(s)
			return timed
		},
	})
	if err != nil {
		return err
	}

	stops, err := startServers(cfg, reg, logger)
	defer func() {
		for _, stop := range stops {
			stop()
		}
	}()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if f.duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.duration)
		defer cancel()
	}

	engine.Start()
	err = engine.Run(ctx)
	logger.WithField("stacks", sink.Stacks()).Info("Sampling finished")

	if f.timing {
		debug.TimingReport(os.Stderr, timed.Name(), timed.Timings())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func startServers(cfg config.Config, reg *prometheus.Registry, logger *logrus.Logger) ([]func(), error) {
	var stops []func()
	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	if cfg.PprofAddr != "" {
		extra := map[string]http.Handler{}
		if cfg.MetricsAddr == cfg.PprofAddr {
			extra["/metrics"] = metricsHandler
		}
		_, stop, err := debug.StartServer(cfg.PprofAddr, extra, logger)
		if err != nil {
			return stops, err
		}
		stops = append(stops, stop)
	}
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.PprofAddr {
		_, stop, err := debug.StartServer(cfg.MetricsAddr, map[string]http.Handler{"/metrics": metricsHandler}, logger)
		if err != nil {
			return stops, err
		}
		stops = append(stops, stop)
	}
	return stops, nil
}
