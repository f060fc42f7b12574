package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/danpilch/stacksampler/pkg/benchmark"
	"github.com/danpilch/stacksampler/pkg/config"
	"github.com/danpilch/stacksampler/pkg/goruntime"
	"github.com/danpilch/stacksampler/pkg/output"
	"github.com/danpilch/stacksampler/pkg/sampler"
	"github.com/danpilch/stacksampler/pkg/strategy"
	"github.com/danpilch/stacksampler/pkg/symbols"
)

func newBenchCommand(g *globalFlags) *cobra.Command {
	opts := benchmark.DefaultOptions()
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure sampling pass latency against this process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd.Flags(), nil)
			if err != nil {
				return err
			}
			targets, err := benchTargets(cfg)
			if err != nil {
				return err
			}
			results := benchmark.Run(targets, opts)
			benchmark.RenderResults(cmd.OutOrStdout(), results, benchmark.MeasureOverhead())
			return nil
		},
	}
	cmd.Flags().IntVarP(&opts.Iterations, "iterations", "n", opts.Iterations, "measured passes per target")
	cmd.Flags().IntVar(&opts.Warmup, "warmup", opts.Warmup, "unmeasured passes per target")
	return cmd
}

// benchTargets builds one pause engine per symbolizer configuration. Stacks
// are discarded so only the sampling path is measured.
func benchTargets(cfg config.Config) ([]benchmark.Target, error) {
	native, err := symbols.NewDefault()
	if err != nil {
		native = symbols.GoRuntime{}
	}
	configs := []struct {
		name string
		syms symbols.Symbolizer
	}{
		{"goroutines/none", nil},
		{"goroutines/symbols", native},
	}

	var targets []benchmark.Target
	for _, c := range configs {
		rt := goruntime.New()
		deps := cfg.StrategyDeps()
		deps.Runtime = rt
		deps.Resolver = rt
		deps.Symbolizer = c.syms
		deps.Sink = output.NewWriter(output.FormatText, io.Discard)
		deps.Logger = cfg.Logger()
		engine, err := sampler.NewEngine(sampler.Options{
			Kind:     strategy.KindPause,
			Interval: cfg.Interval,
			Deps:     deps,
		})
		if err != nil {
			return nil, err
		}
		targets = append(targets, benchmark.Target{Name: c.name, Passer: engine})
	}
	return targets, nil
}
