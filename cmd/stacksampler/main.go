// Command stacksampler samples the stacks of its own goroutines and reports
// on the threads of the current process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/danpilch/stacksampler/pkg/config"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	g := new(globalFlags)
	root := &cobra.Command{
		Use:           "stacksampler [command]",
		Short:         "Asynchronous stack sampling engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (overrides config)")
	root.AddCommand(
		newRunCommand(g),
		newThreadsCommand(g),
		newBenchCommand(g),
	)
	return root
}

// load reads the config file, if any, and applies flags the user set
// explicitly on top of it.
func (g *globalFlags) load(flags *pflag.FlagSet, apply func(*config.Config, *pflag.FlagSet)) (config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return cfg, err
		}
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if apply != nil {
		apply(&cfg, flags)
	}
	return cfg, cfg.Validate()
}
