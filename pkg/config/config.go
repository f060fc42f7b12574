// Package config loads sampler settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/danpilch/stacksampler/pkg/capture"
	"github.com/danpilch/stacksampler/pkg/output"
	"github.com/danpilch/stacksampler/pkg/sampler"
	"github.com/danpilch/stacksampler/pkg/strategy"
)

// Config holds every tunable of the sampler and its CLI.
type Config struct {
	Interval    time.Duration `yaml:"interval"`
	Strategy    string        `yaml:"strategy"`
	BufferSize  int           `yaml:"buffer_size"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
	Strict      bool          `yaml:"strict"`

	Output string `yaml:"output"` // file path; empty or "-" for stdout
	Format string `yaml:"format"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
	PprofAddr   string `yaml:"pprof_addr"`
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Interval:   sampler.DefaultInterval,
		Strategy:   string(strategy.KindPause),
		BufferSize: capture.DefaultCapacity,
		Format:     string(output.FormatText),
		LogLevel:   "warn",
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("cannot parse config %q: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail later.
func (c Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %v", c.Interval))
	}
	if _, err := strategy.ParseKind(c.Strategy); err != nil {
		errs = append(errs, err)
	}
	if c.BufferSize < capture.PointerSize {
		errs = append(errs, fmt.Errorf("buffer_size must be at least %d, got %d", capture.PointerSize, c.BufferSize))
	}
	if c.WaitTimeout < 0 {
		errs = append(errs, fmt.Errorf("wait_timeout must not be negative, got %v", c.WaitTimeout))
	}
	if _, err := output.ParseFormat(c.Format); err != nil {
		errs = append(errs, err)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Logger builds a logrus logger at the configured level.
func (c Config) Logger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	logger.SetLevel(level)
	return logger
}

// StrategyDeps returns strategy.Deps carrying the capture settings of c.
// Collaborators (runtime, sink, interrupter) are left for the caller.
func (c Config) StrategyDeps() strategy.Deps {
	return strategy.Deps{
		BufferSize:  c.BufferSize,
		WaitTimeout: c.WaitTimeout,
		Strict:      c.Strict,
	}
}
