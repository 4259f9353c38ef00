// Package config provides pipeline configuration with documented
// defaults, an optional YAML overlay, and normalization.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ResumeFrom values accepted by the resume subcommand.
const (
	ResumeNone        = ""
	ResumeExecution   = "execution"
	ResumeAggregation = "aggregation"
)

const (
	defaultScaleCommand   = "scalerte {input}"
	defaultLibrary        = "end7dec"
	defaultRootDir        = "runs"
	defaultExecWorkers    = 8
	defaultGenWorkers     = 4
	defaultParseWorkers   = 16
	defaultUnitTimeout    = 90 * time.Minute
	defaultCleanupLevel   = "minimal"
	defaultAbortThreshold = 0.5
)

// WorkersConfig bounds per-stage pool sizes.
type WorkersConfig struct {
	Generate int `yaml:"generate"`
	Execute  int `yaml:"execute"`
	Parse    int `yaml:"parse"`
}

// Config is the full pipeline configuration. It is built once at
// startup and passed by value; nothing mutates it after Normalize.
type Config struct {
	RunName        string        `yaml:"run_name"`
	RootDir        string        `yaml:"root"`
	RunDir         string        `yaml:"-"`
	FluxPath       string        `yaml:"flux_json"`
	PowerCardsPath string        `yaml:"power_cards"`
	ScaleCommand   string        `yaml:"scale_command"`
	Library        string        `yaml:"library"`
	VolumeCC       float64       `yaml:"volume_cc"`
	Workers        WorkersConfig `yaml:"workers"`
	UnitTimeoutRaw string        `yaml:"unit_timeout"`
	UnitTimeout    time.Duration `yaml:"-"`
	CleanupLevel   string        `yaml:"cleanup"`
	AbortThreshold float64       `yaml:"abort_threshold"`
	ResumeFrom     string        `yaml:"-"`
}

// Defaults returns the documented configuration defaults.
//
// Defaults:
// - scale_command: "scalerte {input}"
// - library: "end7dec"
// - root: "runs"
// - workers: {generate: 4, execute: 8, parse: 16}
// - unit_timeout: 90m
// - cleanup: "minimal"
// - abort_threshold: 0.5
func Defaults() Config {
	return Config{
		RootDir:      defaultRootDir,
		ScaleCommand: defaultScaleCommand,
		Library:      defaultLibrary,
		Workers: WorkersConfig{
			Generate: defaultGenWorkers,
			Execute:  defaultExecWorkers,
			Parse:    defaultParseWorkers,
		},
		UnitTimeout:    defaultUnitTimeout,
		CleanupLevel:   defaultCleanupLevel,
		AbortThreshold: defaultAbortThreshold,
	}
}

// Load merges defaults with an optional YAML file. A missing file is
// not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if strings.TrimSpace(cfg.UnitTimeoutRaw) != "" {
		timeout, err := time.ParseDuration(cfg.UnitTimeoutRaw)
		if err != nil {
			return Config{}, fmt.Errorf("parse config %s: unit_timeout %q: %w", path, cfg.UnitTimeoutRaw, err)
		}
		cfg.UnitTimeout = timeout
	}
	return cfg, nil
}

// Normalize fills missing or invalid values with defaults, emitting a
// warning for each correction.
func Normalize(cfg Config, warn func(string)) Config {
	defaults := Defaults()

	cfg.RootDir = normalizeString(cfg.RootDir, defaults.RootDir, "root", warn)
	cfg.ScaleCommand = normalizeString(cfg.ScaleCommand, defaults.ScaleCommand, "scale_command", warn)
	cfg.Library = normalizeString(cfg.Library, defaults.Library, "library", warn)
	cfg.Workers.Generate = normalizePositiveInt(cfg.Workers.Generate, defaults.Workers.Generate, "workers.generate", warn)
	cfg.Workers.Execute = normalizePositiveInt(cfg.Workers.Execute, defaults.Workers.Execute, "workers.execute", warn)
	cfg.Workers.Parse = normalizePositiveInt(cfg.Workers.Parse, defaults.Workers.Parse, "workers.parse", warn)

	if cfg.UnitTimeout <= 0 {
		emitWarning(warn, fmt.Sprintf("unit_timeout %s is not positive, using %s", cfg.UnitTimeout, defaults.UnitTimeout))
		cfg.UnitTimeout = defaults.UnitTimeout
	}
	if cfg.AbortThreshold <= 0 || cfg.AbortThreshold > 1 {
		emitWarning(warn, fmt.Sprintf("abort_threshold %g is outside (0,1], using %g", cfg.AbortThreshold, defaults.AbortThreshold))
		cfg.AbortThreshold = defaults.AbortThreshold
	}
	return cfg
}

// Validate checks run-mode requirements that have no sensible default.
func (c Config) Validate() error {
	if c.ResumeFrom != ResumeNone {
		if c.ResumeFrom != ResumeExecution && c.ResumeFrom != ResumeAggregation {
			return fmt.Errorf("resume point must be %q or %q, got %q", ResumeExecution, ResumeAggregation, c.ResumeFrom)
		}
		if strings.TrimSpace(c.RunDir) == "" {
			return errors.New("run directory is required for resume")
		}
		return nil
	}

	if strings.TrimSpace(c.FluxPath) == "" {
		return errors.New("flux data path is required")
	}
	if strings.TrimSpace(c.PowerCardsPath) == "" {
		return errors.New("power cards path is required")
	}
	return nil
}

// normalizeString falls back to the default for blank values.
func normalizeString(value string, fallback string, field string, warn func(string)) string {
	if strings.TrimSpace(value) == "" {
		emitWarning(warn, fmt.Sprintf("%s is empty, using %q", field, fallback))
		return fallback
	}
	return value
}

// normalizePositiveInt falls back to the default for non-positive values.
func normalizePositiveInt(value int, fallback int, field string, warn func(string)) int {
	if value < 1 {
		emitWarning(warn, fmt.Sprintf("%s %d is not positive, using %d", field, value, fallback))
		return fallback
	}
	return value
}

// emitWarning sends a warning to the configured sink.
func emitWarning(warn func(string), message string) {
	if warn == nil {
		return
	}
	warn(message)
}
