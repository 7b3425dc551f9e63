package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/offload/internal/delegate"
)

// Config represents the offload configuration file
// (~/.config/offload/config.yaml). Pointer fields distinguish "not set" from
// zero values.
type Config struct {
	Model string `yaml:"model"`

	// Accelerator
	Accel           string          `yaml:"accel"`
	DelegateLibrary string          `yaml:"delegate_library"`
	Artifacts       string          `yaml:"artifacts"`
	DelegateOptions delegate.Config `yaml:"delegate_options"`

	// Benchmark
	Input      string `yaml:"input"`
	Iterations *int64 `yaml:"iterations"`
	Warmup     *int64 `yaml:"warmup"`
	Preview    *int64 `yaml:"preview"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "offload", "config.yaml")
}

// loadConfig reads the config file. A missing default file yields a zero
// Config; a file named with --config must exist.
func loadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyLogConfig applies config file logging defaults when the flags were
// not explicitly set.
func applyLogConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applySessionConfig applies config file defaults to model and delegate
// variables.
func applySessionConfig(c *cli.Command, cfg Config) {
	if cfg.Model != "" && !c.IsSet("model") {
		modelPath = cfg.Model
	}
	if cfg.Accel != "" && !c.IsSet("accel") {
		accel = cfg.Accel
	}
	if cfg.DelegateLibrary != "" && !c.IsSet("delegate") {
		delegateLibrary = cfg.DelegateLibrary
	}
	if cfg.Artifacts != "" && !c.IsSet("artifacts") {
		artifactsDir = cfg.Artifacts
	}
}

// applyBenchConfig applies config file defaults to benchmark variables.
func applyBenchConfig(c *cli.Command, cfg Config) {
	if cfg.Input != "" && !c.IsSet("input") {
		inputPath = cfg.Input
	}
	if cfg.Iterations != nil && !c.IsSet("iterations") {
		iterations = *cfg.Iterations
	}
	if cfg.Warmup != nil && !c.IsSet("warmup") {
		warmup = *cfg.Warmup
	}
	if cfg.Preview != nil && !c.IsSet("preview") {
		preview = *cfg.Preview
	}
}

// applyServeConfig applies config file defaults to serve variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// delegateConfig layers the option sources in increasing priority: TIDL
// defaults, the config file's delegate_options, then -o flags. An artifacts
// folder chosen with --artifacts (or the artifacts config key) beats an
// artifacts_folder entry in delegate_options.
func delegateConfig(cfg Config, artifacts string, artifactsChosen bool, flags []string) (delegate.Config, error) {
	out := delegate.TIDLDefaults(artifacts)
	if v, ok := cfg.DelegateOptions.Get(delegate.OptArtifactsFolder); ok && !artifactsChosen {
		out.Set(delegate.OptArtifactsFolder, v)
	}
	for _, o := range cfg.DelegateOptions.Options() {
		if o.Key == delegate.OptArtifactsFolder {
			continue
		}
		out.Set(o.Key, o.Value)
	}
	for _, f := range flags {
		o, err := delegate.ParseOption(f)
		if err != nil {
			return delegate.Config{}, err
		}
		out.Set(o.Key, o.Value)
	}
	return out, nil
}
