package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/offload/internal/delegate"
	"github.com/samcharles93/offload/internal/delegate/tidlsim"
	"github.com/samcharles93/offload/internal/inputdata"
	"github.com/samcharles93/offload/internal/logger"
	"github.com/samcharles93/offload/internal/session"
)

const (
	delegateNone   = "none"
	builtinTIDLSim = "builtin:tidlsim"
)

type configKey struct{}

// setup loads the config file and installs the logger in ctx.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	applyLogConfig(cmd, cfg)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	log, err := logger.NewFromFormat(os.Stderr, logFormat, level)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	ctx = logger.WithContext(ctx, log)
	return context.WithValue(ctx, configKey{}, cfg), nil
}

func configFromContext(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}

// sessionOptions resolves model and delegate settings from flags and config.
func sessionOptions(ctx context.Context, cmd *cli.Command) (session.Options, error) {
	cfg := configFromContext(ctx)
	applySessionConfig(cmd, cfg)
	log := logger.FromContext(ctx)

	if strings.TrimSpace(modelPath) == "" {
		return session.Options{}, fmt.Errorf("--model is required")
	}
	mode, err := delegate.Normalize(accel)
	if err != nil {
		return session.Options{}, err
	}
	dcfg, err := delegateConfig(cfg, artifactsDir, cmd.IsSet("artifacts") || cfg.Artifacts != "", delegateOptions)
	if err != nil {
		return session.Options{}, err
	}

	onError := func(msg string) { log.Warn("delegate reported", "message", msg) }
	var plugin delegate.PluginSource
	switch lib := strings.TrimSpace(delegateLibrary); lib {
	case "", delegateNone:
		plugin = delegate.NopSource{}
	case builtinTIDLSim:
		plugin = delegate.FactorySource{Name: lib, Factory: tidlsim.Create, OnError: onError}
	default:
		if !delegate.Supported() {
			log.Debug("runtime plugin loading is not available in this build", "path", lib)
		}
		plugin = &delegate.LibrarySource{Path: lib, OnError: onError}
	}

	return session.Options{
		ModelPath:      modelPath,
		Mode:           mode,
		Plugin:         plugin,
		DelegateConfig: dcfg,
		Logger:         log,
	}, nil
}

// benchOptions resolves benchmark settings; a missing input file is fatal.
func benchOptions(ctx context.Context, cmd *cli.Command) (session.BenchOptions, error) {
	applyBenchConfig(cmd, configFromContext(ctx))
	o := session.BenchOptions{
		Iterations: int(iterations),
		Warmup:     int(warmup),
		Preview:    int(preview),
	}
	if o.Warmup == 0 {
		o.Warmup = -1
	}
	if inputPath != "" {
		data, err := inputdata.Load(inputPath)
		if err != nil {
			return o, err
		}
		o.Input = data
	}
	return o, nil
}
