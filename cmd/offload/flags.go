package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/offload/internal/bench"
	"github.com/samcharles93/offload/internal/delegate"
	"github.com/samcharles93/offload/internal/session"
)

const defaultArtifacts = "./classification/artifacts"

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool

	modelPath       string
	accel           string
	delegateLibrary string
	artifactsDir    string
	delegateOptions []string

	inputPath  string
	iterations int64
	warmup     int64
	preview    int64
)

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config file (default ~/.config/offload/config.yaml)",
			Destination: &configFile,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to model manifest (.json, .yaml)",
			Destination: &modelPath,
		},
	}
}

func delegateFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "accel",
			Usage:       "accelerator mode (auto, cpu)",
			Value:       delegate.ModeAuto,
			Destination: &accel,
		},
		&cli.StringFlag{
			Name:        "delegate",
			Usage:       "delegate plugin: path to a shared library, builtin:tidlsim, or none",
			Value:       delegate.DefaultLibraryPath,
			Destination: &delegateLibrary,
		},
		&cli.StringFlag{
			Name:        "artifacts",
			Usage:       "compiled delegate artifacts folder",
			Value:       defaultArtifacts,
			Destination: &artifactsDir,
		},
		&cli.StringSliceFlag{
			Name:        "delegate-option",
			Aliases:     []string{"o"},
			Usage:       "extra delegate option as key=value (repeatable)",
			Destination: &delegateOptions,
		},
	}
}

func benchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "input features (.bin/.f32 raw float32, .json array, or text)",
			Destination: &inputPath,
		},
		&cli.Int64Flag{
			Name:        "iterations",
			Aliases:     []string{"n"},
			Usage:       "number of timed invocations",
			Value:       session.DefaultIterations,
			Destination: &iterations,
		},
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of untimed warm-up invocations",
			Value:       session.DefaultWarmup,
			Destination: &warmup,
		},
		&cli.Int64Flag{
			Name:        "preview",
			Usage:       "output values to print per tensor",
			Value:       bench.DefaultPreview,
			Destination: &preview,
		},
	}
}

func sessionFlags() []cli.Flag {
	return append(modelFlags(), delegateFlags()...)
}
