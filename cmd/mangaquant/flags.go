package main

import (
	"slices"

	"github.com/urfave/cli/v3"

	"github.com/Vincentjhon31/MangaAutoScroller/internal/layout"
	"github.com/Vincentjhon31/MangaAutoScroller/internal/quantizer"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/quant"
)

// settings holds every flag destination for one run of the app.
type settings struct {
	projectRoot string
	configPath  string
	logLevel    string
	logFormat   string
	debug       bool

	input        string
	output       string
	weightType   string
	backend      string
	python       string
	reduceRange  bool
	opTypes      []string
	excludeNodes []string
	nodes        []string
	reportPath   string

	cfg Config
}

func newSettings() *settings {
	return &settings{
		logLevel:   "info",
		logFormat:  "pretty",
		weightType: "uint8",
		backend:    quantizer.BackendNative,
		python:     "python3",
		opTypes:    slices.Clone(quant.DefaultOpTypes),
	}
}

func globalFlags(s *settings) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project-root",
			Aliases:     []string{"root"},
			Usage:       "root of the Android project (default: working directory)",
			Sources:     cli.EnvVars(layout.EnvProjectRoot),
			Destination: &s.projectRoot,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "config file",
			Sources:     cli.EnvVars(envConfig),
			Destination: &s.configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       s.logLevel,
			Destination: &s.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       s.logFormat,
			Destination: &s.logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &s.debug,
		},
	}
}

func quantizeFlags(s *settings) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "input model (default: " + layout.InputName + " in the models directory)",
			Destination: &s.input,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "output model (default: " + layout.OutputName + " in the models directory)",
			Destination: &s.output,
		},
		&cli.StringFlag{
			Name:        "weight-type",
			Usage:       "weight type (uint8, int8)",
			Value:       s.weightType,
			Destination: &s.weightType,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "quantization backend (native, onnxruntime)",
			Value:       s.backend,
			Destination: &s.backend,
		},
		&cli.StringFlag{
			Name:        "python",
			Usage:       "python interpreter for the onnxruntime backend",
			Value:       s.python,
			Destination: &s.python,
		},
		&cli.BoolFlag{
			Name:        "reduce-range",
			Usage:       "quantize weights to 7 bits",
			Destination: &s.reduceRange,
		},
		&cli.StringSliceFlag{
			Name:        "op-types",
			Usage:       "operators to quantize",
			Value:       s.opTypes,
			Destination: &s.opTypes,
		},
		&cli.StringSliceFlag{
			Name:        "exclude-nodes",
			Usage:       "node names to keep in float",
			Destination: &s.excludeNodes,
		},
		&cli.StringSliceFlag{
			Name:        "nodes",
			Usage:       "only quantize these node names",
			Destination: &s.nodes,
		},
		&cli.StringFlag{
			Name:        "report",
			Usage:       "write a JSON run report to this path",
			Destination: &s.reportPath,
		},
	}
}
