package main

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/Vincentjhon31/MangaAutoScroller/internal/layout"
	"github.com/Vincentjhon31/MangaAutoScroller/internal/report"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/onnx"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/quant"
)

func inspectCmd(s *settings, stdout io.Writer) *cli.Command {
	var (
		asJSON       bool
		opTypes      []string
		excludeNodes []string
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Summarize an ONNX model and its quantization candidates",
		ArgsUsage: "[model.onnx]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the summary as JSON",
				Destination: &asJSON,
			},
			&cli.StringSliceFlag{
				Name:        "op-types",
				Usage:       "operators to consider for quantization",
				Destination: &opTypes,
			},
			&cli.StringSliceFlag{
				Name:        "exclude-nodes",
				Usage:       "node names to keep in float",
				Destination: &excludeNodes,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				root, err := layout.ResolveRoot(s.projectRoot)
				if err != nil {
					return err
				}
				path = layout.New(root).Input
			}

			f, err := onnx.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			summary, err := report.Summarize(f.Model, quant.Options{OpTypes: opTypes, NodesToExclude: excludeNodes})
			if err != nil {
				return err
			}
			if asJSON {
				data, err := json.MarshalIndent(summary, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(stdout, string(data))
				return err
			}
			_, _ = fmt.Fprintf(stdout, "file:         %s (%s)\n", path, report.MB(f.Size))
			summary.WriteText(stdout)
			return nil
		},
	}
}
