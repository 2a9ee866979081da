package main

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/Vincentjhon31/MangaAutoScroller/internal/convert"
	"github.com/Vincentjhon31/MangaAutoScroller/internal/layout"
	"github.com/Vincentjhon31/MangaAutoScroller/internal/logger"
	"github.com/Vincentjhon31/MangaAutoScroller/internal/quantizer"
	"github.com/Vincentjhon31/MangaAutoScroller/internal/version"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/quant"
)

func quantizeCmd(s *settings, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "quantize",
		Usage: "Write a dynamically quantized copy of the detector model",
		Flags: quantizeFlags(s),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runQuantize(ctx, cmd, s, stdout)
		},
	}
}

func runQuantize(ctx context.Context, cmd *cli.Command, s *settings, stdout io.Writer) error {
	applyQuantizeConfig(cmd, s.cfg, s)

	root, err := layout.ResolveRoot(s.projectRoot)
	if err != nil {
		return err
	}
	weightType, err := quant.ParseType(s.weightType)
	if err != nil {
		return err
	}
	q, err := quantizer.New(s.backend, s.python, version.Resolve().Version)
	if err != nil {
		return err
	}

	job := convert.Job{
		Layout:          layout.New(root).WithInput(s.input).WithOutput(s.output),
		WeightType:      weightType,
		ReduceRange:     s.reduceRange,
		OpTypes:         s.opTypes,
		NodesToExclude:  s.excludeNodes,
		NodesToQuantize: s.nodes,
	}
	logger.FromContext(ctx).Debug("resolved layout", "root", root, "input", job.Layout.Input, "output", job.Layout.Output)

	rep, err := convert.Run(ctx, job, q, stdout)
	if err != nil {
		return err
	}
	if s.reportPath != "" {
		if err := rep.WriteFile(s.reportPath); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		logger.FromContext(ctx).Info("report written", "path", s.reportPath, "run_id", rep.ID)
	}
	return nil
}
