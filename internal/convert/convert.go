// Package convert drives one quantization run: it checks the input model,
// hands it to a quantizer backend and reports the size change.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Vincentjhon31/MangaAutoScroller/internal/layout"
	"github.com/Vincentjhon31/MangaAutoScroller/internal/logger"
	"github.com/Vincentjhon31/MangaAutoScroller/internal/quantizer"
	"github.com/Vincentjhon31/MangaAutoScroller/internal/report"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/quant"
)

var (
	ErrInputNotFound  = errors.New("input model not found")
	ErrQuantizeFailed = errors.New("quantization failed")
)

// Job is one conversion request.
type Job struct {
	Layout          layout.Layout
	WeightType      quant.Type
	ReduceRange     bool
	OpTypes         []string
	NodesToExclude  []string
	NodesToQuantize []string
}

// Run quantizes job.Layout.Input into job.Layout.Output with q, writing
// progress for a person to out.
func Run(ctx context.Context, job Job, q quantizer.Quantizer, out io.Writer) (*report.Report, error) {
	log := logger.FromContext(ctx)
	l := job.Layout

	info, err := os.Stat(l.Input)
	if err != nil || info.IsDir() {
		_, _ = fmt.Fprint(out, l.Remediation())
		if err == nil {
			err = errors.New("is a directory")
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInputNotFound, l.Input, err)
	}

	rep := report.New(q.Name(), job.WeightType)
	rep.Input = report.File{Path: l.Input, Bytes: info.Size()}
	rep.Output.Path = l.Output

	_, _ = fmt.Fprintf(out, "Input model: %s\n", l.Input)
	_, _ = fmt.Fprintf(out, "   Size: %s\n", report.MB(info.Size()))
	_, _ = fmt.Fprintln(out, "\nQuantizing model (this may take a few minutes)...")

	if err := os.MkdirAll(filepath.Dir(l.Output), 0o755); err != nil {
		return nil, failed(out, err)
	}

	log.Info("quantizing", "run_id", rep.ID, "backend", q.Name(), "weight_type", job.WeightType.String(),
		"input", l.Input, "output", l.Output)
	res, err := q.Quantize(ctx, quantizer.Request{
		Input:           l.Input,
		Output:          l.Output,
		WeightType:      job.WeightType,
		ReduceRange:     job.ReduceRange,
		OpTypes:         job.OpTypes,
		NodesToExclude:  job.NodesToExclude,
		NodesToQuantize: job.NodesToQuantize,
	})
	if err != nil {
		return nil, failed(out, err)
	}
	if res != nil {
		rep.Stats = res.Stats
	}

	outInfo, err := os.Stat(l.Output)
	if err != nil {
		return nil, failed(out, fmt.Errorf("output not written: %w", err))
	}
	rep.Finish(outInfo.Size())

	_, _ = fmt.Fprintln(out, "\nQuantization complete!")
	_, _ = fmt.Fprintf(out, "Output model: %s\n", l.Output)
	_, _ = fmt.Fprintf(out, "   Size: %s\n", report.MB(outInfo.Size()))
	_, _ = fmt.Fprintf(out, "   Reduction: %s\n", report.Percent(rep.ReductionPercent))
	_, _ = fmt.Fprintln(out, "\nThe app will automatically use the quantized model!")

	log.Info("quantization finished", "run_id", rep.ID, "input_bytes", rep.Input.Bytes,
		"output_bytes", rep.Output.Bytes, "duration_ms", rep.DurationMS)
	return rep, nil
}

func failed(out io.Writer, err error) error {
	if errors.Is(err, quantizer.ErrMissingDependency) {
		_, _ = fmt.Fprintln(out, "\nMissing required packages. Install them with:")
		_, _ = fmt.Fprintf(out, "   %s\n", quantizer.InstallHint)
	}
	_, _ = fmt.Fprintf(out, "\nQuantization failed: %v\n", err)
	return fmt.Errorf("%w: %w", ErrQuantizeFailed, err)
}
