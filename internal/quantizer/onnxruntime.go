package quantizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"

	"github.com/Vincentjhon31/MangaAutoScroller/internal/logger"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/quant"
)

// InstallHint tells the user how to get the onnxruntime backend working.
const InstallHint = "pip install onnxruntime onnx"

// exitImportError is returned by ortScript when onnxruntime cannot be imported.
const exitImportError = 3

// ortScript receives: input output weight_type reduce_range op_types exclude include.
// List arguments are comma separated and may be empty.
const ortScript = `
import sys
try:
    from onnxruntime.quantization import quantize_dynamic, QuantType
    import onnx
except ImportError as e:
    print(e, file=sys.stderr)
    sys.exit(3)

def names(arg):
    return [n for n in arg.split(",") if n] or None

quantize_dynamic(
    model_input=sys.argv[1],
    model_output=sys.argv[2],
    weight_type=getattr(QuantType, sys.argv[3]),
    reduce_range=sys.argv[4] == "1",
    op_types_to_quantize=names(sys.argv[5]),
    nodes_to_exclude=names(sys.argv[6]),
    nodes_to_quantize=names(sys.argv[7]),
)
`

// ONNXRuntime delegates to onnxruntime.quantization.quantize_dynamic in a
// Python subprocess.
type ONNXRuntime struct {
	// Python is the interpreter; defaults to python3.
	Python string
}

func (o *ONNXRuntime) Name() string { return BackendONNXRuntime }

func (o *ONNXRuntime) python() string {
	if p := strings.TrimSpace(o.Python); p != "" {
		return p
	}
	return "python3"
}

func (o *ONNXRuntime) Quantize(ctx context.Context, req Request) (*Result, error) {
	log := logger.FromContext(ctx).With("backend", BackendONNXRuntime)

	reduce := "0"
	if req.ReduceRange {
		reduce = "1"
	}
	weightType := "QUInt8"
	if req.WeightType == quant.QInt8 {
		weightType = "QInt8"
	}
	args := []string{
		"-c", ortScript,
		req.Input, req.Output, weightType, reduce,
		strings.Join(req.OpTypes, ","),
		strings.Join(req.NodesToExclude, ","),
		strings.Join(req.NodesToQuantize, ","),
	}

	cmd := exec.CommandContext(ctx, o.python(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	log.Debug("running python", "python", o.python())

	err := cmd.Run()
	if err == nil {
		return &Result{}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	msg := strings.TrimSpace(stderr.String())
	var exitErr *exec.ExitError
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: python interpreter %q not found (%s)", ErrMissingDependency, o.python(), InstallHint)
	case errors.As(err, &exitErr) && exitErr.ExitCode() == exitImportError:
		return nil, fmt.Errorf("%w: %s (%s)", ErrMissingDependency, msg, InstallHint)
	case msg != "":
		return nil, fmt.Errorf("onnxruntime: %s", lastLine(msg))
	default:
		return nil, fmt.Errorf("onnxruntime: %w", err)
	}
}

// lastLine keeps the exception line of a Python traceback.
func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
