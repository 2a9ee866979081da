// Package quantizer runs dynamic quantization of an ONNX file through one of
// several backends.
package quantizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Vincentjhon31/MangaAutoScroller/pkg/quant"
)

var (
	// ErrMissingDependency means the backend's runtime is not installed.
	ErrMissingDependency = errors.New("missing quantization dependency")
	ErrUnknownBackend    = errors.New("unknown quantization backend")
)

const (
	BackendNative      = "native"
	BackendONNXRuntime = "onnxruntime"
)

// Request describes one file-to-file quantization.
type Request struct {
	Input           string
	Output          string
	WeightType      quant.Type
	ReduceRange     bool
	OpTypes         []string
	NodesToExclude  []string
	NodesToQuantize []string
}

// Result carries what a backend could observe about the rewrite. Stats is nil
// when the backend does not report them.
type Result struct {
	Stats *quant.Stats
}

// Quantizer writes a dynamically quantized copy of Request.Input to
// Request.Output.
type Quantizer interface {
	Name() string
	Quantize(ctx context.Context, req Request) (*Result, error)
}

// New returns the backend called name. python is only used by the
// onnxruntime backend.
func New(name, python, producerVersion string) (Quantizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendNative:
		return &Native{ProducerVersion: producerVersion}, nil
	case BackendONNXRuntime, "ort":
		return &ONNXRuntime{Python: python}, nil
	default:
		return nil, fmt.Errorf("%w: %q (want %s or %s)", ErrUnknownBackend, name, BackendNative, BackendONNXRuntime)
	}
}

func (r Request) options(producerVersion string) quant.Options {
	return quant.Options{
		WeightType:      r.WeightType,
		ReduceRange:     r.ReduceRange,
		OpTypes:         r.OpTypes,
		NodesToExclude:  r.NodesToExclude,
		NodesToQuantize: r.NodesToQuantize,
		ProducerVersion: producerVersion,
	}
}
