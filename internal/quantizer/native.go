package quantizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Vincentjhon31/MangaAutoScroller/internal/logger"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/onnx"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/quant"
)

// Native quantizes in process.
type Native struct {
	ProducerVersion string
}

func (n *Native) Name() string { return BackendNative }

func (n *Native) Quantize(ctx context.Context, req Request) (*Result, error) {
	log := logger.FromContext(ctx).With("backend", BackendNative)

	f, err := onnx.Open(req.Input)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	defer func() { _ = f.Close() }()
	log.Debug("model loaded", "path", req.Input, "nodes", len(f.Model.Graph.Nodes),
		"initializers", len(f.Model.Graph.Initializers))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats, err := quant.QuantizeDynamic(f.Model, req.options(n.ProducerVersion))
	if err != nil {
		return nil, err
	}
	logStats(log, stats)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := onnx.Marshal(f.Model)
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	if err := writeFileAtomic(req.Output, data); err != nil {
		return nil, fmt.Errorf("write model: %w", err)
	}
	return &Result{Stats: stats}, nil
}

// QuantizeBytes quantizes a serialized model held in memory.
func (n *Native) QuantizeBytes(data []byte, opts quant.Options) ([]byte, *quant.Stats, error) {
	m, err := onnx.Unmarshal(data)
	if err != nil {
		return nil, nil, err
	}
	if opts.ProducerVersion == "" {
		opts.ProducerVersion = n.ProducerVersion
	}
	stats, err := quant.QuantizeDynamic(m, opts)
	if err != nil {
		return nil, nil, err
	}
	out, err := onnx.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	return out, stats, nil
}

func logStats(log logger.Logger, stats *quant.Stats) {
	for op, count := range stats.Nodes {
		log.Debug("quantized nodes", "op", op, "count", count)
	}
	for _, s := range stats.Skipped {
		log.Debug("node left in float", "node", s.Node, "op", s.OpType, "reason", s.Reason)
	}
	if stats.OpsetRaised {
		log.Warn("default opset raised for integer operators", "from", stats.OpsetUpgradedFrom, "to", quant.MinOpset)
	}
	if stats.Quantized() == 0 {
		log.Warn("no quantizable nodes found; output keeps float weights")
	}
}

// writeFileAtomic writes through a temporary file in the target directory so
// a failed run never leaves a truncated model behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		return err
	}
	return os.Rename(name, path)
}
