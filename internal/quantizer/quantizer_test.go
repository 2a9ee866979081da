package quantizer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/Vincentjhon31/MangaAutoScroller/internal/logger"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/onnx"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/quant"
)

func detectorModel() *onnx.Model {
	w := make([]float32, 16*8*3*3)
	for i := range w {
		w[i] = float32(i%23-11) * 0.03
	}
	fc := make([]float32, 64*32)
	for i := range fc {
		fc[i] = float32(i%17-8) * 0.01
	}
	return &onnx.Model{
		IRVersion:    7,
		OpsetImports: []onnx.OperatorSetID{{Version: 12}},
		ProducerName: "pytorch",
		Graph: &onnx.Graph{
			Name: "detector",
			Nodes: []*onnx.Node{
				{Name: "conv0", OpType: "Conv", Inputs: []string{"images", "conv0.weight"}, Outputs: []string{"feat"}},
				{Name: "fc", OpType: "MatMul", Inputs: []string{"feat", "fc.weight"}, Outputs: []string{"blk"}},
			},
			Initializers: []*onnx.Tensor{
				onnx.NewFloatTensor("conv0.weight", []int64{16, 8, 3, 3}, w),
				onnx.NewFloatTensor("fc.weight", []int64{64, 32}, fc),
			},
			Inputs:  []*onnx.ValueInfo{{Name: "images"}},
			Outputs: []*onnx.ValueInfo{{Name: "blk"}},
		},
	}
}

func writeModel(t *testing.T, dir string) string {
	t.Helper()
	data, err := onnx.Marshal(detectorModel())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, "comictextdetector.pt.onnx")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "native", "NATIVE"} {
		q, err := New(name, "", "")
		if err != nil || q.Name() != BackendNative {
			t.Fatalf("New(%q): got %v, %v", name, q, err)
		}
	}
	for _, name := range []string{"onnxruntime", "ort"} {
		q, err := New(name, "python3.11", "")
		if err != nil || q.Name() != BackendONNXRuntime {
			t.Fatalf("New(%q): got %v, %v", name, q, err)
		}
		if ort := q.(*ONNXRuntime); ort.Python != "python3.11" {
			t.Fatalf("python not kept: %q", ort.Python)
		}
	}
	if _, err := New("tensorrt", "", ""); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestNativeQuantize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeModel(t, dir)
	out := filepath.Join(dir, "comictextdetector_quantized.onnx")

	q := &Native{ProducerVersion: "test"}
	res, err := q.Quantize(context.Background(), Request{Input: in, Output: out, WeightType: quant.QUInt8})
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	if res.Stats == nil || res.Stats.Nodes["Conv"] != 1 || res.Stats.Nodes["MatMul"] != 1 {
		t.Fatalf("stats: %+v", res.Stats)
	}

	inInfo, _ := os.Stat(in)
	outInfo, err := os.Stat(out)
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if outInfo.Size() >= inInfo.Size() {
		t.Fatalf("output not smaller: in=%d out=%d", inInfo.Size(), outInfo.Size())
	}

	f, err := onnx.Open(out)
	if err != nil {
		t.Fatalf("reopen output: %v", err)
	}
	defer f.Close()
	if f.Model.ProducerVersion != "test" {
		t.Fatalf("producer version: %q", f.Model.ProducerVersion)
	}
	if f.Model.Graph.Initializer("conv0.weight_quantized") == nil {
		t.Fatalf("quantized conv weight missing")
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestNativeQuantizeBadInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "broken.onnx")
	if err := os.WriteFile(in, []byte("not a model"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out.onnx")
	if _, err := (&Native{}).Quantize(context.Background(), Request{Input: in, Output: out}); err == nil {
		t.Fatalf("expected error for malformed model")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("output should not exist after failure: %v", err)
	}
}

func TestNativeQuantizeCancelled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeModel(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Native{}).Quantize(ctx, Request{Input: in, Output: filepath.Join(dir, "out.onnx")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestQuantizeBytes(t *testing.T) {
	t.Parallel()

	data, err := onnx.Marshal(detectorModel())
	if err != nil {
		t.Fatal(err)
	}
	out, stats, err := (&Native{ProducerVersion: "v1"}).QuantizeBytes(data, quant.Options{
		WeightType: quant.QInt8,
		OpTypes:    []string{"MatMul"},
	})
	if err != nil {
		t.Fatalf("QuantizeBytes: %v", err)
	}
	if stats.Nodes["MatMul"] != 1 || stats.Nodes["Conv"] != 0 {
		t.Fatalf("stats: %+v", stats.Nodes)
	}
	m, err := onnx.Unmarshal(out)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	wq := m.Graph.Initializer("fc.weight_quantized")
	if wq == nil || wq.DataType != onnx.DataTypeInt8 {
		t.Fatalf("int8 weight: %+v", wq)
	}
	if m.ProducerVersion != "v1" {
		t.Fatalf("producer version: %q", m.ProducerVersion)
	}
}

func TestLogStatsOpsetRaised(t *testing.T) {
	t.Parallel()

	m := detectorModel()
	m.OpsetImports = nil
	stats, err := quant.QuantizeDynamic(m, quant.Options{})
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}

	var buf bytes.Buffer
	log, err := logger.ForFormat(&buf, "text", slog.LevelWarn)
	if err != nil {
		t.Fatal(err)
	}
	logStats(log, stats)
	out := buf.String()
	if !strings.Contains(out, "default opset raised") || !strings.Contains(out, "from=0") || !strings.Contains(out, "to=11") {
		t.Fatalf("missing opset warning: %q", out)
	}
}

// fakePython writes a shell script standing in for the interpreter. Tests
// that exec it do not run in parallel, to avoid ETXTBSY from concurrent forks.
func fakePython(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "python")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestONNXRuntimeMissingModule(t *testing.T) {
	py := fakePython(t, `echo "No module named 'onnxruntime'" >&2; exit 3`)
	_, err := (&ONNXRuntime{Python: py}).Quantize(context.Background(), Request{Input: "a", Output: "b"})
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
	if !strings.Contains(err.Error(), InstallHint) || !strings.Contains(err.Error(), "onnxruntime") {
		t.Fatalf("error lacks detail: %v", err)
	}
}

func TestONNXRuntimeMissingInterpreter(t *testing.T) {
	py := filepath.Join(t.TempDir(), "no-such-python")
	_, err := (&ONNXRuntime{Python: py}).Quantize(context.Background(), Request{Input: "a", Output: "b"})
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
}

func TestONNXRuntimeFailure(t *testing.T) {
	py := fakePython(t, `printf 'Traceback (most recent call last):\n  File "x"\nValueError: bad model\n' >&2; exit 1`)
	_, err := (&ONNXRuntime{Python: py}).Quantize(context.Background(), Request{Input: "a", Output: "b"})
	if err == nil || errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected plain failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "ValueError: bad model") {
		t.Fatalf("error should carry the exception: %v", err)
	}
}

func TestONNXRuntimeSuccess(t *testing.T) {
	// argv: -c script input output weight_type reduce_range ...
	py := fakePython(t, `[ "$5" = "QInt8" ] && [ "$6" = "1" ] || exit 9
cp "$3" "$4"`)
	dir := t.TempDir()
	in := writeModel(t, dir)
	out := filepath.Join(dir, "out.onnx")

	res, err := (&ONNXRuntime{Python: py}).Quantize(context.Background(), Request{
		Input: in, Output: out, WeightType: quant.QInt8, ReduceRange: true,
	})
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	if res.Stats != nil {
		t.Fatalf("subprocess backend should not report stats")
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output missing: %v", err)
	}
}
