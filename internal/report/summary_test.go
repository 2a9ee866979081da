package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Vincentjhon31/MangaAutoScroller/pkg/onnx"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/quant"
)

func summaryModel() *onnx.Model {
	return &onnx.Model{
		IRVersion:    7,
		ProducerName: "pytorch",
		OpsetImports: []onnx.OperatorSetID{{Version: 12}, {Domain: "com.microsoft", Version: 1}},
		Graph: &onnx.Graph{
			Name: "detector",
			Nodes: []*onnx.Node{
				{Name: "conv0", OpType: "Conv", Inputs: []string{"x", "w"}, Outputs: []string{"h"}},
				{Name: "act", OpType: "Relu", Inputs: []string{"h"}, Outputs: []string{"a"}},
				{Name: "fc", OpType: "MatMul", Inputs: []string{"a", "b"}, Outputs: []string{"y"}},
			},
			Initializers: []*onnx.Tensor{
				onnx.NewFloatTensor("w", []int64{2, 1, 1, 1}, []float32{1, -1}),
				onnx.NewInt64Tensor("b", []int64{2}, []int64{1, 2}),
			},
		},
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	s, err := Summarize(summaryModel(), quant.Options{})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if s.Nodes != 3 || s.Ops["Conv"] != 1 || s.Ops["Relu"] != 1 {
		t.Fatalf("ops: %+v", s.Ops)
	}
	if s.Opsets["ai.onnx"] != 12 || s.Opsets["com.microsoft"] != 1 {
		t.Fatalf("opsets: %+v", s.Opsets)
	}
	if s.InitializerBytes != 8+16 || s.FloatBytes != 8 {
		t.Fatalf("bytes: total=%d float=%d", s.InitializerBytes, s.FloatBytes)
	}
	if len(s.Candidates) != 1 || s.Candidates[0] != "conv0" {
		t.Fatalf("candidates: %v", s.Candidates)
	}
	if len(s.Skipped) != 1 || s.Skipped[0].Node != "fc" {
		t.Fatalf("skipped: %+v", s.Skipped)
	}
	if s.Quantized {
		t.Fatalf("float model reported as quantized")
	}

	var buf bytes.Buffer
	s.WriteText(&buf)
	for _, want := range []string{"detector", "pytorch", "ai.onnx 12", "conv0", "fc (MatMul): weight is int64"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("text output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestSummarizeQuantizedModel(t *testing.T) {
	t.Parallel()

	m := summaryModel()
	if _, err := quant.QuantizeDynamic(m, quant.Options{WeightType: quant.QUInt8}); err != nil {
		t.Fatalf("quantize: %v", err)
	}
	s, err := Summarize(m, quant.Options{})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if !s.Quantized || s.Ops["ConvInteger"] != 1 {
		t.Fatalf("expected quantized graph: %+v", s.Ops)
	}
	if len(s.Candidates) != 0 {
		t.Fatalf("quantized graph should have no candidates: %v", s.Candidates)
	}
}

func TestSummarizeNoGraph(t *testing.T) {
	t.Parallel()

	if _, err := Summarize(&onnx.Model{}, quant.Options{}); err == nil {
		t.Fatalf("expected error for model without graph")
	}
}
