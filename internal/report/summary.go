package report

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/Vincentjhon31/MangaAutoScroller/pkg/onnx"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/quant"
)

// Summary describes a model and what dynamic quantization would do to it.
type Summary struct {
	IRVersion        int64            `json:"ir_version"`
	Producer         string           `json:"producer"`
	ProducerVersion  string           `json:"producer_version,omitempty"`
	Graph            string           `json:"graph"`
	Opsets           map[string]int64 `json:"opsets"`
	Nodes            int              `json:"nodes"`
	Ops              map[string]int   `json:"ops"`
	Initializers     int              `json:"initializers"`
	InitializerBytes int64            `json:"initializer_bytes"`
	FloatBytes       int64            `json:"float_bytes"`
	Quantized        bool             `json:"quantized"`
	Candidates       []string         `json:"candidates"`
	Skipped          []quant.Skip     `json:"skipped,omitempty"`
}

// integerOps mark a graph that has already been through dynamic quantization.
var integerOps = []string{"MatMulInteger", "ConvInteger", "DynamicQuantizeLinear"}

// Summarize inspects m without modifying it.
func Summarize(m *onnx.Model, opts quant.Options) (*Summary, error) {
	if m.Graph == nil {
		return nil, onnx.ErrNoGraph
	}
	g := m.Graph
	s := &Summary{
		IRVersion:       m.IRVersion,
		Producer:        m.ProducerName,
		ProducerVersion: m.ProducerVersion,
		Graph:           g.Name,
		Opsets:          make(map[string]int64, len(m.OpsetImports)),
		Nodes:           len(g.Nodes),
		Ops:             make(map[string]int),
		Initializers:    len(g.Initializers),
		Candidates:      []string{},
	}
	for _, op := range m.OpsetImports {
		domain := op.Domain
		if onnx.IsDefaultDomain(domain) {
			domain = "ai.onnx"
		}
		s.Opsets[domain] = op.Version
	}
	for _, n := range g.Nodes {
		s.Ops[n.OpType]++
		if slices.Contains(integerOps, n.OpType) {
			s.Quantized = true
		}
	}
	for _, t := range g.Initializers {
		size := t.PayloadSize()
		s.InitializerBytes += size
		if t.DataType == onnx.DataTypeFloat {
			s.FloatBytes += size
		}
	}

	cands, skips, err := quant.Plan(g, opts)
	if err != nil {
		return nil, err
	}
	for _, c := range cands {
		name := c.Node.Name
		if name == "" {
			name = c.Node.OpType + ":" + c.Weight.Name
		}
		s.Candidates = append(s.Candidates, name)
	}
	s.Skipped = skips
	return s, nil
}

// WriteText prints s for a terminal.
func (s *Summary) WriteText(w io.Writer) {
	_, _ = fmt.Fprintf(w, "graph:        %s\n", s.Graph)
	_, _ = fmt.Fprintf(w, "ir version:   %d\n", s.IRVersion)
	producer := s.Producer
	if s.ProducerVersion != "" {
		producer += " " + s.ProducerVersion
	}
	_, _ = fmt.Fprintf(w, "producer:     %s\n", producer)
	for _, d := range slices.Sorted(maps.Keys(s.Opsets)) {
		_, _ = fmt.Fprintf(w, "opset:        %s %d\n", d, s.Opsets[d])
	}
	_, _ = fmt.Fprintf(w, "nodes:        %d\n", s.Nodes)
	_, _ = fmt.Fprintf(w, "initializers: %d (%s, %s float)\n", s.Initializers, MB(s.InitializerBytes), MB(s.FloatBytes))
	_, _ = fmt.Fprintf(w, "quantized:    %t\n", s.Quantized)

	_, _ = fmt.Fprintln(w, "ops:")
	for _, op := range slices.Sorted(maps.Keys(s.Ops)) {
		_, _ = fmt.Fprintf(w, "  %-24s %d\n", op, s.Ops[op])
	}
	_, _ = fmt.Fprintf(w, "candidates:   %d\n", len(s.Candidates))
	for _, c := range s.Candidates {
		_, _ = fmt.Fprintf(w, "  %s\n", c)
	}
	if len(s.Skipped) > 0 {
		_, _ = fmt.Fprintf(w, "skipped:      %d\n", len(s.Skipped))
		for _, sk := range s.Skipped {
			_, _ = fmt.Fprintf(w, "  %s (%s): %s\n", sk.Node, sk.OpType, sk.Reason)
		}
	}
}
