package quant

import (
	"fmt"
	"slices"

	"github.com/Vincentjhon31/MangaAutoScroller/pkg/onnx"
)

// DefaultOpTypes are quantized when Options.OpTypes is empty.
var DefaultOpTypes = []string{"MatMul", "Conv", "Gather"}

// weightInput is the input index holding the weight for each supported op.
var weightInput = map[string]int{
	"MatMul": 1,
	"Conv":   1,
	"Gather": 0,
}

// Candidate is a node that will be rewritten.
type Candidate struct {
	Node   *onnx.Node
	Weight *onnx.Tensor
}

// Skip records why a node of a selected op type was left in float.
type Skip struct {
	Node   string `json:"node"`
	OpType string `json:"op_type"`
	Reason string `json:"reason"`
}

// Plan selects the nodes of g that QuantizeDynamic would rewrite.
func Plan(g *onnx.Graph, opts Options) ([]Candidate, []Skip, error) {
	opTypes := opts.OpTypes
	if len(opTypes) == 0 {
		opTypes = DefaultOpTypes
	}
	for _, op := range opTypes {
		if _, ok := weightInput[op]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedOp, op)
		}
	}

	var (
		cands []Candidate
		skips []Skip
	)
	skip := func(n *onnx.Node, reason string) {
		skips = append(skips, Skip{Node: nodeLabel(n), OpType: n.OpType, Reason: reason})
	}

	for _, n := range g.Nodes {
		if !slices.Contains(opTypes, n.OpType) {
			continue
		}
		if !onnx.IsDefaultDomain(n.Domain) {
			skip(n, "non-default domain "+n.Domain)
			continue
		}
		if slices.Contains(opts.NodesToExclude, n.Name) {
			skip(n, "excluded")
			continue
		}
		if len(opts.NodesToQuantize) > 0 && !slices.Contains(opts.NodesToQuantize, n.Name) {
			skip(n, "not selected")
			continue
		}
		if len(n.Outputs) == 0 || n.Outputs[0] == "" {
			skip(n, "no output")
			continue
		}
		idx := weightInput[n.OpType]
		if len(n.Inputs) < 2 || n.Inputs[idx] == "" {
			skip(n, "missing inputs")
			continue
		}
		w := g.Initializer(n.Inputs[idx])
		switch {
		case w == nil:
			skip(n, "weight is not an initializer")
			continue
		case w.DataType != onnx.DataTypeFloat:
			skip(n, "weight is "+w.DataType.String())
			continue
		case w.External():
			skip(n, "weight uses external data")
			continue
		}
		if n.OpType == "Conv" && len(w.Dims) < 3 {
			skip(n, fmt.Sprintf("conv weight has rank %d", len(w.Dims)))
			continue
		}
		cands = append(cands, Candidate{Node: n, Weight: w})
	}
	return cands, skips, nil
}

func nodeLabel(n *onnx.Node) string {
	if n.Name != "" {
		return n.Name
	}
	if len(n.Outputs) > 0 {
		return n.Outputs[0]
	}
	return n.OpType
}
