package quant

import (
	"fmt"
	"strconv"

	"github.com/Vincentjhon31/MangaAutoScroller/pkg/onnx"
)

const (
	// MinOpset is the first default-domain opset with DynamicQuantizeLinear.
	MinOpset = 11

	ProducerName           = "onnx.quantize"
	DefaultProducerVersion = "0.1.0"
)

// Options control QuantizeDynamic.
type Options struct {
	WeightType  Type
	ReduceRange bool
	// WeightSymmetric overrides the default, which is symmetric for QInt8 only.
	WeightSymmetric *bool
	OpTypes         []string
	NodesToExclude  []string
	// NodesToQuantize, when non-empty, restricts quantization to these nodes.
	NodesToQuantize []string
	ProducerVersion string
}

func (o Options) symmetric() bool {
	if o.WeightSymmetric != nil {
		return *o.WeightSymmetric
	}
	return o.WeightType == QInt8
}

// Stats summarises a rewrite.
type Stats struct {
	Nodes               map[string]int `json:"nodes"`
	Weights             int            `json:"weights"`
	Activations         int            `json:"activations"`
	FloatBytes          int64          `json:"float_bytes"`
	QuantizedBytes      int64          `json:"quantized_bytes"`
	RemovedInitializers int            `json:"removed_initializers"`
	OpsetRaised         bool           `json:"opset_raised,omitempty"`
	OpsetUpgradedFrom   int64          `json:"opset_upgraded_from,omitempty"`
	Scheme              string         `json:"scheme,omitempty"`
	Skipped             []Skip         `json:"skipped,omitempty"`
}

// Quantized returns the number of rewritten nodes.
func (s *Stats) Quantized() int {
	total := 0
	for _, n := range s.Nodes {
		total += n
	}
	return total
}

// QuantizeDynamic rewrites m in place: float weights of the selected nodes are
// stored as 8-bit integers and the nodes become their integer counterparts,
// with activations quantized at run time by DynamicQuantizeLinear.
func QuantizeDynamic(m *onnx.Model, opts Options) (*Stats, error) {
	if m == nil || m.Graph == nil {
		return nil, onnx.ErrNoGraph
	}
	cands, skips, err := Plan(m.Graph, opts)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Nodes: make(map[string]int), Skipped: skips}
	r := newRewriter(m.Graph, opts, stats)
	if err := r.run(cands); err != nil {
		return nil, err
	}

	if stats.Quantized() > 0 {
		if v := m.OpsetVersion(onnx.DefaultDomain); v < MinOpset {
			// v is 0 when the model has no default-domain import.
			m.SetOpsetVersion(onnx.DefaultDomain, MinOpset)
			stats.OpsetRaised = true
			stats.OpsetUpgradedFrom = v
		}
	}
	m.ProducerName = ProducerName
	m.ProducerVersion = opts.ProducerVersion
	if m.ProducerVersion == "" {
		m.ProducerVersion = DefaultProducerVersion
	}
	return stats, nil
}

type quantized struct {
	data      string
	scale     string
	zeroPoint string
}

type rewriter struct {
	g      *onnx.Graph
	scheme Scheme
	stats  *Stats

	names   map[string]struct{}
	weights map[string]quantized
	acts    map[string]quantized

	nodes []*onnx.Node
	inits []*onnx.Tensor
	// float initializers that may have lost their last consumer
	orphans map[string]struct{}
}

func newRewriter(g *onnx.Graph, opts Options, stats *Stats) *rewriter {
	scheme := Linear{
		Type:        opts.WeightType,
		ReduceRange: opts.ReduceRange,
		Symmetric:   opts.symmetric(),
	}
	stats.Scheme = scheme.Name()
	return &rewriter{
		g:       g,
		scheme:  scheme,
		stats:   stats,
		names:   g.Names(),
		weights: make(map[string]quantized),
		acts:    make(map[string]quantized),
		orphans: make(map[string]struct{}),
	}
}

func (r *rewriter) run(cands []Candidate) error {
	if len(cands) == 0 {
		return nil
	}
	byNode := make(map[*onnx.Node]Candidate, len(cands))
	for _, c := range cands {
		byNode[c.Node] = c
	}

	r.nodes = make([]*onnx.Node, 0, len(r.g.Nodes)+4*len(cands))
	for _, n := range r.g.Nodes {
		c, ok := byNode[n]
		if !ok {
			r.nodes = append(r.nodes, n)
			continue
		}
		var err error
		switch n.OpType {
		case "MatMul":
			err = r.matMul(c)
		case "Conv":
			err = r.conv(c)
		case "Gather":
			err = r.gather(c)
		}
		if err != nil {
			return fmt.Errorf("quantize %s %q: %w", n.OpType, nodeLabel(n), err)
		}
		r.stats.Nodes[n.OpType]++
	}

	r.g.Nodes = r.nodes
	r.g.Initializers = append(r.g.Initializers, r.inits...)
	return r.dropOrphans()
}

// unique reserves base, or base with the first free numeric suffix.
func (r *rewriter) unique(base string) string {
	name := base
	for i := 1; ; i++ {
		if _, taken := r.names[name]; !taken {
			r.names[name] = struct{}{}
			return name
		}
		name = base + "_" + strconv.Itoa(i)
	}
}

func (r *rewriter) weight(t *onnx.Tensor) (quantized, error) {
	if q, ok := r.weights[t.Name]; ok {
		return q, nil
	}
	qt, err := r.scheme.Quantise(t)
	if err != nil {
		return quantized{}, err
	}
	q := quantized{
		data:      r.unique(t.Name + "_quantized"),
		scale:     r.unique(t.Name + "_scale"),
		zeroPoint: r.unique(t.Name + "_zero_point"),
	}

	dims := append([]int64(nil), t.Dims...)
	data := &onnx.Tensor{Name: q.data, Dims: dims, DataType: qt.Type.DataType(), RawData: qt.Data}
	scale := onnx.NewFloatTensor(q.scale, nil, []float32{qt.Params.Scale})
	zp := &onnx.Tensor{Name: q.zeroPoint, DataType: qt.Type.DataType(), RawData: []byte{byte(qt.Params.ZeroPoint)}}
	r.inits = append(r.inits, data, scale, zp)

	r.weights[t.Name] = q
	r.orphans[t.Name] = struct{}{}
	r.stats.Weights++
	r.stats.FloatBytes += t.PayloadSize()
	r.stats.QuantizedBytes += int64(len(qt.Data))
	return q, nil
}

// activation emits DynamicQuantizeLinear for name once and reuses it after.
func (r *rewriter) activation(name string) quantized {
	if q, ok := r.acts[name]; ok {
		return q
	}
	q := quantized{
		data:      r.unique(name + "_quantized"),
		scale:     r.unique(name + "_scale"),
		zeroPoint: r.unique(name + "_zero_point"),
	}
	r.nodes = append(r.nodes, &onnx.Node{
		Name:    r.unique(name + "_QuantizeLinear"),
		OpType:  "DynamicQuantizeLinear",
		Inputs:  []string{name},
		Outputs: []string{q.data, q.scale, q.zeroPoint},
	})
	r.acts[name] = q
	r.stats.Activations++
	return q
}

// rescale appends Cast(int32 -> float) and the two scale multiplications that
// turn an integer op result back into float, writing the result to out.
func (r *rewriter) rescale(base, intOut, out string, act, w quantized) {
	castOut := r.unique(intOut + "_cast_output")
	scales := r.unique(base + "_scales_mul:0")
	r.nodes = append(r.nodes,
		&onnx.Node{
			Name:       r.unique(intOut + "_cast"),
			OpType:     "Cast",
			Inputs:     []string{intOut},
			Outputs:    []string{castOut},
			Attributes: []*onnx.Attribute{onnx.NewIntAttribute("to", int64(onnx.DataTypeFloat))},
		},
		&onnx.Node{
			Name:    r.unique(base + "_scales_mul"),
			OpType:  "Mul",
			Inputs:  []string{act.scale, w.scale},
			Outputs: []string{scales},
		},
		&onnx.Node{
			Name:    r.unique(base + "_output_scale_mul"),
			OpType:  "Mul",
			Inputs:  []string{castOut, scales},
			Outputs: []string{out},
		},
	)
}

func (r *rewriter) matMul(c Candidate) error {
	n := c.Node
	w, err := r.weight(c.Weight)
	if err != nil {
		return err
	}
	act := r.activation(n.Inputs[0])
	base := nodeLabel(n)
	y := n.Outputs[0]

	intOut := r.unique(y + "_output_quantized")
	r.nodes = append(r.nodes, &onnx.Node{
		Name:    r.unique(base + "_quant"),
		OpType:  "MatMulInteger",
		Inputs:  []string{act.data, w.data, act.zeroPoint, w.zeroPoint},
		Outputs: []string{intOut},
	})
	r.rescale(base, intOut, y, act, w)
	return nil
}

func (r *rewriter) conv(c Candidate) error {
	n := c.Node
	w, err := r.weight(c.Weight)
	if err != nil {
		return err
	}
	act := r.activation(n.Inputs[0])
	base := nodeLabel(n)
	y := n.Outputs[0]

	bias := ""
	if len(n.Inputs) > 2 {
		bias = n.Inputs[2]
	}

	intOut := r.unique(y + "_output_quantized")
	r.nodes = append(r.nodes, &onnx.Node{
		Name:       r.unique(base + "_quant"),
		OpType:     "ConvInteger",
		Inputs:     []string{act.data, w.data, act.zeroPoint, w.zeroPoint},
		Outputs:    []string{intOut},
		Attributes: n.Attributes,
	})
	if bias == "" {
		r.rescale(base, intOut, y, act, w)
		return nil
	}

	scaled := r.unique(y + "_scaled_output")
	r.rescale(base, intOut, scaled, act, w)
	reshaped := r.convBias(base, bias, len(c.Weight.Dims))
	r.nodes = append(r.nodes, &onnx.Node{
		Name:    r.unique(base + "_bias_add"),
		OpType:  "Add",
		Inputs:  []string{scaled, reshaped},
		Outputs: []string{y},
	})
	return nil
}

// convBias returns a tensor holding bias as [1, C, 1, ...] so it broadcasts
// over the ConvInteger output. Constant biases are reshaped ahead of time.
func (r *rewriter) convBias(base, bias string, rank int) string {
	if b := r.g.Initializer(bias); b != nil && !b.External() {
		reshaped := b.Clone()
		reshaped.Name = r.unique(bias + "_reshaped")
		reshaped.Dims = broadcastDims(b.NumElements(), rank)
		r.inits = append(r.inits, reshaped)
		r.orphans[bias] = struct{}{}
		return reshaped.Name
	}

	shape := r.unique(base + "_bias_reshape_shape")
	r.inits = append(r.inits, onnx.NewInt64Tensor(shape, []int64{int64(rank)}, broadcastDims(-1, rank)))
	out := r.unique(bias + "_reshaped")
	r.nodes = append(r.nodes, &onnx.Node{
		Name:    r.unique(base + "_bias_reshape"),
		OpType:  "Reshape",
		Inputs:  []string{bias, shape},
		Outputs: []string{out},
	})
	return out
}

func broadcastDims(channels int64, rank int) []int64 {
	dims := make([]int64, rank)
	for i := range dims {
		dims[i] = 1
	}
	dims[1] = channels
	return dims
}

func (r *rewriter) gather(c Candidate) error {
	n := c.Node
	w, err := r.weight(c.Weight)
	if err != nil {
		return err
	}
	base := nodeLabel(n)
	y := n.Outputs[0]

	gathered := r.unique(y + "_quantized")
	r.nodes = append(r.nodes,
		&onnx.Node{
			Name:       n.Name,
			OpType:     "Gather",
			Inputs:     []string{w.data, n.Inputs[1]},
			Outputs:    []string{gathered},
			Attributes: n.Attributes,
		},
		&onnx.Node{
			Name:    r.unique(base + "_DequantizeLinear"),
			OpType:  "DequantizeLinear",
			Inputs:  []string{gathered, w.scale, w.zeroPoint},
			Outputs: []string{y},
		},
	)
	return nil
}

// dropOrphans removes replaced float initializers nothing refers to anymore,
// along with their graph input and value_info entries.
func (r *rewriter) dropOrphans() error {
	refs, err := r.g.ReferencedNames()
	if err != nil {
		return err
	}
	dead := make(map[string]struct{})
	for name := range r.orphans {
		if _, used := refs[name]; !used {
			dead[name] = struct{}{}
		}
	}
	if len(dead) == 0 {
		return nil
	}

	inits := r.g.Initializers[:0]
	for _, t := range r.g.Initializers {
		if _, ok := dead[t.Name]; ok {
			r.stats.RemovedInitializers++
			continue
		}
		inits = append(inits, t)
	}
	r.g.Initializers = inits
	r.g.Inputs = dropValueInfo(r.g.Inputs, dead)
	r.g.ValueInfo = dropValueInfo(r.g.ValueInfo, dead)
	return nil
}

func dropValueInfo(vis []*onnx.ValueInfo, dead map[string]struct{}) []*onnx.ValueInfo {
	out := vis[:0]
	for _, vi := range vis {
		if _, ok := dead[vi.Name]; !ok {
			out = append(out, vi)
		}
	}
	return out
}
