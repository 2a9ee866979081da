package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes m as a ModelProto. Known fields are written in field order,
// followed by the fields that were carried through undecoded.
func Marshal(m *Model) ([]byte, error) {
	if m.Graph == nil {
		return nil, ErrNoGraph
	}
	return appendModel(nil, m), nil
}

func appendModel(b []byte, m *Model) []byte {
	b = appendVarintField(b, 1, uint64(m.IRVersion))
	b = appendStringField(b, 2, m.ProducerName)
	b = appendStringField(b, 3, m.ProducerVersion)
	if m.Graph != nil {
		b = appendMessage(b, 7, appendGraph(nil, m.Graph))
	}
	for _, op := range m.OpsetImports {
		var ob []byte
		ob = appendStringField(ob, 1, op.Domain)
		ob = appendVarintField(ob, 2, uint64(op.Version))
		b = appendMessage(b, 8, ob)
	}
	return append(b, m.unknown...)
}

func appendGraph(b []byte, g *Graph) []byte {
	for _, n := range g.Nodes {
		b = appendMessage(b, 1, appendNode(nil, n))
	}
	b = appendStringField(b, 2, g.Name)
	for _, t := range g.Initializers {
		b = appendMessage(b, 5, appendTensor(nil, t))
	}
	for _, vi := range g.Inputs {
		b = appendMessage(b, 11, appendValueInfo(nil, vi))
	}
	for _, vi := range g.Outputs {
		b = appendMessage(b, 12, appendValueInfo(nil, vi))
	}
	for _, vi := range g.ValueInfo {
		b = appendMessage(b, 13, appendValueInfo(nil, vi))
	}
	return append(b, g.unknown...)
}

func appendNode(b []byte, n *Node) []byte {
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendStringField(b, 3, n.Name)
	b = appendStringField(b, 4, n.OpType)
	for _, a := range n.Attributes {
		b = appendMessage(b, 5, appendAttribute(nil, a))
	}
	b = appendStringField(b, 7, n.Domain)
	return append(b, n.unknown...)
}

func appendAttribute(b []byte, a *Attribute) []byte {
	b = appendStringField(b, 1, a.Name)
	if a.F != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	}
	b = appendVarintField(b, 3, uint64(a.I))
	if a.S != nil {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.S)
	}
	b = appendPackedFloats(b, 7, a.Floats)
	b = appendPackedInt64s(b, 8, a.Ints)
	b = appendVarintField(b, 20, uint64(a.Type))
	return append(b, a.unknown...)
}

func appendValueInfo(b []byte, vi *ValueInfo) []byte {
	b = appendStringField(b, 1, vi.Name)
	return append(b, vi.unknown...)
}

func appendTensor(b []byte, t *Tensor) []byte {
	b = appendPackedInt64s(b, 1, t.Dims)
	b = appendVarintField(b, 2, uint64(t.DataType))
	b = appendPackedFloats(b, 4, t.FloatData)
	if len(t.Int32Data) > 0 {
		vals := make([]int64, len(t.Int32Data))
		for i, v := range t.Int32Data {
			vals[i] = int64(v)
		}
		b = appendPackedInt64s(b, 5, vals)
	}
	b = appendPackedInt64s(b, 7, t.Int64Data)
	b = appendStringField(b, 8, t.Name)
	if t.RawData != nil {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, t.RawData)
	}
	b = appendVarintField(b, 14, uint64(t.DataLocation))
	return append(b, t.unknown...)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPackedInt64s(b []byte, num protowire.Number, vals []int64) []byte {
	if len(vals) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendPackedFloats(b []byte, num protowire.Number, vals []float32) []byte {
	if len(vals) == 0 {
		return b
	}
	packed := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}
