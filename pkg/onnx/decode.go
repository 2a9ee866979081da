package onnx

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Unmarshal decodes a serialized ModelProto.
//
// Byte payloads (raw tensor data) alias data, so data must outlive the model.
func Unmarshal(data []byte) (*Model, error) {
	m := &Model{}
	if err := decodeModel(data, m); err != nil {
		return nil, err
	}
	if m.Graph == nil {
		return nil, ErrNoGraph
	}
	return m, nil
}

// wireField is one decoded field. raw holds the complete encoding (tag included)
// so fields the codec does not interpret can be re-emitted verbatim.
type wireField struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	bytes   []byte
	raw     []byte
}

func readField(b []byte) (wireField, int, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return wireField{}, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	f := wireField{num: num, typ: typ}
	rest := b[n:]
	var m int
	switch typ {
	case protowire.VarintType:
		f.varint, m = protowire.ConsumeVarint(rest)
	case protowire.Fixed32Type:
		f.fixed32, m = protowire.ConsumeFixed32(rest)
	case protowire.BytesType:
		f.bytes, m = protowire.ConsumeBytes(rest)
	default:
		m = protowire.ConsumeFieldValue(num, typ, rest)
	}
	if m < 0 {
		return wireField{}, 0, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
	}
	f.raw = b[:n+m]
	return f, n + m, nil
}

// eachField calls fn for every field in b. fn returns false when it did not
// consume the field, in which case the raw bytes are appended to *unknown.
func eachField(b []byte, unknown *[]byte, fn func(f wireField) (bool, error)) error {
	for len(b) > 0 {
		f, n, err := readField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		ok, err := fn(f)
		if err != nil {
			return err
		}
		if !ok {
			*unknown = append(*unknown, f.raw...)
		}
	}
	return nil
}

func decodeModel(b []byte, m *Model) error {
	return eachField(b, &m.unknown, func(f wireField) (bool, error) {
		switch {
		case f.num == 1 && f.typ == protowire.VarintType:
			m.IRVersion = int64(f.varint)
		case f.num == 2 && f.typ == protowire.BytesType:
			m.ProducerName = string(f.bytes)
		case f.num == 3 && f.typ == protowire.BytesType:
			m.ProducerVersion = string(f.bytes)
		case f.num == 7 && f.typ == protowire.BytesType:
			g := &Graph{}
			if err := decodeGraph(f.bytes, g); err != nil {
				return false, fmt.Errorf("graph: %w", err)
			}
			m.Graph = g
		case f.num == 8 && f.typ == protowire.BytesType:
			var op OperatorSetID
			if err := decodeOpset(f.bytes, &op); err != nil {
				return false, fmt.Errorf("opset_import: %w", err)
			}
			m.OpsetImports = append(m.OpsetImports, op)
		default:
			return false, nil
		}
		return true, nil
	})
}

func decodeOpset(b []byte, op *OperatorSetID) error {
	var discard []byte
	return eachField(b, &discard, func(f wireField) (bool, error) {
		switch {
		case f.num == 1 && f.typ == protowire.BytesType:
			op.Domain = string(f.bytes)
		case f.num == 2 && f.typ == protowire.VarintType:
			op.Version = int64(f.varint)
		default:
			return false, nil
		}
		return true, nil
	})
}

func decodeGraph(b []byte, g *Graph) error {
	return eachField(b, &g.unknown, func(f wireField) (bool, error) {
		if f.typ != protowire.BytesType {
			return false, nil
		}
		switch f.num {
		case 1:
			n := &Node{}
			if err := decodeNode(f.bytes, n); err != nil {
				return false, fmt.Errorf("node %d: %w", len(g.Nodes), err)
			}
			g.Nodes = append(g.Nodes, n)
		case 2:
			g.Name = string(f.bytes)
		case 5:
			t := &Tensor{}
			if err := decodeTensor(f.bytes, t); err != nil {
				return false, fmt.Errorf("initializer %d: %w", len(g.Initializers), err)
			}
			g.Initializers = append(g.Initializers, t)
		case 11, 12, 13:
			vi := &ValueInfo{}
			if err := decodeValueInfo(f.bytes, vi); err != nil {
				return false, fmt.Errorf("value info: %w", err)
			}
			switch f.num {
			case 11:
				g.Inputs = append(g.Inputs, vi)
			case 12:
				g.Outputs = append(g.Outputs, vi)
			default:
				g.ValueInfo = append(g.ValueInfo, vi)
			}
		default:
			return false, nil
		}
		return true, nil
	})
}

func decodeNode(b []byte, n *Node) error {
	return eachField(b, &n.unknown, func(f wireField) (bool, error) {
		if f.typ != protowire.BytesType {
			return false, nil
		}
		switch f.num {
		case 1:
			n.Inputs = append(n.Inputs, string(f.bytes))
		case 2:
			n.Outputs = append(n.Outputs, string(f.bytes))
		case 3:
			n.Name = string(f.bytes)
		case 4:
			n.OpType = string(f.bytes)
		case 5:
			a := &Attribute{}
			if err := decodeAttribute(f.bytes, a); err != nil {
				return false, fmt.Errorf("attribute: %w", err)
			}
			n.Attributes = append(n.Attributes, a)
		case 7:
			n.Domain = string(f.bytes)
		default:
			return false, nil
		}
		return true, nil
	})
}

func decodeAttribute(b []byte, a *Attribute) error {
	return eachField(b, &a.unknown, func(f wireField) (bool, error) {
		switch {
		case f.num == 1 && f.typ == protowire.BytesType:
			a.Name = string(f.bytes)
		case f.num == 20 && f.typ == protowire.VarintType:
			a.Type = AttributeType(f.varint)
		case f.num == 2 && f.typ == protowire.Fixed32Type:
			a.F = math.Float32frombits(f.fixed32)
		case f.num == 3 && f.typ == protowire.VarintType:
			a.I = int64(f.varint)
		case f.num == 4 && f.typ == protowire.BytesType:
			a.S = f.bytes
		case f.num == 7:
			vals, err := appendFloats(a.Floats, f)
			if err != nil {
				return false, err
			}
			a.Floats = vals
		case f.num == 8:
			vals, err := appendInt64s(a.Ints, f)
			if err != nil {
				return false, err
			}
			a.Ints = vals
		default:
			return false, nil
		}
		return true, nil
	})
}

func decodeValueInfo(b []byte, vi *ValueInfo) error {
	return eachField(b, &vi.unknown, func(f wireField) (bool, error) {
		if f.num == 1 && f.typ == protowire.BytesType {
			vi.Name = string(f.bytes)
			return true, nil
		}
		return false, nil
	})
}

func decodeTensor(b []byte, t *Tensor) error {
	return eachField(b, &t.unknown, func(f wireField) (bool, error) {
		var err error
		switch {
		case f.num == 1:
			t.Dims, err = appendInt64s(t.Dims, f)
		case f.num == 2 && f.typ == protowire.VarintType:
			t.DataType = DataType(int32(f.varint))
		case f.num == 4:
			t.FloatData, err = appendFloats(t.FloatData, f)
		case f.num == 5:
			var vals []int64
			vals, err = appendInt64s(nil, f)
			for _, v := range vals {
				t.Int32Data = append(t.Int32Data, int32(v))
			}
		case f.num == 7:
			t.Int64Data, err = appendInt64s(t.Int64Data, f)
		case f.num == 8 && f.typ == protowire.BytesType:
			t.Name = string(f.bytes)
		case f.num == 9 && f.typ == protowire.BytesType:
			t.RawData = f.bytes
		case f.num == 14 && f.typ == protowire.VarintType:
			t.DataLocation = int32(f.varint)
		default:
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("tensor field %d: %w", f.num, err)
		}
		return true, nil
	})
}

// appendInt64s accepts both packed and unpacked encodings.
func appendInt64s(dst []int64, f wireField) ([]int64, error) {
	switch f.typ {
	case protowire.VarintType:
		return append(dst, int64(f.varint)), nil
	case protowire.BytesType:
		b := f.bytes
		for len(b) > 0 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: packed varint: %v", ErrMalformed, protowire.ParseError(n))
			}
			dst = append(dst, int64(v))
			b = b[n:]
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("%w: field %d: unexpected wire type %d", ErrMalformed, f.num, f.typ)
	}
}

// appendFloats accepts both packed and unpacked encodings.
func appendFloats(dst []float32, f wireField) ([]float32, error) {
	switch f.typ {
	case protowire.Fixed32Type:
		return append(dst, math.Float32frombits(f.fixed32)), nil
	case protowire.BytesType:
		if len(f.bytes)%4 != 0 {
			return nil, fmt.Errorf("%w: packed float length %d", ErrMalformed, len(f.bytes))
		}
		b := f.bytes
		if dst == nil {
			dst = make([]float32, 0, len(b)/4)
		}
		for len(b) > 0 {
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: packed float: %v", ErrMalformed, protowire.ParseError(n))
			}
			dst = append(dst, math.Float32frombits(v))
			b = b[n:]
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("%w: field %d: unexpected wire type %d", ErrMalformed, f.num, f.typ)
	}
}
