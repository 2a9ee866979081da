// Package quant implements dynamic (weight-only ahead of time) quantization of
// ONNX graphs in the integer-operator form used by onnxruntime.
package quant

import (
	"fmt"
	"math"
	"strings"

	"github.com/Vincentjhon31/MangaAutoScroller/pkg/onnx"
)

// Type is the integer type weights are quantized to.
type Type int

const (
	QUInt8 Type = iota
	QInt8
)

func (t Type) String() string {
	switch t {
	case QUInt8:
		return "QUInt8"
	case QInt8:
		return "QInt8"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// DataType is the ONNX element type of a tensor quantized to t.
func (t Type) DataType() onnx.DataType {
	if t == QInt8 {
		return onnx.DataTypeInt8
	}
	return onnx.DataTypeUint8
}

// ParseType accepts uint8/quint8 and int8/qint8, case-insensitively.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uint8", "quint8", "u8":
		return QUInt8, nil
	case "int8", "qint8", "i8":
		return QInt8, nil
	default:
		return 0, fmt.Errorf("unknown weight type %q (want uint8 or int8)", s)
	}
}

// Range returns the integer bounds used for t.
func (t Type) Range(reduceRange, symmetric bool) (qmin, qmax int32) {
	switch t {
	case QInt8:
		switch {
		case reduceRange:
			return -64, 64
		case symmetric:
			return -127, 127
		default:
			return -128, 127
		}
	default:
		if reduceRange {
			return 0, 127
		}
		return 0, 255
	}
}

// Scheme turns a float tensor into a quantized payload.
type Scheme interface {
	Name() string
	Quantise(t *onnx.Tensor) (QuantTensor, error)
}

// QuantTensor is a per-tensor quantized payload. Data holds one byte per
// element, interpreted as uint8 or int8 according to Type.
type QuantTensor struct {
	Type   Type
	Params Params
	Data   []byte
}

// Linear is the per-tensor affine scheme.
type Linear struct {
	Type        Type
	ReduceRange bool
	Symmetric   bool
}

func (l Linear) Name() string {
	mode := "asymmetric"
	if l.Symmetric {
		mode = "symmetric"
	}
	return fmt.Sprintf("linear-%s-%s", strings.ToLower(l.Type.String()), mode)
}

func (l Linear) Quantise(t *onnx.Tensor) (QuantTensor, error) {
	vals, err := t.Floats()
	if err != nil {
		return QuantTensor{}, err
	}
	rmin, rmax, err := minMax(vals)
	if err != nil {
		return QuantTensor{}, fmt.Errorf("%s: %w", t.Name, err)
	}
	qmin, qmax := l.Type.Range(l.ReduceRange, l.Symmetric)
	p := ComputeParams(rmin, rmax, qmin, qmax, l.Symmetric)
	return QuantTensor{
		Type:   l.Type,
		Params: p,
		Data:   p.QuantizeSlice(vals),
	}, nil
}

func minMax(vals []float32) (float32, float32, error) {
	if len(vals) == 0 {
		return 0, 0, nil
	}
	lo, hi := vals[0], vals[0]
	for _, v := range vals {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return 0, 0, ErrNonFinite
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, nil
}
