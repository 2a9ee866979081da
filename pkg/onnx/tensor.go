package onnx

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Floats returns the float32 values of t, decoding raw_data as little-endian
// when present.
func (t *Tensor) Floats() ([]float32, error) {
	if t.DataType != DataTypeFloat {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotFloat, t.Name, t.DataType)
	}
	if t.External() {
		return nil, fmt.Errorf("%w: %s", ErrExternalData, t.Name)
	}
	n := t.NumElements()
	if t.RawData != nil {
		if int64(len(t.RawData)) != n*4 {
			return nil, fmt.Errorf("%w: %s raw_data has %d bytes, want %d", ErrMalformed, t.Name, len(t.RawData), n*4)
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.RawData[4*i:]))
		}
		return out, nil
	}
	if int64(len(t.FloatData)) != n {
		return nil, fmt.Errorf("%w: %s has %d float_data values, want %d", ErrMalformed, t.Name, len(t.FloatData), n)
	}
	return t.FloatData, nil
}

// PayloadSize is the number of bytes the tensor data occupies in the file.
func (t *Tensor) PayloadSize() int64 {
	switch {
	case t.RawData != nil:
		return int64(len(t.RawData))
	case len(t.FloatData) > 0:
		return int64(4 * len(t.FloatData))
	case len(t.Int32Data) > 0:
		return int64(4 * len(t.Int32Data))
	case len(t.Int64Data) > 0:
		return int64(8 * len(t.Int64Data))
	default:
		return 0
	}
}

// Clone returns a shallow copy that shares the data payload.
func (t *Tensor) Clone() *Tensor {
	c := *t
	c.Dims = append([]int64(nil), t.Dims...)
	return &c
}

// NewFloatTensor builds a float32 tensor stored as raw_data.
func NewFloatTensor(name string, dims []int64, vals []float32) *Tensor {
	raw := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	return &Tensor{Name: name, Dims: dims, DataType: DataTypeFloat, RawData: raw}
}

// NewUint8Tensor builds a uint8 tensor stored as raw_data.
func NewUint8Tensor(name string, dims []int64, vals []byte) *Tensor {
	return &Tensor{Name: name, Dims: dims, DataType: DataTypeUint8, RawData: vals}
}

// NewInt64Tensor builds an int64 tensor stored as raw_data.
func NewInt64Tensor(name string, dims []int64, vals []int64) *Tensor {
	raw := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(raw[8*i:], uint64(v))
	}
	return &Tensor{Name: name, Dims: dims, DataType: DataTypeInt64, RawData: raw}
}
