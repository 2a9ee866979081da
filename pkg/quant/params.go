package quant

import "math"

// smallestNormal is numpy.finfo(float32).tiny.
const smallestNormal = 1.1754944e-38

// Params are per-tensor affine quantization parameters:
// q = clip(round(x/Scale) + ZeroPoint, QMin, QMax).
type Params struct {
	Scale     float32
	ZeroPoint int32
	QMin      int32
	QMax      int32
}

// ComputeParams derives scale and zero point for the observed range
// [rmin, rmax]. The range is widened to include zero so that zero is exactly
// representable.
func ComputeParams(rmin, rmax float32, qmin, qmax int32, symmetric bool) Params {
	rmin = min(rmin, 0)
	rmax = max(rmax, 0)
	if symmetric {
		absMax := max(float32(math.Abs(float64(rmin))), float32(math.Abs(float64(rmax))))
		rmin, rmax = -absMax, absMax
	}

	p := Params{QMin: qmin, QMax: qmax}
	scale := (rmax - rmin) / float32(qmax-qmin)
	if scale < smallestNormal {
		p.Scale = 1
		p.ZeroPoint = 0
		return p
	}
	p.Scale = scale
	if symmetric {
		p.ZeroPoint = int32(math.RoundToEven(float64(qmin+qmax) / 2))
	} else {
		p.ZeroPoint = int32(math.RoundToEven(float64(float32(qmin) - rmin/scale)))
	}
	return p
}

// Quantize maps one value.
func (p Params) Quantize(x float32) int32 {
	q := int32(math.RoundToEven(float64(x/p.Scale))) + p.ZeroPoint
	return min(max(q, p.QMin), p.QMax)
}

// Dequantize maps one quantized value back to float.
func (p Params) Dequantize(q int32) float32 {
	return float32(q-p.ZeroPoint) * p.Scale
}

// QuantizeSlice quantizes vals into one byte per element. Signed results are
// stored as their two's complement byte.
func (p Params) QuantizeSlice(vals []float32) []byte {
	out := make([]byte, len(vals))
	for i, v := range vals {
		out[i] = byte(p.Quantize(v))
	}
	return out
}
