package quant

import "errors"

var (
	ErrUnsupportedOp = errors.New("operator type not supported for dynamic quantization")
	ErrNonFinite     = errors.New("weight contains NaN or Inf")
)
