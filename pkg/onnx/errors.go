package onnx

import "errors"

var (
	ErrMalformed    = errors.New("malformed ONNX protobuf")
	ErrNoGraph      = errors.New("ONNX model has no graph")
	ErrExternalData = errors.New("tensor data is stored externally")
	ErrNotFloat     = errors.New("tensor is not float32")
)
