//go:build !unix

package onnx

import "os"

func mapFile(f *os.File, size int) ([]byte, bool, error) {
	data, err := readAll(f, size)
	return data, false, err
}

func unmapFile([]byte) error { return nil }
