//go:build unix

package onnx

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(f *os.File, size int) ([]byte, bool, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		return data, true, nil
	}
	data, err = readAll(f, size)
	return data, false, err
}

func unmapFile(data []byte) error {
	return unix.Munmap(data)
}
