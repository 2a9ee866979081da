package onnx

import (
	"fmt"
	"io"
	"os"
)

// File is a model decoded from disk. Tensor payloads alias Data, which may be
// a read-only mapping; Close releases it once the model is no longer needed.
type File struct {
	Model *Model
	Size  int64

	data    []byte
	mmapped bool
}

// Open maps path read-only and decodes the model.
// If mmap is unavailable, it falls back to reading the file into memory.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := st.Size()
	if size64 <= 0 || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: %s has size %d", ErrMalformed, path, size64)
	}
	size := int(size64)

	data, mapped, err := mapFile(f, size)
	if err != nil {
		return nil, err
	}
	m, err := Unmarshal(data)
	if err != nil {
		if mapped {
			_ = unmapFile(data)
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &File{Model: m, Size: size64, data: data, mmapped: mapped}, nil
}

// Close releases the mapping, if any. The model must not be used afterwards.
func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	data := f.data
	f.data = nil
	f.Model = nil
	if !f.mmapped {
		return nil
	}
	return unmapFile(data)
}

func readAll(f *os.File, size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
