// Package mmap provides read-only memory-mapped file access.
//
// Hot-cache entries loaded from disk are mapped rather than copied, so a
// repeat hit costs no read syscall and no heap allocation. Close unmaps
// the memory; callers must not touch Data afterwards.
package mmap

import (
	"errors"
	"io"
	"os"
)

// ErrInvalidSize is returned when the file size cannot be mapped.
var ErrInvalidSize = errors.New("mmap: invalid file size")

// File is a read-only memory-mapped file.
type File struct {
	Data []byte
	f    *os.File
}

// Open maps the file at path into memory as read-only.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := fi.Size()
	if size < 0 || size != int64(int(size)) {
		f.Close()
		return nil, ErrInvalidSize
	}
	if size == 0 {
		return &File{Data: nil, f: f}, nil
	}

	data, err := mmap(f, int(size))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{Data: data, f: f}, nil
}

// Close unmaps the memory and closes the underlying file. Idempotent.
func (m *File) Close() error {
	if m == nil {
		return nil
	}
	var err error
	if m.Data != nil {
		err = munmap(m.Data)
		m.Data = nil
	}
	if m.f != nil {
		if closeErr := m.f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		m.f = nil
	}
	return err
}

// Size returns the mapped length in bytes.
func (m *File) Size() int64 {
	return int64(len(m.Data))
}

// ReadAt implements io.ReaderAt on the mapped data.
func (m *File) ReadAt(p []byte, off int64) (n int, err error) {
	if m.Data == nil {
		return 0, io.EOF
	}
	if off < 0 || off >= int64(len(m.Data)) {
		return 0, io.EOF
	}
	n = copy(p, m.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
