// Package mmap provides read-only memory mapping of map files.
//
// Descriptor blobs in a local map directory are read through a mapping so that
// repeated range reads of the same file do not go through the page cache copy
// path twice.
package mmap

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrClosed is returned when reading from a closed mapping.
var ErrClosed = errors.New("mmap: file closed")

// File is a read-only memory-mapped file.
type File struct {
	data   []byte
	f      *os.File
	mapped bool
}

// Open maps the file at path into memory.
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
	if size == 0 {
		return &File{f: f}, nil
	}
	if size < 0 || int64(int(size)) != size {
		f.Close()
		return nil, fmt.Errorf("mmap: invalid file size %d", size)
	}

	data, mapped, err := mmap(f, int(size))
	if err != nil {
		f.Close()
		return nil, err
	}

	return &File{data: data, f: f, mapped: mapped}, nil
}

// Len returns the mapped size in bytes.
func (m *File) Len() int { return len(m.data) }

// Bytes returns the mapped region. The slice is only valid until Close.
func (m *File) Bytes() []byte { return m.data }

// ReadAt implements io.ReaderAt.
func (m *File) ReadAt(p []byte, off int64) (int, error) {
	if m.f == nil {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("mmap: negative offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the memory and closes the underlying file.
func (m *File) Close() error {
	if m == nil || m.f == nil {
		return nil
	}
	var err error
	if m.mapped && m.data != nil {
		err = munmap(m.data)
	}
	m.data = nil
	if closeErr := m.f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	m.f = nil
	return err
}
