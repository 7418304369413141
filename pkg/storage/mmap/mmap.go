// Package mmap memory-maps snapshot files read-only. Snapshot loads go
// through the page cache instead of a read loop, and partitions that are
// registered but rarely traversed never fault their cold sections in.
package mmap

import (
	"fmt"
	"os"
)

// File is one read-only memory-mapped file. Data stays valid until Close.
type File struct {
	f    *os.File
	Data []byte
}

// Open maps the file at path. Empty files map to a nil Data slice.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return &File{f: f}, nil
	}

	data, err := mmapFile(f.Fd(), int(size))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	return &File{f: f, Data: data}, nil
}

// Close unmaps the region and closes the underlying file. Any slice into
// Data is invalid afterwards.
func (m *File) Close() error {
	var firstErr error
	if m.Data != nil {
		if err := munmapFile(m.Data); err != nil {
			firstErr = err
		}
		m.Data = nil
	}
	if err := m.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
