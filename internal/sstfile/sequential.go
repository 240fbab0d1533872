package sstfile

import (
	"errors"
	"io"
	"os"

	"github.com/s1van/leveldb-mirror/internal/status"
)

// SequentialFile is a forward-only reader used for log replay and other
// sequential scans that never touch mirroring, grounded on
// PosixSequentialFile.
type SequentialFile struct {
	filename string
	file     *os.File
}

// NewSequentialFile opens filename for sequential reads.
func NewSequentialFile(filename string) (*SequentialFile, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, status.IOError(filename, err)
	}

	return &SequentialFile{filename: filename, file: f}, nil
}

// Read fills buf from the current position, advancing it; a short read at
// EOF returns the bytes read so far with a nil error.
func (f *SequentialFile) Read(buf []byte) (int, error) {
	n, err := f.file.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, status.IOError(f.filename, err)
	}

	return n, nil
}

// Skip advances the read position by n bytes without returning them.
func (f *SequentialFile) Skip(n int64) error {
	if _, err := f.file.Seek(n, 1); err != nil {
		return status.IOError(f.filename, err)
	}

	return nil
}

// Close closes the underlying descriptor.
func (f *SequentialFile) Close() error {
	if err := f.file.Close(); err != nil {
		return status.IOError(f.filename, err)
	}

	return nil
}
