package buffer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

// StorageRegion is the disk side of the buffer manager: one backing file per
// size class, addressed by page index. It implements the Frame I/O contract
// used by eviction (write-back of dirty victims) and by operators reloading
// previously evicted pages.
type StorageRegion struct {
	dir     string
	classes SizeClasses
	files   []*os.File

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// NewStorageRegion creates the directory and one file per size class.
func NewStorageRegion(dir string, classes SizeClasses) (*StorageRegion, error) {
	if err := classes.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}

	s := &StorageRegion{dir: dir, classes: classes, files: make([]*os.File, len(classes))}
	for i, classBytes := range classes {
		path := filepath.Join(dir, fmt.Sprintf("pages-%d.data", classBytes))
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		s.files[i] = f
	}
	return s, nil
}

// WritePage persists the page at its class-and-index offset. buf must cover
// the full page.
func (s *StorageRegion) WritePage(id PageID, buf []byte) error {
	offset, err := s.offset(id, buf)
	if err != nil {
		return err
	}
	if _, err := s.files[id.SizeClass()].WriteAt(buf, offset); err != nil {
		return fmt.Errorf("write of %v failed: %v: %w", id, err, ErrIO)
	}
	s.bytesWritten.Add(uint64(len(buf)))
	return nil
}

// ReadPage loads the page into buf. A page that was never written back reads
// as zeroes.
func (s *StorageRegion) ReadPage(id PageID, buf []byte) error {
	offset, err := s.offset(id, buf)
	if err != nil {
		return err
	}
	n, err := s.files[id.SizeClass()].ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read of %v failed: %v: %w", id, err, ErrIO)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	s.bytesRead.Add(uint64(len(buf)))
	return nil
}

// TotalBytesWritten returns the cumulative write-back volume.
func (s *StorageRegion) TotalBytesWritten() uint64 { return s.bytesWritten.Load() }

// TotalBytesRead returns the cumulative read volume.
func (s *StorageRegion) TotalBytesRead() uint64 { return s.bytesRead.Load() }

// Close closes and removes the backing files; the region holds no data a
// restart could reuse.
func (s *StorageRegion) Close() error {
	var firstErr error
	for i, f := range s.files {
		if f == nil {
			continue
		}
		name := f.Name()
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := os.Remove(name); err != nil && firstErr == nil {
			firstErr = err
		}
		s.files[i] = nil
	}
	return firstErr
}

func (s *StorageRegion) offset(id PageID, buf []byte) (int64, error) {
	if !id.Valid() || id.SizeClass() >= len(s.classes) {
		return 0, fmt.Errorf("storage access with %v: %w", id, ErrInvalidPageID)
	}
	classBytes := s.classes[id.SizeClass()]
	if uint64(len(buf)) != classBytes {
		return 0, fmt.Errorf("buffer of %d bytes does not cover a %d byte page: %w",
			len(buf), classBytes, ErrInvalidPageID)
	}
	return int64(id.Index() * classBytes), nil
}
