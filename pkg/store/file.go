package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// ConfigImage is the file name of the config scope image.
	ConfigImage = "config.img"
	// DataImage is the file name of the data scope image.
	DataImage = "data.img"
)

// File is a Store backed by two fixed-size image files. Every write is
// synced before it returns so a completed write survives power loss.
type File struct {
	mu    sync.Mutex
	files [2]*os.File
	sizes [2]int
}

var _ Store = (*File)(nil)

// OpenFile opens (creating if needed) the images under dir and grows them
// to the requested sizes.
func OpenFile(dir string, configSize, dataSize int) (*File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	f := &File{sizes: [2]int{configSize, dataSize}}
	for i, name := range []string{ConfigImage, DataImage} {
		fh, err := openImage(filepath.Join(dir, name), f.sizes[i])
		if err != nil {
			f.Close()
			return nil, err
		}
		f.files[i] = fh
	}
	return f, nil
}

func openImage(path string, size int) (*os.File, error) {
	fh, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("failed to stat image %s: %w", path, err)
	}
	if info.Size() < int64(size) {
		if err := fh.Truncate(int64(size)); err != nil {
			fh.Close()
			return nil, fmt.Errorf("failed to size image %s: %w", path, err)
		}
	}
	return fh, nil
}

// Close closes both images.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for i, fh := range f.files {
		if fh == nil {
			continue
		}
		if err := fh.Close(); err != nil {
			errs = append(errs, err)
		}
		f.files[i] = nil
	}
	return errors.Join(errs...)
}

func (f *File) readAt(scope Scope, p []byte, addr int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkRange(scope, addr, len(p), f.sizes[scope]); err != nil {
		return err
	}
	if f.files[scope] == nil {
		return fmt.Errorf("%s image closed", scope)
	}
	if _, err := f.files[scope].ReadAt(p, int64(addr)); err != nil {
		return fmt.Errorf("failed to read %s image: %w", scope, err)
	}
	return nil
}

func (f *File) writeAt(scope Scope, p []byte, addr int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkRange(scope, addr, len(p), f.sizes[scope]); err != nil {
		return err
	}
	fh := f.files[scope]
	if fh == nil {
		return fmt.Errorf("%s image closed", scope)
	}
	if _, err := fh.WriteAt(p, int64(addr)); err != nil {
		return fmt.Errorf("failed to write %s image: %w", scope, err)
	}
	if err := fh.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s image: %w", scope, err)
	}
	return nil
}

// ReadScalar reads a 4-byte scalar.
func (f *File) ReadScalar(scope Scope, addr int) (int32, error) {
	return readScalar(f, scope, addr)
}

// WriteScalar writes a 4-byte scalar.
func (f *File) WriteScalar(scope Scope, addr int, v int32) error {
	return writeScalar(f, scope, addr, v)
}

// ReadString reads a NUL-padded string field.
func (f *File) ReadString(scope Scope, addr, width int) (string, error) {
	return readString(f, scope, addr, width)
}

// WriteString writes s into a NUL-padded field of the given width.
func (f *File) WriteString(scope Scope, addr, width int, s string) error {
	return writeString(f, scope, addr, width, s)
}
