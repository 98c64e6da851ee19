package store

import (
	"sync"
)

// Memory is a volatile Store, used by tests and when no image directory is
// configured.
type Memory struct {
	mu     sync.RWMutex
	scopes [2][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory creates a zeroed store with the given scope sizes.
func NewMemory(configSize, dataSize int) *Memory {
	return &Memory{
		scopes: [2][]byte{make([]byte, configSize), make([]byte, dataSize)},
	}
}

// Size returns the size of a scope in bytes.
func (m *Memory) Size(scope Scope) int {
	return len(m.scopes[scope])
}

func (m *Memory) readAt(scope Scope, p []byte, addr int) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	buf := m.scopes[scope]
	if err := checkRange(scope, addr, len(p), len(buf)); err != nil {
		return err
	}
	copy(p, buf[addr:])
	return nil
}

func (m *Memory) writeAt(scope Scope, p []byte, addr int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := m.scopes[scope]
	if err := checkRange(scope, addr, len(p), len(buf)); err != nil {
		return err
	}
	copy(buf[addr:], p)
	return nil
}

// ReadScalar reads a 4-byte scalar.
func (m *Memory) ReadScalar(scope Scope, addr int) (int32, error) {
	return readScalar(m, scope, addr)
}

// WriteScalar writes a 4-byte scalar.
func (m *Memory) WriteScalar(scope Scope, addr int, v int32) error {
	return writeScalar(m, scope, addr, v)
}

// ReadString reads a NUL-padded string field.
func (m *Memory) ReadString(scope Scope, addr, width int) (string, error) {
	return readString(m, scope, addr, width)
}

// WriteString writes s into a NUL-padded field of the given width.
func (m *Memory) WriteString(scope Scope, addr, width int, s string) error {
	return writeString(m, scope, addr, width, s)
}
