// Package store provides the byte-addressed non-volatile memory the
// controller persists its settings and buffered readings in.
//
// Two scopes exist: Config holds cursors and settings, Data holds the
// reading buffer. Scalars are 4-byte little-endian signed integers; strings
// are fixed-width and NUL padded.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Scope selects the memory region an address refers to.
type Scope int

const (
	Config Scope = iota
	Data
)

func (s Scope) String() string {
	switch s {
	case Config:
		return "config"
	case Data:
		return "data"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// ScalarSize is the width of a persisted scalar in bytes.
const ScalarSize = 4

var (
	// ErrOutOfRange is returned when an access falls outside a scope.
	ErrOutOfRange = errors.New("address out of range")
	// ErrTooLong is returned when a string does not fit its field.
	ErrTooLong = errors.New("string exceeds field width")
)

// Store is the non-volatile memory contract.
type Store interface {
	ReadScalar(scope Scope, addr int) (int32, error)
	WriteScalar(scope Scope, addr int, v int32) error
	ReadString(scope Scope, addr, width int) (string, error)
	WriteString(scope Scope, addr, width int, s string) error
}

// region is the raw byte access both implementations share.
type region interface {
	readAt(scope Scope, p []byte, addr int) error
	writeAt(scope Scope, p []byte, addr int) error
}

func readScalar(r region, scope Scope, addr int) (int32, error) {
	var buf [ScalarSize]byte
	if err := r.readAt(scope, buf[:], addr); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func writeScalar(r region, scope Scope, addr int, v int32) error {
	var buf [ScalarSize]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return r.writeAt(scope, buf[:], addr)
}

func readString(r region, scope Scope, addr, width int) (string, error) {
	buf := make([]byte, width)
	if err := r.readAt(scope, buf, addr); err != nil {
		return "", err
	}
	if i := strings.IndexByte(string(buf), 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}

func writeString(r region, scope Scope, addr, width int, s string) error {
	if len(s) > width {
		return fmt.Errorf("%w: %d > %d", ErrTooLong, len(s), width)
	}
	buf := make([]byte, width)
	copy(buf, s)
	return r.writeAt(scope, buf, addr)
}

func checkRange(scope Scope, addr, n, size int) error {
	if addr < 0 || addr+n > size {
		return fmt.Errorf("%w: %s [%d, %d) of %d", ErrOutOfRange, scope, addr, addr+n, size)
	}
	return nil
}
