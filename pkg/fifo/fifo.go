// Package fifo implements the persistent reading buffer: a circular queue of
// fixed-size records in the data scope of a store, with its read and write
// cursors in the config scope.
//
// A record is written payload first and committed by persisting the write
// cursor, so a crash between the two leaves the record absent. One slot is
// always kept free so that equal cursors mean an empty buffer. A reset is
// bracketed by a persisted marker and is completed on the next load if it
// was interrupted.
package fifo

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/itohio/gosck/pkg/sample"
	"github.com/itohio/gosck/pkg/store"
	"github.com/itohio/gosck/pkg/telemetry"
)

// DefaultTimeWidth is the timestamp field width of a record.
const DefaultTimeWidth = 20

var (
	// ErrFull is returned by Enqueue when the record does not fit.
	ErrFull = errors.New("reading buffer full")
	// ErrEmpty is returned when there is nothing to read.
	ErrEmpty = errors.New("reading buffer empty")
)

// Buffer is the persistent FIFO of readings.
type Buffer struct {
	mu        sync.Mutex
	store     store.Store
	logger    *slog.Logger
	size      int
	slots     int
	timeWidth int

	write, read int
}

// RecordSize returns the size in bytes of one record.
func RecordSize(timeWidth int) int {
	return sample.NumChannels*store.ScalarSize + timeWidth
}

// New opens the buffer over capacity bytes of the data scope, loading the
// persisted cursors. Cursors that do not describe a valid state are reset.
func New(s store.Store, capacity, timeWidth int, logger *slog.Logger) (*Buffer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeWidth <= 0 {
		timeWidth = DefaultTimeWidth
	}

	b := &Buffer{
		store:     s,
		logger:    logger.With("component", "fifo"),
		size:      RecordSize(timeWidth),
		timeWidth: timeWidth,
	}
	b.slots = capacity / b.size
	if b.slots < 2 {
		return nil, fmt.Errorf("capacity %d too small for %d byte records", capacity, b.size)
	}

	if err := b.load(); err != nil {
		return nil, err
	}
	telemetry.BufferPending.Set(float64(b.pending()))
	return b, nil
}

func (b *Buffer) load() error {
	resetting, err := b.store.ReadScalar(store.Config, store.AddrResetting)
	if err != nil {
		return fmt.Errorf("failed to read reset marker: %w", err)
	}
	if resetting != 0 {
		b.logger.Warn("Completing interrupted buffer reset")
		return b.reset()
	}

	w, err := b.store.ReadScalar(store.Config, store.AddrWriteCursor)
	if err != nil {
		return fmt.Errorf("failed to read write cursor: %w", err)
	}
	r, err := b.store.ReadScalar(store.Config, store.AddrReadCursor)
	if err != nil {
		return fmt.Errorf("failed to read read cursor: %w", err)
	}

	b.write, b.read = int(w), int(r)
	switch {
	case !b.valid(b.write) || !b.valid(b.read):
		b.logger.Warn("Invalid buffer cursors, resetting", "write", w, "read", r)
		return b.reset()
	case b.write == b.read && b.write != 0:
		return b.reset()
	}
	return nil
}

func (b *Buffer) valid(addr int) bool {
	return addr >= 0 && addr%b.size == 0 && addr < b.slots*b.size
}

func (b *Buffer) next(addr int) int {
	addr += b.size
	if addr >= b.slots*b.size {
		return 0
	}
	return addr
}

func (b *Buffer) pending() int {
	if b.write >= b.read {
		return (b.write - b.read) / b.size
	}
	return (b.slots*b.size - b.read + b.write) / b.size
}

// reset persists an empty buffer at the origin.
func (b *Buffer) reset() error {
	if err := b.persist(store.AddrResetting, 1); err != nil {
		return err
	}
	if err := b.persist(store.AddrWriteCursor, 0); err != nil {
		return err
	}
	b.write = 0
	if err := b.persist(store.AddrReadCursor, 0); err != nil {
		return err
	}
	b.read = 0
	return b.persist(store.AddrResetting, 0)
}

func (b *Buffer) persist(addr, v int) error {
	if err := b.store.WriteScalar(store.Config, addr, int32(v)); err != nil {
		return fmt.Errorf("failed to persist config word %d: %w", addr, err)
	}
	return nil
}

// RecordSize returns the size in bytes of one record.
func (b *Buffer) RecordSize() int {
	return b.size
}

// Capacity returns the maximum number of pending records.
func (b *Buffer) Capacity() int {
	return b.slots - 1
}

// Cursors returns the write and read cursors.
func (b *Buffer) Cursors() (write, read int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write, b.read
}

// Pending returns the number of records waiting to be read.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending()
}

// Enqueue appends r. When the buffer is full the reading is dropped and
// ErrFull returned; the buffer is unchanged.
func (b *Buffer) Enqueue(r sample.Reading) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.next(b.write)
	if next == b.read {
		telemetry.ReadingsDropped.Inc()
		return ErrFull
	}

	for i, v := range r.Values {
		if err := b.store.WriteScalar(store.Data, b.write+i*store.ScalarSize, v); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	ts := r.Time
	if len(ts) > b.timeWidth {
		ts = ts[:b.timeWidth]
	}
	if err := b.store.WriteString(store.Data, b.write+sample.NumChannels*store.ScalarSize, b.timeWidth, ts); err != nil {
		return fmt.Errorf("failed to write record time: %w", err)
	}

	if err := b.persist(store.AddrWriteCursor, next); err != nil {
		return err
	}
	b.write = next

	telemetry.ReadingsBuffered.Inc()
	telemetry.BufferPending.Set(float64(b.pending()))
	return nil
}

func (b *Buffer) readAt(addr int) (sample.Reading, error) {
	var r sample.Reading
	for i := range r.Values {
		v, err := b.store.ReadScalar(store.Data, addr+i*store.ScalarSize)
		if err != nil {
			return r, fmt.Errorf("failed to read record: %w", err)
		}
		r.Values[i] = v
	}
	ts, err := b.store.ReadString(store.Data, addr+sample.NumChannels*store.ScalarSize, b.timeWidth)
	if err != nil {
		return r, fmt.Errorf("failed to read record time: %w", err)
	}
	r.Time = ts
	return r, nil
}

// Peek returns the oldest pending record without removing it.
func (b *Buffer) Peek() (sample.Reading, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.write == b.read {
		return sample.Reading{}, ErrEmpty
	}
	return b.readAt(b.read)
}

// PeekN returns up to n of the oldest pending records, oldest first, without
// removing them.
func (b *Buffer) PeekN(n int) ([]sample.Reading, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n = min(n, b.pending())
	out := make([]sample.Reading, 0, n)
	addr := b.read
	for range n {
		r, err := b.readAt(addr)
		if err != nil {
			return out, err
		}
		out = append(out, r)
		addr = b.next(addr)
	}
	return out, nil
}

// Advance removes the oldest pending record. When the read cursor catches
// the write cursor both are returned to the origin.
func (b *Buffer) Advance() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.write == b.read {
		return ErrEmpty
	}

	next := b.next(b.read)
	if err := b.persist(store.AddrReadCursor, next); err != nil {
		return err
	}
	b.read = next

	if b.read == b.write {
		if err := b.reset(); err != nil {
			return err
		}
	}
	telemetry.BufferPending.Set(float64(b.pending()))
	return nil
}

// Clear discards every pending record.
func (b *Buffer) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.reset(); err != nil {
		return err
	}
	telemetry.BufferPending.Set(0)
	b.logger.Info("Reading buffer cleared")
	return nil
}
