package scheduler

import (
	"fmt"

	"github.com/itohio/gosck/pkg/store"
)

// MaxUpdateInterval is the longest accepted update interval, one day.
const MaxUpdateInterval = 24 * 60 * 60

// SetMode persists a new device mode.
func (s *Scheduler) SetMode(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("%w: mode %d", ErrInvalidSetting, int32(m))
	}
	if err := s.opts.Store.WriteScalar(store.Config, store.AddrMode, int32(m)); err != nil {
		return fmt.Errorf("failed to persist mode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Mode = m
	s.logger.Info("Mode changed", "mode", m)
	return nil
}

// SetUpdateInterval persists the seconds between cycles.
func (s *Scheduler) SetUpdateInterval(seconds int) error {
	if seconds < 1 || seconds > MaxUpdateInterval {
		return fmt.Errorf("%w: update interval %d", ErrInvalidSetting, seconds)
	}
	if err := s.opts.Store.WriteScalar(store.Config, store.AddrUpdateInterval, int32(seconds)); err != nil {
		return fmt.Errorf("failed to persist update interval: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applySchedule(int32(seconds), 0)
	return nil
}

// SetBatchThreshold persists the number of readings buffered before a
// flush. It cannot exceed the buffer capacity when a buffer is wired.
func (s *Scheduler) SetBatchThreshold(n int) error {
	limit := int(^uint32(0) >> 1)
	if s.opts.Buffer != nil {
		limit = s.opts.Buffer.Capacity()
	}
	if n < 1 || n > limit {
		return fmt.Errorf("%w: batch threshold %d", ErrInvalidSetting, n)
	}
	if err := s.opts.Store.WriteScalar(store.Config, store.AddrBatchThreshold, int32(n)); err != nil {
		return fmt.Errorf("failed to persist batch threshold: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applySchedule(0, int32(n))
	return nil
}

// AddNetwork appends a known access point.
func (s *Scheduler) AddNetwork(ssid, phrase string) error {
	if ssid == "" || len(ssid) > store.SSIDWidth || len(phrase) > store.PhraseWidth {
		return fmt.Errorf("%w: network %q", ErrInvalidSetting, ssid)
	}
	nets, err := store.ReadNetworks(s.opts.Store)
	if err != nil {
		return err
	}
	if len(nets) >= store.MaxNetworks {
		return fmt.Errorf("%w: already %d networks", ErrInvalidSetting, len(nets))
	}
	return store.WriteNetworks(s.opts.Store, append(nets, store.Network{SSID: ssid, Phrase: phrase}))
}

// ClearNetworks forgets every known access point.
func (s *Scheduler) ClearNetworks() error {
	return store.WriteNetworks(s.opts.Store, nil)
}

// ClearMemory drops every buffered reading.
func (s *Scheduler) ClearMemory() error {
	if s.opts.Buffer == nil {
		return nil
	}
	if err := s.opts.Buffer.Clear(); err != nil {
		return fmt.Errorf("failed to clear buffer: %w", err)
	}
	s.logger.Info("Buffer cleared")
	return nil
}
