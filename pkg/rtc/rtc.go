// Package rtc models the kit's real-time clock.
package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/itohio/gosck/pkg/sample"
	"github.com/itohio/gosck/pkg/wallclock"
)

// MinYear is the earliest year a valid clock can report.
const MinYear = 2013

// Clock is the real-time clock contract.
type Clock interface {
	// Present reports whether a clock is fitted.
	Present() bool
	// Time returns the current time in sample.TimeLayout, or false when
	// the clock has no valid time.
	Time() (string, bool)
	// Adjust sets the clock from a sample.TimeLayout timestamp.
	Adjust(ts string) error
}

// IsValid reports whether ts is a usable timestamp.
func IsValid(ts string) bool {
	t, err := time.Parse(sample.TimeLayout, ts)
	return err == nil && t.Year() >= MinYear
}

// Absent is a board without a clock.
type Absent struct{}

var _ Clock = Absent{}

func (Absent) Present() bool          { return false }
func (Absent) Time() (string, bool)   { return sample.NoTime, false }
func (Absent) Adjust(ts string) error { return fmt.Errorf("no real-time clock") }

// Soft is a clock kept as an offset from a wallclock. Until adjusted it
// reports no valid time unless the host clock is trusted.
type Soft struct {
	mu     sync.Mutex
	clock  wallclock.Clock
	offset time.Duration
	valid  bool
}

var _ Clock = (*Soft)(nil)

// NewSoft creates a soft clock. When trustHost is set the host time is
// considered valid from the start.
func NewSoft(clock wallclock.Clock, trustHost bool) *Soft {
	if clock == nil {
		clock = wallclock.System{}
	}
	return &Soft{clock: clock, valid: trustHost}
}

// Present implements Clock.
func (s *Soft) Present() bool {
	return true
}

// Time implements Clock.
func (s *Soft) Time() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return sample.NoTime, false
	}
	ts := sample.FormatTime(s.clock.Now().Add(s.offset).UTC())
	return ts, IsValid(ts)
}

// Adjust implements Clock.
func (s *Soft) Adjust(ts string) error {
	t, err := time.Parse(sample.TimeLayout, ts)
	if err != nil {
		return fmt.Errorf("failed to parse time %q: %w", ts, err)
	}
	if t.Year() < MinYear {
		return fmt.Errorf("time %q before %d", ts, MinYear)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = t.Sub(s.clock.Now())
	s.valid = true
	return nil
}
