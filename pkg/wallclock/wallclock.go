package wallclock

import (
	"sync"
	"time"
)

// Clock abstracts the subset of package time the controller depends on, so
// settling delays and timeouts can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// System is the real clock.
type System struct{}

// Now indirects time.Now.
func (System) Now() time.Time {
	return time.Now()
}

// Sleep indirects time.Sleep.
func (System) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Fake is a manually advanced clock. Sleep advances the clock instead of
// blocking.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep advances the fake time by d.
func (f *Fake) Sleep(d time.Duration) {
	f.Advance(d)
}

// Advance moves the fake time forward.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

var (
	_ Clock = System{}
	_ Clock = (*Fake)(nil)
)
