// Package retry implements the fixed-budget retry used at every network and
// storage boundary. There is no backoff: each attempt is a full retry of the
// operation and the budget is a plain attempt count.
package retry

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/itohio/gosck/pkg/wallclock"
)

// DefaultAttempts is the retry budget for connects,
// time fetches and clock adjustments.
const DefaultAttempts = 5

// ErrFailed is returned by a boolean task that reported failure.
var ErrFailed = errors.New("operation failed")

// Task is a single attempt. Attempts are numbered from 1.
type Task = func(attempt int) error

// Fixed retries a task a bounded number of times.
type Fixed struct {
	// Attempts is the total number of attempts. Values below 1 mean a single
	// attempt.
	Attempts int

	// Pause is an optional delay between attempts.
	Pause time.Duration

	// Clock drives Pause. Defaults to the system clock.
	Clock wallclock.Clock

	// Logger receives per-attempt debug records and the final outcome.
	Logger *slog.Logger
}

// Start runs task until it succeeds or the budget is exhausted. The error of
// the last attempt is returned, wrapped with the task name.
func (f Fixed) Start(name string, task Task) error {
	attempts := max(f.Attempts, 1)
	clock := f.Clock
	if clock == nil {
		clock = wallclock.System{}
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = task(attempt); err == nil {
			if attempt > 1 {
				logger.Debug("retry succeeded", slog.String("task", name), slog.Int("attempt", attempt))
			}
			return nil
		}
		logger.Debug("attempt failed",
			slog.String("task", name),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if attempt < attempts && f.Pause > 0 {
			clock.Sleep(f.Pause)
		}
	}
	return fmt.Errorf("%s: %d attempts: %w", name, attempts, err)
}

// Do is the boolean form: op is attempted up to n times and Do reports
// whether any attempt succeeded.
func Do(n int, op func() bool) bool {
	err := Fixed{Attempts: n, Logger: discard}.Start("op", func(int) error {
		if op() {
			return nil
		}
		return ErrFailed
	})
	return err == nil
}

var discard = slog.New(slog.DiscardHandler)
