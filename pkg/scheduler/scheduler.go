// Package scheduler runs the device cycle: it decides when to sample, what
// the gas heaters do, and whether readings are uploaded, buffered or only
// reported.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/gosck/pkg/modem"
	"github.com/itohio/gosck/pkg/output"
	"github.com/itohio/gosck/pkg/rtc"
	"github.com/itohio/gosck/pkg/sample"
	"github.com/itohio/gosck/pkg/server"
	"github.com/itohio/gosck/pkg/store"
	"github.com/itohio/gosck/pkg/telemetry"
	"github.com/itohio/gosck/pkg/wallclock"
)

var (
	// ErrBusy rejects a cycle requested while another is running.
	ErrBusy = errors.New("cycle in progress")
	// ErrInvalidSetting rejects an out-of-range setting.
	ErrInvalidSetting = errors.New("invalid setting")
)

const (
	DefaultUpdateInterval = 60 // s
	DefaultBatchThreshold = 1
	DefaultTick           = time.Second
)

// Uploader sends readings to the collector.
type Uploader interface {
	Connect() bool
	SynchronizeClock() bool
	SendBatch(sleepAllowed bool, r sample.Reading, instant bool) server.Report
}

// Gas drives the heated gas sensors.
type Gas interface {
	Start() error
	Power(active bool) error
	Read() (co, no2 int32)
}

// Sensors fills the non-gas channels of a reading.
type Sensors interface {
	Update(r sample.Reading) sample.Reading
}

// Buffer is the persistent reading buffer.
type Buffer interface {
	Capacity() int
	Clear() error
}

var (
	_ Uploader = (*server.Server)(nil)
)

// Options wires a Scheduler. Output, Buffer and Logger may be nil.
type Options struct {
	Store    store.Store
	Radio    modem.Radio
	RTC      rtc.Clock
	Uploader Uploader
	Gas      Gas
	Sensors  Sensors
	Buffer   Buffer
	Output   output.Output
	Clock    wallclock.Clock
	Logger   *slog.Logger
	// Tick is the Run loop period.
	Tick time.Duration
}

// DeviceState is the scheduler state between cycles.
type DeviceState struct {
	Mode           Mode
	UpdateInterval int // s
	BatchThreshold int
	SleepAllowed   bool
	// ClockValidated is set once the clock was synchronised since boot.
	ClockValidated bool
	LastCycle      time.Time // last interval cycle
	GasPoweredAt   time.Time
	GasPowered     bool
	// Reading is the last reading built.
	Reading sample.Reading
}

// CycleKind tells what Execute did.
type CycleKind int

const (
	CycleSkipped CycleKind = iota // interval not elapsed
	CycleClock                    // clock synchronisation only
	CycleInterval
	CycleInstant
)

func (k CycleKind) String() string {
	switch k {
	case CycleClock:
		return "clock"
	case CycleInterval:
		return "interval"
	case CycleInstant:
		return "instant"
	default:
		return "skipped"
	}
}

// Cycle is the outcome of Execute.
type Cycle struct {
	Kind        CycleKind
	Heater      HeaterAction
	ClockSynced bool
	Reading     sample.Reading
	// Report is set when the reading went through the uploader.
	Report *server.Report
}

// Scheduler is the device mode and cycle state machine.
type Scheduler struct {
	opts    Options
	clock   wallclock.Clock
	logger  *slog.Logger
	running atomic.Bool
	instant chan struct{}

	mu    sync.Mutex
	state DeviceState
}

// New creates a Scheduler. Call Boot before the first cycle.
func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = wallclock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RTC == nil {
		opts.RTC = rtc.Absent{}
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	return &Scheduler{
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger.With("component", "scheduler"),
		instant: make(chan struct{}, 1),
		state: DeviceState{
			Mode:           Normal,
			UpdateInterval: DefaultUpdateInterval,
			BatchThreshold: DefaultBatchThreshold,
		},
	}
}

// State returns a copy of the device state.
func (s *Scheduler) State() DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Boot loads the persisted settings, starts the gas sensors and tries once
// to join a network and synchronise the clock.
func (s *Scheduler) Boot() error {
	settings, err := store.ReadSettings(s.opts.Store)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if m := Mode(settings.Mode); m.Valid() {
		s.state.Mode = m
	} else {
		s.logger.Warn("Invalid stored mode, using default", "mode", settings.Mode, "default", s.state.Mode)
	}
	s.applySchedule(settings.UpdateInterval, settings.BatchThreshold)
	state := s.state
	s.mu.Unlock()

	if err := s.opts.Gas.Start(); err != nil {
		s.logger.Error("Gas sensors failed to start", "error", err)
	}

	synced := false
	if s.opts.Uploader.Connect() {
		synced = s.opts.Uploader.SynchronizeClock()
	} else {
		s.logger.Warn("No network at boot")
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.state.ClockValidated = synced
	s.state.LastCycle = now
	s.state.GasPoweredAt = now
	s.state.GasPowered = true
	s.mu.Unlock()

	s.logger.Info("Booted",
		"mode", state.Mode,
		"interval", state.UpdateInterval,
		"threshold", state.BatchThreshold,
		"sleep", state.SleepAllowed,
		"clock", synced,
	)
	return nil
}

// applySchedule takes valid interval and threshold values. Caller holds mu.
func (s *Scheduler) applySchedule(interval, threshold int32) {
	if interval >= 1 {
		s.state.UpdateInterval = int(interval)
	}
	if threshold >= 1 {
		s.state.BatchThreshold = int(threshold)
	}
	s.state.SleepAllowed = SleepAllowed(s.state.UpdateInterval, s.state.BatchThreshold)
}

func (s *Scheduler) reloadSchedule() {
	interval, err := s.opts.Store.ReadScalar(store.Config, store.AddrUpdateInterval)
	if err != nil {
		s.logger.Warn("Failed to read update interval", "error", err)
		interval = 0
	}
	threshold, err := s.opts.Store.ReadScalar(store.Config, store.AddrBatchThreshold)
	if err != nil {
		s.logger.Warn("Failed to read batch threshold", "error", err)
		threshold = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applySchedule(interval, threshold)
}

func (s *Scheduler) clockValid() bool {
	if !s.opts.RTC.Present() {
		return true
	}
	_, ok := s.opts.RTC.Time()
	return ok
}

// Execute runs one cycle. A timer cycle only samples once the update
// interval has elapsed; an instant cycle samples immediately and leaves the
// interval timer alone. Until the clock is valid every cycle is spent
// synchronising it instead.
func (s *Scheduler) Execute(instant bool) (Cycle, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Cycle{}, ErrBusy
	}
	defer s.running.Store(false)

	state := s.State()
	if !state.ClockValidated && !s.clockValid() {
		return s.clockCycle(state), nil
	}

	now := s.clock.Now()
	if !instant && now.Sub(state.LastCycle) < time.Duration(state.UpdateInterval)*time.Second {
		return Cycle{Kind: CycleSkipped}, nil
	}

	cycle := Cycle{Kind: CycleInterval}
	if instant {
		cycle.Kind = CycleInstant
	} else {
		s.mu.Lock()
		s.state.LastCycle = now
		s.mu.Unlock()
	}

	s.reloadSchedule()
	state = s.State()

	r, action := s.UpdateSensors(state.Mode)
	cycle.Heater = action

	if state.Mode.Uploads() {
		rep := s.opts.Uploader.SendBatch(state.SleepAllowed, r, instant)
		r = rep.Reading
		cycle.Report = &rep
	}
	cycle.Reading = r

	s.mu.Lock()
	s.state.Reading = r
	s.mu.Unlock()

	telemetry.Cycles.WithLabelValues(cycle.Kind.String()).Inc()
	telemetry.ObserveReading(r)
	if s.opts.Output != nil {
		if err := s.opts.Output.Publish(r); err != nil {
			s.logger.Warn("Failed to publish reading", "error", err)
		}
	}
	return cycle, nil
}

func (s *Scheduler) clockCycle(state DeviceState) Cycle {
	telemetry.Cycles.WithLabelValues(CycleClock.String()).Inc()
	s.logger.Info("Clock not valid, synchronising before sampling")

	cycle := Cycle{Kind: CycleClock}
	s.opts.Radio.Wake()
	if !s.opts.Uploader.Connect() {
		s.logger.Warn("Clock sync skipped, no network")
		return cycle
	}
	if !s.opts.Uploader.SynchronizeClock() {
		return cycle
	}

	cycle.ClockSynced = true
	s.mu.Lock()
	s.state.ClockValidated = true
	s.mu.Unlock()
	if state.SleepAllowed {
		s.opts.Radio.Sleep()
	}
	return cycle
}

// UpdateSensors builds a reading for mode. Gas channels keep their previous
// value while the heaters are off, and the network count keeps its previous
// value when nothing scanned. The reading is stamped from the clock except
// in upload modes, where the uploader stamps it.
func (s *Scheduler) UpdateSensors(mode Mode) (sample.Reading, HeaterAction) {
	state := s.State()
	now := s.clock.Now()

	r := s.opts.Sensors.Update(sample.Reading{})
	r.Values[sample.CO] = state.Reading.Values[sample.CO]
	r.Values[sample.NO2] = state.Reading.Values[sample.NO2]
	r.Values[sample.Nets] = state.Reading.Values[sample.Nets]

	action := Heater(now.Sub(state.GasPoweredAt), mode)
	switch action {
	case HeaterRead:
		if !state.GasPowered {
			s.power(true, now)
		}
		r.Values[sample.CO], r.Values[sample.NO2] = s.opts.Gas.Read()
	case HeaterRestart:
		s.power(true, now)
	case HeaterHold:
		if state.GasPowered {
			s.power(false, state.GasPoweredAt)
		}
	}

	switch mode {
	case NoWiFi:
		r.Values[sample.Nets] = 0
		r.Time, _ = s.opts.RTC.Time()
	case Offline:
		r.Values[sample.Nets] = int32(s.opts.Radio.Scan())
		r.Time, _ = s.opts.RTC.Time()
	}
	return r, action
}

func (s *Scheduler) power(active bool, at time.Time) {
	if err := s.opts.Gas.Power(active); err != nil {
		s.logger.Warn("Failed to switch gas heaters", "active", active, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.GasPowered = active
	s.state.GasPoweredAt = at
}

// RequestInstant asks Run for an immediate cycle.
func (s *Scheduler) RequestInstant() error {
	if s.running.Load() {
		return ErrBusy
	}
	select {
	case s.instant <- struct{}{}:
		return nil
	default:
		return ErrBusy
	}
}

// Run drives Execute from a ticker and instant requests until ctx is done.
// A running cycle always completes.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.execute(false)
		case <-s.instant:
			s.execute(true)
		}
	}
}

func (s *Scheduler) execute(instant bool) {
	cycle, err := s.Execute(instant)
	if err != nil {
		s.logger.Warn("Cycle rejected", "instant", instant, "error", err)
		return
	}
	if cycle.Kind != CycleSkipped {
		s.logger.Debug("Cycle done", "kind", cycle.Kind, "heater", cycle.Heater)
	}
}
