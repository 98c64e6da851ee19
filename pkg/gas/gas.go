// Package gas calibrates and reads the two heated metal-oxide gas sensors.
//
// Each sensor has a heater driven by a regulator whose set point comes from a
// digital potentiometer, a series sense resistor used to measure the heater
// current, and a load resistor (another potentiometer) forming a divider with
// the sensing element. Resistances are in Ω, voltages in mV and currents in mA.
package gas

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/gosck/pkg/afe"
	"github.com/itohio/gosck/pkg/telemetry"
	"github.com/itohio/gosck/pkg/wallclock"
)

const (
	// Settle is the wait after changing a potentiometer before measuring.
	Settle = 100 * time.Millisecond
	// RangeBand is the Rs distance from RL that triggers auto-ranging.
	RangeBand = 1000
	// MinLoad is the smallest load resistor auto-ranging selects.
	MinLoad = 2000
)

// Board holds the regulator and potentiometer constants.
type Board struct {
	Vcc           float32 // mV
	HeaterStep    float32 // regulator mV per unit
	Resolution    int     // potentiometer steps
	PotResistance float32 // potentiometer full scale, kΩ
	RegulatorR1   float32 // regulator feedback resistor, kΩ
}

// Wiring maps sensor functions onto potentiometer wipers. Index 0 is the CO
// sensor, index 1 the NO2 sensor.
type Wiring struct {
	HeaterBank  int
	HeaterWiper [2]int
	LoadBank    int
	LoadWiper   [2]int
	GainBank    int
	GainWiper   [2]int
}

// Wiring5V is the potentiometer map of the 5 V kit.
var Wiring5V = Wiring{
	HeaterBank: afe.Bank1, HeaterWiper: [2]int{0, 1},
	LoadBank: afe.Bank0, LoadWiper: [2]int{0, 1},
	GainBank: afe.Bank1, GainWiper: [2]int{0, 1},
}

// Wiring3V3 is the potentiometer map of the 3.3 V kit.
var Wiring3V3 = Wiring{
	HeaterBank: afe.Bank0, HeaterWiper: [2]int{0, 1},
	LoadBank: afe.Bank0, LoadWiper: [2]int{6, 7},
	GainBank: afe.Bank1, GainWiper: [2]int{0, 1},
}

// Sensor is the calibration state of one gas sensor. It is only mutated by
// the Engine.
type Sensor struct {
	Name          string
	Index         int // 0 CO, 1 NO2; selects wiring and heater line
	HeaterChannel afe.Channel
	LoadChannel   afe.Channel

	TargetMilliamps float32
	SenseResistor   float32 // Rc
	Supply          float32 // sensor bias voltage
	HeaterStart     float32
	LoadStart       float32

	Ro   float32 // first resistance measured after Start
	Load float32 // current load resistor
	Rs   float32 // last measured resistance
}

// Engine runs the heater regulation and auto-ranging loop.
type Engine struct {
	adapter afe.Adapter
	board   Board
	wiring  Wiring
	clock   wallclock.Clock
	logger  *slog.Logger

	CO  *Sensor
	NO2 *Sensor
}

// New creates an engine for the CO and NO2 sensors.
func New(adapter afe.Adapter, board Board, wiring Wiring, co, no2 *Sensor, clock wallclock.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = wallclock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	co.Index, no2.Index = 0, 1
	return &Engine{
		adapter: adapter,
		board:   board,
		wiring:  wiring,
		clock:   clock,
		logger:  logger.With("component", "gas"),
		CO:      co,
		NO2:     no2,
	}
}

// k converts regulator millivolts to heater potentiometer steps.
func (e *Engine) k() float32 {
	return float32(e.board.Resolution) * e.board.RegulatorR1 / 100 / 1000
}

// kr1 converts potentiometer steps to Ω.
func (e *Engine) kr1() float32 {
	return e.board.PotResistance * 1000 / float32(e.board.Resolution)
}

func (e *Engine) millivolts(counts int) float32 {
	return float32(counts) * e.board.Vcc / 1023
}

// HeaterCode returns the potentiometer value for a heater voltage.
func (e *Engine) HeaterCode(mV float32) int {
	code := int((mV/e.board.HeaterStep - 1000) * e.k())
	return max(0, min(code, e.board.Resolution))
}

// LoadCode returns the potentiometer value for a resistance.
func (e *Engine) LoadCode(ohms float32) int {
	code := int(ohms / e.kr1())
	return max(0, min(code, e.board.Resolution))
}

// WriteHeaterVoltage sets the heater regulator output.
func (e *Engine) WriteHeaterVoltage(s *Sensor, mV float32) error {
	return e.adapter.WritePot(e.wiring.HeaterBank, e.wiring.HeaterWiper[s.Index], e.HeaterCode(mV))
}

// ReadHeaterVoltage returns the heater regulator output.
func (e *Engine) ReadHeaterVoltage(s *Sensor) (float32, error) {
	code, err := e.adapter.ReadPot(e.wiring.HeaterBank, e.wiring.HeaterWiper[s.Index])
	if err != nil {
		return 0, err
	}
	return (float32(code)/e.k() + 1000) * e.board.HeaterStep, nil
}

// WriteLoad sets the load resistor.
func (e *Engine) WriteLoad(s *Sensor, ohms float32) error {
	if err := e.adapter.WritePot(e.wiring.LoadBank, e.wiring.LoadWiper[s.Index], e.LoadCode(ohms)); err != nil {
		return err
	}
	s.Load = float32(e.LoadCode(ohms)) * e.kr1()
	telemetry.GasLoad.WithLabelValues(s.Name).Set(float64(s.Load))
	return nil
}

// ReadLoad returns the load resistor.
func (e *Engine) ReadLoad(s *Sensor) (float32, error) {
	code, err := e.adapter.ReadPot(e.wiring.LoadBank, e.wiring.LoadWiper[s.Index])
	if err != nil {
		return 0, err
	}
	return float32(code) * e.kr1(), nil
}

// RegulateHeater corrects the heater voltage once so that the heater
// current approaches targetMilliamps.
func (e *Engine) RegulateHeater(s *Sensor, targetMilliamps float32) error {
	counts, err := e.adapter.AverageSample(s.HeaterChannel)
	if err != nil {
		return fmt.Errorf("failed to sample %s heater: %w", s.Name, err)
	}
	vc := e.millivolts(counts)
	current := vc / s.SenseResistor
	if current <= 0 || math32.IsInf(current, 0) || math32.IsNaN(current) {
		return fmt.Errorf("no %s heater current", s.Name)
	}

	vh, err := e.ReadHeaterVoltage(s)
	if err != nil {
		return fmt.Errorf("failed to read %s heater voltage: %w", s.Name, err)
	}
	rh := (vh - vc) / current
	target := (rh + s.SenseResistor) * targetMilliamps

	e.logger.Debug("Heater regulation", "sensor", s.Name, "current_ma", current, "rh", rh, "vh", target)
	if err := e.WriteHeaterVoltage(s, target); err != nil {
		return fmt.Errorf("failed to write %s heater voltage: %w", s.Name, err)
	}
	return nil
}

// MeasureResistance returns the sensing element resistance. A zero load
// voltage means no data and yields 0, as does a load voltage at or above
// the supply.
func (e *Engine) MeasureResistance(s *Sensor) (float32, error) {
	rs, _, err := e.measure(s)
	return rs, err
}

// measure reports ok = false when the load voltage carried no data.
func (e *Engine) measure(s *Sensor) (rs float32, ok bool, err error) {
	rl, err := e.ReadLoad(s)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read %s load: %w", s.Name, err)
	}
	counts, err := e.adapter.AverageSample(s.LoadChannel)
	if err != nil {
		return 0, false, fmt.Errorf("failed to sample %s load: %w", s.Name, err)
	}

	vl := math32.Min(e.millivolts(counts), s.Supply)
	if vl <= 0 {
		return 0, false, nil
	}
	rs = (s.Supply - vl) / vl * rl
	e.logger.Debug("Sensor resistance", "sensor", s.Name, "vl", vl, "rl", rl, "rs", rs)
	return rs, true, nil
}

// AutoRange measures the sensor and, when Rs is not within RangeBand of the
// load resistor, moves the load resistor to Rs (at least MinLoad), settles
// and measures once more. A saturated load (Rs = 0) ranges down to MinLoad;
// a reading without data leaves the load alone.
func (e *Engine) AutoRange(s *Sensor) (float32, error) {
	rs, ok, err := e.measure(s)
	if err != nil || !ok {
		return rs, err
	}
	rl, err := e.ReadLoad(s)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s load: %w", s.Name, err)
	}

	if rs <= rl-RangeBand || rs >= rl+RangeBand {
		if err := e.WriteLoad(s, math32.Max(rs, MinLoad)); err != nil {
			return 0, fmt.Errorf("failed to write %s load: %w", s.Name, err)
		}
		e.clock.Sleep(Settle)
		return e.MeasureResistance(s)
	}
	return rs, nil
}

// Gain presets of the noise amplifier.
var gains = map[int][2]float32{
	100:   {10000, 10000},
	1000:  {10000, 100000},
	10000: {100000, 100000},
}

// WriteGain selects an amplifier gain preset (100, 1000 or 10000).
func (e *Engine) WriteGain(gain int) error {
	preset, ok := gains[gain]
	if !ok {
		return fmt.Errorf("unsupported gain %d", gain)
	}
	for i, ohms := range preset {
		if err := e.adapter.WritePot(e.wiring.GainBank, e.wiring.GainWiper[i], e.LoadCode(ohms)); err != nil {
			return fmt.Errorf("failed to write gain resistor %d: %w", i, err)
		}
	}
	e.clock.Sleep(Settle)
	return nil
}

// ReadGain returns the amplifier gain from the two range resistors.
func (e *Engine) ReadGain() (float32, error) {
	var r [2]float32
	for i := range r {
		code, err := e.adapter.ReadPot(e.wiring.GainBank, e.wiring.GainWiper[i])
		if err != nil {
			return 0, fmt.Errorf("failed to read gain resistor %d: %w", i, err)
		}
		r[i] = float32(code) * e.kr1()
	}
	return (r[0] / 1000) * (r[1] / 1000), nil
}

// Start sets the initial heater voltages and load resistors and powers the
// heaters.
func (e *Engine) Start() error {
	for _, s := range []*Sensor{e.CO, e.NO2} {
		if err := e.WriteHeaterVoltage(s, s.HeaterStart); err != nil {
			return fmt.Errorf("failed to start %s heater: %w", s.Name, err)
		}
		if err := e.WriteLoad(s, s.LoadStart); err != nil {
			return fmt.Errorf("failed to start %s load: %w", s.Name, err)
		}
		s.Ro = 0
	}
	return e.Power(true)
}

// Power switches both heaters.
func (e *Engine) Power(active bool) error {
	for _, s := range []*Sensor{e.CO, e.NO2} {
		if err := e.adapter.SetHeater(s.Index, active); err != nil {
			return fmt.Errorf("failed to switch %s heater: %w", s.Name, err)
		}
	}
	e.logger.Debug("Gas heaters", "active", active)
	return nil
}

// Read regulates both heaters and returns the auto-ranged resistances.
// Failures are logged and read as 0.
func (e *Engine) Read() (co, no2 int32) {
	for _, s := range []*Sensor{e.CO, e.NO2} {
		if err := e.RegulateHeater(s, s.TargetMilliamps); err != nil {
			e.logger.Warn("Heater regulation failed", "sensor", s.Name, "error", err)
		}
	}

	out := [2]int32{}
	for i, s := range []*Sensor{e.CO, e.NO2} {
		rs, err := e.AutoRange(s)
		if err != nil {
			e.logger.Warn("Gas sensor read failed", "sensor", s.Name, "error", err)
			rs = 0
		}
		s.Rs = rs
		if s.Ro == 0 {
			s.Ro = rs
		}
		telemetry.GasResistance.WithLabelValues(s.Name).Set(float64(rs))
		out[i] = int32(rs)
	}
	return out[0], out[1]
}
