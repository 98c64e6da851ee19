// Package sensor reads the non-gas channels of a reading: climate, light,
// noise and the power supply.
package sensor

import (
	"log/slog"
	"math"
	"time"

	"github.com/itohio/gosck/pkg/afe"
	"github.com/itohio/gosck/pkg/retry"
	"github.com/itohio/gosck/pkg/sample"
	"github.com/itohio/gosck/pkg/wallclock"
)

const (
	// ClimateAttempts is the climate read budget per cycle.
	ClimateAttempts = 5
	// ClimatePause is the wait between climate read attempts.
	ClimatePause = 3 * time.Second
	// LightScale is the full-scale light value.
	LightScale = 1000
)

// Gainer selects the noise amplifier gain.
type Gainer interface {
	WriteGain(gain int) error
}

// Options configures Sensors.
type Options struct {
	Vcc float64 // mV
	// TemperatureOffset is subtracted from the temperature (tenths of °C).
	TemperatureOffset int32
	// NoiseGain is written to the amplifier before each noise read. Zero
	// leaves the gain alone.
	NoiseGain int
}

// Sensors reads everything but the gas sensors and the network count.
type Sensors struct {
	adapter afe.Adapter
	climate Climate
	gain    Gainer
	clock   wallclock.Clock
	logger  *slog.Logger
	opts    Options
}

// New creates Sensors. climate and gain may be nil.
func New(adapter afe.Adapter, climate Climate, gain Gainer, clock wallclock.Clock, logger *slog.Logger, opts Options) *Sensors {
	if clock == nil {
		clock = wallclock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sensors{
		adapter: adapter,
		climate: climate,
		gain:    gain,
		clock:   clock,
		logger:  logger.With("component", "sensor"),
		opts:    opts,
	}
}

// Climate returns temperature and humidity in tenths. Both are 0 when every
// attempt failed.
func (s *Sensors) Climate() (temp, hum int32, ok bool) {
	if s.climate == nil {
		return 0, 0, false
	}

	var env Env
	err := retry.Fixed{
		Attempts: ClimateAttempts,
		Pause:    ClimatePause,
		Clock:    s.clock,
		Logger:   s.logger,
	}.Start("climate", func(int) error {
		var err error
		env, err = s.climate.Sense()
		return err
	})
	if err != nil {
		s.logger.Warn("Climate sensor unavailable", "error", err)
		return 0, 0, false
	}

	temp = int32(math.Round(env.Temperature*10)) - s.opts.TemperatureOffset
	hum = int32(math.Round(env.Humidity * 10))
	return temp, hum, true
}

// Light returns the light level scaled to 0..1000.
func (s *Sensors) Light() int32 {
	counts, err := s.adapter.AverageSample(afe.Light)
	if err != nil {
		s.logger.Warn("Light read failed", "error", err)
		return 0
	}
	v := sample.MapRange(counts, 0, sample.ADCMax, 0, LightScale)
	return int32(min(max(v, 0), LightScale))
}

// Noise returns the microphone amplifier output in mV.
func (s *Sensors) Noise() int32 {
	if s.gain != nil && s.opts.NoiseGain > 0 {
		if err := s.gain.WriteGain(s.opts.NoiseGain); err != nil {
			s.logger.Warn("Noise gain not set", "gain", s.opts.NoiseGain, "error", err)
		}
	}
	counts, err := s.adapter.AverageSample(afe.Noise)
	if err != nil {
		s.logger.Warn("Noise read failed", "error", err)
		return 0
	}
	return int32(sample.ToMillivolts(counts, s.opts.Vcc))
}

// Battery returns the battery charge in tenths of a percent.
func (s *Sensors) Battery() int32 {
	v, err := s.adapter.BatteryPercent(s.opts.Vcc)
	if err != nil {
		s.logger.Warn("Battery read failed", "error", err)
		return 0
	}
	return int32(v)
}

// Panel returns the solar panel output in tenths of a percent.
func (s *Sensors) Panel() int32 {
	v, err := s.adapter.PanelPercent(s.opts.Vcc)
	if err != nil {
		s.logger.Warn("Panel read failed", "error", err)
		return 0
	}
	return int32(v)
}

// Update fills the climate, light, battery, panel and noise channels of r.
func (s *Sensors) Update(r sample.Reading) sample.Reading {
	temp, hum, _ := s.Climate()
	r.Values[sample.Temperature] = temp
	r.Values[sample.Humidity] = hum
	r.Values[sample.Light] = s.Light()
	r.Values[sample.Battery] = s.Battery()
	r.Values[sample.Panel] = s.Panel()
	r.Values[sample.Noise] = s.Noise()
	return r
}
