package afe

import (
	"fmt"
	"math"
	"time"

	"github.com/itohio/gosck/pkg/sample"
	"github.com/itohio/gosck/pkg/wallclock"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
)

// ADS1115 registers.
const (
	pointerConv   = 0x00
	pointerConfig = 0x01
)

// MCP4xxx command bits.
const (
	potRead = 0x0C
)

// DefaultSamples is the number of conversions AverageSample averages.
const DefaultSamples = 4

// Options configures an I2C adapter.
type Options struct {
	ADCAddresses []uint16 // four channels per converter
	PotAddresses []uint16 // one address per bank
	Heaters      []gpio.PinOut
	Vcc          float64 // mV
	Samples      int
	Clock        wallclock.Clock
}

// I2C drives ADS1115 converters and MCP4xxx potentiometers on an I²C bus.
type I2C struct {
	adcs    []*i2c.Dev
	pots    []*i2c.Dev
	heaters []gpio.PinOut
	vcc     float64
	samples int
	clock   wallclock.Clock

	pga       byte
	fullScale float64 // mV
}

var _ Adapter = (*I2C)(nil)

// NewI2C creates an adapter on bus.
func NewI2C(bus i2c.Bus, opts Options) (*I2C, error) {
	if len(opts.ADCAddresses)*4 < int(NumChannels) {
		return nil, fmt.Errorf("need %d converters for %d channels, got %d", (NumChannels+3)/4, NumChannels, len(opts.ADCAddresses))
	}
	if opts.Vcc <= 0 {
		return nil, fmt.Errorf("invalid supply voltage %v", opts.Vcc)
	}
	if opts.Samples <= 0 {
		opts.Samples = DefaultSamples
	}
	if opts.Clock == nil {
		opts.Clock = wallclock.System{}
	}

	a := &I2C{
		heaters: opts.Heaters,
		vcc:     opts.Vcc,
		samples: opts.Samples,
		clock:   opts.Clock,
	}
	for _, addr := range opts.ADCAddresses {
		a.adcs = append(a.adcs, &i2c.Dev{Addr: addr, Bus: bus})
	}
	for _, addr := range opts.PotAddresses {
		a.pots = append(a.pots, &i2c.Dev{Addr: addr, Bus: bus})
	}

	// Smallest programmable range that covers the supply.
	if opts.Vcc > 4096 {
		a.pga, a.fullScale = 0x0, 6144
	} else {
		a.pga, a.fullScale = 0x1, 4096
	}
	return a, nil
}

// configFor returns the single-shot conversion config for input n of a
// converter.
func (a *I2C) configFor(n int) (byte, byte) {
	var config uint16 = 0x8000 // OS = 1 (start single conversion)
	config |= uint16(0x4+n) << 12
	config |= uint16(a.pga) << 9
	config |= 1 << 8   // single-shot mode
	config |= 0x7 << 5 // 860 SPS
	config |= 0x3      // comparator disabled
	return byte(config >> 8), byte(config & 0xFF)
}

func (a *I2C) convert(ch Channel) (int16, error) {
	dev := a.adcs[int(ch)/4]
	msb, lsb := a.configFor(int(ch) % 4)
	if err := dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return 0, fmt.Errorf("failed to start conversion on channel %d: %w", ch, err)
	}
	a.clock.Sleep(2 * time.Millisecond)

	buf := make([]byte, 2)
	if err := dev.Tx([]byte{pointerConv}, buf); err != nil {
		return 0, fmt.Errorf("failed to read conversion on channel %d: %w", ch, err)
	}
	return int16(buf[0])<<8 | int16(buf[1]), nil
}

// AverageSample averages conversions of ch and rescales them to 10 bits of
// the supply voltage.
func (a *I2C) AverageSample(ch Channel) (int, error) {
	if ch < 0 || ch >= NumChannels {
		return 0, fmt.Errorf("invalid channel %d", ch)
	}

	var sum float64
	for range a.samples {
		raw, err := a.convert(ch)
		if err != nil {
			return 0, err
		}
		sum += float64(max(raw, 0))
	}
	mV := sum / float64(a.samples) * a.fullScale / 32768
	counts := int(math.Round(mV * sample.ADCMax / a.vcc))
	return clamp(counts, 0, sample.ADCMax), nil
}

func (a *I2C) pot(bank int) (*i2c.Dev, error) {
	if bank < 0 || bank >= len(a.pots) {
		return nil, fmt.Errorf("invalid potentiometer bank %d", bank)
	}
	return a.pots[bank], nil
}

// ReadPot reads a wiper register.
func (a *I2C) ReadPot(bank, wiper int) (int, error) {
	dev, err := a.pot(bank)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 2)
	if err := dev.Tx([]byte{byte(wiper<<4) | potRead}, buf); err != nil {
		return 0, fmt.Errorf("failed to read wiper %d/%d: %w", bank, wiper, err)
	}
	return int(buf[0]&0x01)<<8 | int(buf[1]), nil
}

// WritePot writes a wiper register.
func (a *I2C) WritePot(bank, wiper, v int) error {
	dev, err := a.pot(bank)
	if err != nil {
		return err
	}
	if v < 0 || v > PotMax {
		return fmt.Errorf("wiper value %d out of range", v)
	}
	cmd := []byte{byte(wiper<<4) | byte(v>>8&0x01), byte(v & 0xFF)}
	if err := dev.Tx(cmd, nil); err != nil {
		return fmt.Errorf("failed to write wiper %d/%d: %w", bank, wiper, err)
	}
	return nil
}

// BatteryPercent returns the battery charge in tenths of a percent.
func (a *I2C) BatteryPercent(vcc float64) (int, error) {
	return batteryPercent(a, vcc)
}

// PanelPercent returns the panel output in tenths of a percent.
func (a *I2C) PanelPercent(vcc float64) (int, error) {
	return panelPercent(a, vcc)
}

// SetHeater drives a heater enable line.
func (a *I2C) SetHeater(line int, on bool) error {
	if line < 0 || line >= len(a.heaters) {
		return fmt.Errorf("invalid heater line %d", line)
	}
	if err := a.heaters[line].Out(gpio.Level(on)); err != nil {
		return fmt.Errorf("failed to set heater %d: %w", line, err)
	}
	return nil
}
