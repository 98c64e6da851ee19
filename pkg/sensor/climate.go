package sensor

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

// Env is one climate measurement.
type Env struct {
	Temperature float64 // °C
	Humidity    float64 // %RH
}

// Climate is a temperature and humidity sensor.
type Climate interface {
	Sense() (Env, error)
}

var (
	_ Climate = (*BME)(nil)
	_ Climate = (*FixedClimate)(nil)
)

// BME is a Bosch BME280 class sensor on I²C.
type BME struct {
	dev *bmxx80.Dev
}

// NewBME opens the sensor at addr.
func NewBME(bus i2c.Bus, addr uint16) (*BME, error) {
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open climate sensor at %#x: %w", addr, err)
	}
	return &BME{dev: dev}, nil
}

// Sense implements Climate.
func (b *BME) Sense() (Env, error) {
	var e physic.Env
	if err := b.dev.Sense(&e); err != nil {
		return Env{}, err
	}
	return Env{
		Temperature: e.Temperature.Celsius(),
		Humidity:    float64(e.Humidity) / float64(physic.PercentRH),
	}, nil
}

// Close halts the sensor.
func (b *BME) Close() error {
	return b.dev.Halt()
}

// FixedClimate returns a fixed measurement. The first Failures calls fail.
type FixedClimate struct {
	mu       sync.Mutex
	Env      Env
	Failures int
	Calls    int
}

// Sense implements Climate.
func (f *FixedClimate) Sense() (Env, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Failures > 0 {
		f.Failures--
		return Env{}, fmt.Errorf("no response")
	}
	return f.Env, nil
}
