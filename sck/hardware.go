package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/itohio/gosck/pkg/afe"
	"github.com/itohio/gosck/pkg/config"
	"github.com/itohio/gosck/pkg/gas"
	"github.com/itohio/gosck/pkg/modem"
	"github.com/itohio/gosck/pkg/sensor"
	"github.com/itohio/gosck/pkg/wallclock"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// hardware is everything the controller reaches outside the process.
type hardware struct {
	adapter afe.Adapter
	radio   modem.Radio
	climate sensor.Climate
	closers []func() error
}

func (h *hardware) close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i]())
	}
	return errors.Join(errs...)
}

func openHardware(cfg *config.Config, logger *slog.Logger) (*hardware, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialise host drivers: %w", err)
	}

	hw := &hardware{}
	bus, err := i2creg.Open(cfg.Bus.I2C)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", cfg.Bus.I2C, err)
	}
	hw.closers = append(hw.closers, bus.Close)

	var heaters []gpio.PinOut
	for _, name := range cfg.Bus.HeaterPins {
		pin := gpioreg.ByName(name)
		if pin == nil {
			hw.close()
			return nil, fmt.Errorf("unknown heater pin %q", name)
		}
		heaters = append(heaters, pin)
	}

	adapter, err := afe.NewI2C(bus, afe.Options{
		ADCAddresses: cfg.Bus.ADCAddresses,
		PotAddresses: cfg.Bus.PotAddresses,
		Heaters:      heaters,
		Vcc:          cfg.Board.Vcc,
	})
	if err != nil {
		hw.close()
		return nil, err
	}
	hw.adapter = adapter

	if bme, err := sensor.NewBME(bus, cfg.Bus.ClimateAddress); err != nil {
		logger.Warn("Climate sensor not found, temperature and humidity will read 0", "error", err)
	} else {
		hw.climate = bme
		hw.closers = append(hw.closers, bme.Close)
	}

	var awake gpio.PinOut
	if cfg.Bus.AwakePin != "" {
		if pin := gpioreg.ByName(cfg.Bus.AwakePin); pin != nil {
			awake = pin
		} else {
			logger.Warn("Unknown modem wake pin", "pin", cfg.Bus.AwakePin)
		}
	}

	port, err := modem.OpenPort(cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Serial.ReadTimeout)
	if err != nil {
		if ports, perr := modem.Ports(); perr == nil {
			for _, p := range ports {
				logger.Info("Available serial port", "name", p.Name)
			}
		}
		hw.close()
		return nil, err
	}
	wifly := modem.NewWiFly(port, awake, wallclock.System{}, logger)
	hw.radio = wifly
	hw.closers = append(hw.closers, wifly.ClosePort)
	return hw, nil
}

// Simulated ADC levels. Heater levels put the regulated current near the
// default targets of the 5 V kit.
var mockCounts = map[afe.Channel]int{
	afe.HeaterCO:  65,
	afe.HeaterNO2: 207,
	afe.Noise:     150,
	afe.Light:     600,
	afe.Battery:   420,
	afe.Panel:     300,
}

func mockHardware(cfg *config.Config, logger *slog.Logger) *hardware {
	adapter := afe.NewMock()
	for ch, counts := range mockCounts {
		adapter.SetSample(ch, counts)
	}
	adapter.SetSample(afe.LoadCO, cfg.Mock.GasCounts)
	adapter.SetSample(afe.LoadNO2, cfg.Mock.GasCounts)

	radio := modem.NewMock(wallclock.System{})
	radio.Networks = cfg.Mock.Networks
	radio.OnOpen = func(s *modem.Session, _ int) []byte {
		if s.Host == cfg.Network.TimeHost {
			t := time.Now().UTC()
			return fmt.Appendf(nil, "HTTP/1.1 200 OK\r\n\r\nUTC:%d,%d,%d,%d,%d,%d#",
				t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second())
		}
		return []byte("HTTP/1.1 " + cfg.Network.AckMarker + "\r\n")
	}

	logger.Info("Using simulated hardware", "networks", cfg.Mock.Networks)
	return &hardware{
		adapter: adapter,
		radio:   radio,
		climate: &sensor.FixedClimate{Env: sensor.Env{
			Temperature: cfg.Mock.ClimateTemp,
			Humidity:    cfg.Mock.ClimateHum,
		}},
	}
}

func boardOf(b config.BoardConfig) gas.Board {
	return gas.Board{
		Vcc:           float32(b.Vcc),
		HeaterStep:    float32(b.HeaterStep),
		Resolution:    b.PotResolution,
		PotResistance: float32(b.PotResistance),
		RegulatorR1:   float32(b.RegulatorR1),
	}
}

func wiringOf(b config.BoardConfig) gas.Wiring {
	if b.Name == config.Profile3V3().Name {
		return gas.Wiring3V3
	}
	return gas.Wiring5V
}

func gasSensor(name string, g config.GasConfig, index int) *gas.Sensor {
	s := &gas.Sensor{
		Name:            name,
		Index:           index,
		HeaterChannel:   afe.HeaterCO,
		LoadChannel:     afe.LoadCO,
		TargetMilliamps: float32(g.HeaterMilliamps),
		SenseResistor:   float32(g.SenseResistor),
		Supply:          float32(g.Supply),
		HeaterStart:     float32(g.HeaterStart),
		LoadStart:       float32(g.LoadStart),
	}
	if index == 1 {
		s.HeaterChannel, s.LoadChannel = afe.HeaterNO2, afe.LoadNO2
	}
	return s
}
