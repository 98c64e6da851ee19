// Package afe is the analog front end of the kit: a 10-bit view of the ADC
// channels, the digital potentiometers that set heater voltages and load
// resistors, and the heater enable lines.
package afe

import (
	"github.com/itohio/gosck/pkg/sample"
)

// Channel is an analog input.
type Channel int

const (
	LoadCO    Channel = iota // S0: CO sensor load voltage
	LoadNO2                  // S1: NO2 sensor load voltage
	HeaterCO                 // S2: CO heater sense resistor voltage
	HeaterNO2                // S3: NO2 heater sense resistor voltage
	Noise                    // S4: microphone amplifier output
	Light                    // S5: light dependent resistor
	Battery                  // battery voltage divider
	Panel                    // solar panel voltage divider
	NumChannels
)

// Heater enable lines.
const (
	HeaterLineCO = iota
	HeaterLineNO2
)

// Potentiometer banks.
const (
	Bank0 = iota
	Bank1
)

// PotMax is the largest value a potentiometer wiper accepts.
const PotMax = 0x1FF

// Adapter is the contract the gas and sensor engines use to reach hardware.
type Adapter interface {
	// AverageSample returns an averaged reading of ch scaled to 0..1023
	// of the supply voltage.
	AverageSample(ch Channel) (int, error)
	ReadPot(bank, wiper int) (int, error)
	WritePot(bank, wiper, v int) error
	// BatteryPercent returns the battery charge in tenths of a percent.
	BatteryPercent(vcc float64) (int, error)
	// PanelPercent returns the solar panel output in tenths of a percent.
	PanelPercent(vcc float64) (int, error)
	SetHeater(line int, on bool) error
}

// Battery and panel scaling.
const (
	BatteryDivider = 2    // battery sense divider ratio
	BatteryEmpty   = 3300 // mV
	BatteryFull    = 4200 // mV
	PanelDivider   = 2
	PanelFull      = 6000 // mV
)

func batteryPercent(a Adapter, vcc float64) (int, error) {
	counts, err := a.AverageSample(Battery)
	if err != nil {
		return 0, err
	}
	mV := int(sample.ToMillivolts(counts, vcc)) * BatteryDivider
	return clamp(sample.MapRange(mV, BatteryEmpty, BatteryFull, 0, 1000), 0, 1000), nil
}

func panelPercent(a Adapter, vcc float64) (int, error) {
	counts, err := a.AverageSample(Panel)
	if err != nil {
		return 0, err
	}
	mV := int(sample.ToMillivolts(counts, vcc)) * PanelDivider
	return clamp(sample.MapRange(mV, 0, PanelFull, 0, 1000), 0, 1000), nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
