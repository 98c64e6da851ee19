package sample

import (
	"time"
)

// NumChannels is the number of numeric channels in every Reading.
const NumChannels = 9

// ADCMax is the full-scale count of the 10-bit analog front end.
const ADCMax = 1023

// TimeLayout is the canonical timestamp shape carried by readings.
const TimeLayout = "2006-01-02 15:04:05"

// NoTime marks a reading that could not be time-stamped. Consumers must
// accept it wherever a TimeLayout string is expected.
const NoTime = "#"

// Channel indexes Reading.Values.
type Channel int

const (
	Temperature Channel = iota // tenths of °C
	Humidity                   // tenths of %RH
	Light                      // tenths of lux (or LDR ‰)
	Battery                    // tenths of %
	Panel                      // solar panel, tenths of %
	CO                         // CO sensor resistance, Ω
	NO2                        // NO2 sensor resistance, Ω
	Noise                      // microphone level, mV
	Nets                       // visible Wi-Fi networks
)

var channelNames = [NumChannels]string{
	"temp", "hum", "light", "bat", "panel", "co", "no2", "noise", "nets",
}

// String returns the wire label of the channel.
func (c Channel) String() string {
	if c < 0 || int(c) >= NumChannels {
		return "unknown"
	}
	return channelNames[c]
}

// divisors convert stored integers to display units.
var divisors = [NumChannels]float64{10, 10, 10, 10, 10, 1000, 1000, 1, 1}

// Display returns the channel value in display units (°C, %, lux, kΩ, ...).
func (r Reading) Display(c Channel) float64 {
	return float64(r.Values[c]) / divisors[c]
}

// Reading is the output of one sampling cycle. A failed sensor read leaves
// its channel at zero; zero means "no data" downstream.
type Reading struct {
	Values [NumChannels]int32
	Time   string
}

// Get returns a channel value.
func (r Reading) Get(c Channel) int32 {
	return r.Values[c]
}

// Set returns a copy of r with channel c set to v.
func (r Reading) Set(c Channel, v int32) Reading {
	r.Values[c] = v
	return r
}

// HasTime reports whether the reading carries a valid timestamp.
func (r Reading) HasTime() bool {
	_, err := time.Parse(TimeLayout, r.Time)
	return err == nil
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// ToMillivolts converts a 10-bit ADC count to millivolts for the given
// supply voltage (mV).
func ToMillivolts(counts int, vcc float64) float64 {
	return float64(counts) * vcc / ADCMax
}

// MapRange linearly maps x from [inMin, inMax] to [outMin, outMax] using
// integer arithmetic, like the Arduino map() the kit calibrations were made
// with.
func MapRange(x, inMin, inMax, outMin, outMax int) int {
	if inMax == inMin {
		return outMin
	}
	return (x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}
