package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Mode is the persisted device mode.
type Mode int32

const (
	Offline  Mode = 0 // readings kept local, networks still counted
	NoWiFi   Mode = 1 // radio unused
	Normal   Mode = 2
	Economic Mode = 3 // gas heaters duty cycled
)

var modeNames = map[Mode]string{
	Offline:  "offline",
	NoWiFi:   "nowifi",
	Normal:   "normal",
	Economic: "economic",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int32(m))
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// Uploads reports whether the mode sends readings to the collector.
func (m Mode) Uploads() bool {
	return m > NoWiFi
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidSetting, s)
}

const (
	// GasWindow is how long after power-up the gas sensors are read in
	// economic mode.
	GasWindow = 6 * time.Minute
	// GasPeriod is the economic mode heater cycle.
	GasPeriod = 60 * time.Minute
	// SleepThreshold is the smallest flush period, in seconds, that lets the
	// radio sleep between flushes.
	SleepThreshold = 60
)

// HeaterAction is what a cycle does with the gas heaters.
type HeaterAction int

const (
	// HeaterRead powers the heaters and reads the sensors.
	HeaterRead HeaterAction = iota
	// HeaterRestart powers the heaters back up and restarts the gas period.
	HeaterRestart
	// HeaterHold keeps the heaters off.
	HeaterHold
)

func (a HeaterAction) String() string {
	switch a {
	case HeaterRead:
		return "read"
	case HeaterRestart:
		return "restart"
	default:
		return "hold"
	}
}

// Heater decides the heater action given the time since the heaters were last
// powered up.
func Heater(sincePowerUp time.Duration, mode Mode) HeaterAction {
	switch {
	case sincePowerUp <= GasWindow || mode != Economic:
		return HeaterRead
	case sincePowerUp >= GasPeriod:
		return HeaterRestart
	default:
		return HeaterHold
	}
}

// SleepAllowed reports whether the radio may sleep between flushes.
func SleepAllowed(updateInterval, batchThreshold int) bool {
	return updateInterval*batchThreshold >= SleepThreshold
}
