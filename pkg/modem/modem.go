// Package modem talks to the serial Wi-Fi module that carries every network
// session of the kit.
package modem

import (
	"time"
)

// Transport is a byte stream to one remote host at a time.
type Transport interface {
	// OpenSession opens a TCP session and reports whether it succeeded.
	OpenSession(host string, port int) bool
	Close()
	Send(p []byte) error
	// Receive returns the next byte, or false if none arrived in time.
	Receive() (byte, bool)
	// FindMarker consumes the stream until marker is seen or timeout
	// elapses.
	FindMarker(marker string, timeout time.Duration) bool
}

// Radio is a Transport that also manages the Wi-Fi link.
type Radio interface {
	Transport
	EnterCommandMode() bool
	ExitCommandMode()
	// Associated reports whether the radio is joined to an access point.
	Associated() bool
	Join(ssid, phrase string) bool
	// Scan returns the number of visible access points.
	Scan() int
	Wake()
	Sleep()
}

// Ensure implementations satisfy Radio.
var (
	_ Radio = (*WiFly)(nil)
	_ Radio = (*Mock)(nil)
)
