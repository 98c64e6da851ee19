package modem

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/itohio/gosck/pkg/wallclock"
	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"
)

const (
	// DefaultBaudRate is the factory rate of the module.
	DefaultBaudRate = 9600
	// DefaultReadTimeout bounds a single Receive.
	DefaultReadTimeout = 50 * time.Millisecond

	guardTime      = 250 * time.Millisecond
	commandTimeout = time.Second
	openTimeout    = 5 * time.Second
	joinTimeout    = 8 * time.Second
	scanTimeout    = 5 * time.Second
	wakeSettle     = 100 * time.Millisecond
)

// Port is the serial line to the module.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// PortInfo describes an available serial port.
type PortInfo struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]PortInfo, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]PortInfo, 0, len(ports))
	for _, name := range ports {
		result = append(result, PortInfo{Name: name, Description: name})
	}
	return result, nil
}

// OpenPort opens a serial port for the module.
func OpenPort(name string, baudRate int, readTimeout time.Duration) (Port, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}

	port, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}
	return port, nil
}

// WiFly drives a WiFly-style module through its text command mode.
type WiFly struct {
	port      Port
	awake     gpio.PinOut
	clock     wallclock.Clock
	logger    *slog.Logger
	inCommand bool
	session   bool
}

// NewWiFly wraps an open port. awake may be nil when the wake line is not
// wired.
func NewWiFly(port Port, awake gpio.PinOut, clock wallclock.Clock, logger *slog.Logger) *WiFly {
	if clock == nil {
		clock = wallclock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WiFly{
		port:   port,
		awake:  awake,
		clock:  clock,
		logger: logger.With("component", "wifly"),
	}
}

// ClosePort closes the serial port.
func (w *WiFly) ClosePort() error {
	return w.port.Close()
}

// Send writes p to the module.
func (w *WiFly) Send(p []byte) error {
	if _, err := w.port.Write(p); err != nil {
		return fmt.Errorf("failed to write to module: %w", err)
	}
	return nil
}

func (w *WiFly) command(cmd string) error {
	return w.Send([]byte(cmd + "\r"))
}

// Receive reads one byte within the port read timeout.
func (w *WiFly) Receive() (byte, bool) {
	var buf [1]byte
	n, err := w.port.Read(buf[:])
	if err != nil {
		w.logger.Debug("Read failed", "error", err)
		return 0, false
	}
	return buf[0], n == 1
}

// FindMarker scans incoming bytes for marker.
func (w *WiFly) FindMarker(marker string, timeout time.Duration) bool {
	if marker == "" {
		return true
	}
	deadline := w.clock.Now().Add(timeout)
	window := make([]byte, 0, len(marker))
	for w.clock.Now().Before(deadline) {
		b, ok := w.Receive()
		if !ok {
			continue
		}
		if len(window) == len(marker) {
			window = append(window[:0], window[1:]...)
		}
		window = append(window, b)
		if string(window) == marker {
			return true
		}
	}
	return false
}

// drain discards pending input.
func (w *WiFly) drain() {
	for {
		if _, ok := w.Receive(); !ok {
			return
		}
	}
}

// EnterCommandMode switches the module to command mode.
func (w *WiFly) EnterCommandMode() bool {
	if w.inCommand {
		return true
	}
	w.clock.Sleep(guardTime)
	if err := w.Send([]byte("$$$")); err != nil {
		w.logger.Warn("Command mode failed", "error", err)
		return false
	}
	w.clock.Sleep(guardTime)
	if !w.FindMarker("CMD", commandTimeout) {
		w.logger.Debug("No command mode prompt")
		return false
	}
	w.inCommand = true
	w.drain()
	return true
}

// ExitCommandMode returns the module to data mode.
func (w *WiFly) ExitCommandMode() {
	if !w.inCommand {
		return
	}
	if err := w.command("exit"); err == nil {
		w.FindMarker("EXIT", commandTimeout)
	}
	w.inCommand = false
}

// OpenSession opens a TCP session to host:port.
func (w *WiFly) OpenSession(host string, port int) bool {
	if !w.EnterCommandMode() {
		return false
	}
	if err := w.command(fmt.Sprintf("open %s %d", host, port)); err != nil {
		return false
	}
	if !w.FindMarker("*OPEN*", openTimeout) {
		w.logger.Debug("Open failed", "host", host, "port", port)
		w.ExitCommandMode()
		return false
	}
	// The module drops to data mode once a session opens.
	w.inCommand = false
	w.session = true
	return true
}

// Close closes the current session. It does nothing when no session is
// open.
func (w *WiFly) Close() {
	if !w.session {
		return
	}
	w.session = false
	if !w.EnterCommandMode() {
		return
	}
	if err := w.command("close"); err == nil {
		w.FindMarker("*CLOS*", commandTimeout)
	}
	w.ExitCommandMode()
}

// Associated reports whether the module is joined to an access point.
func (w *WiFly) Associated() bool {
	if !w.EnterCommandMode() {
		return false
	}
	defer w.ExitCommandMode()
	if err := w.command("show net"); err != nil {
		return false
	}
	return w.FindMarker("Assoc=OK", commandTimeout)
}

// Join associates with ssid.
func (w *WiFly) Join(ssid, phrase string) bool {
	if !w.EnterCommandMode() {
		return false
	}
	defer w.ExitCommandMode()

	// The command parser splits on spaces; the module substitutes '$'.
	settings := []string{
		"set wlan ssid " + strings.ReplaceAll(ssid, " ", "$"),
		"set wlan phrase " + strings.ReplaceAll(phrase, " ", "$"),
	}
	for _, s := range settings {
		if err := w.command(s); err != nil || !w.FindMarker("AOK", commandTimeout) {
			return false
		}
	}
	if err := w.command("join"); err != nil {
		return false
	}
	ok := w.FindMarker("Associated!", joinTimeout)
	w.logger.Debug("Join", "ssid", ssid, "ok", ok)
	return ok
}

// Scan returns the number of visible access points, 0 on failure.
func (w *WiFly) Scan() int {
	if !w.EnterCommandMode() {
		return 0
	}
	defer w.ExitCommandMode()
	if err := w.command("scan"); err != nil {
		return 0
	}
	if !w.FindMarker("SCAN:Found ", scanTimeout) {
		return 0
	}

	n := 0
	for {
		b, ok := w.Receive()
		if !ok || b < '0' || b > '9' {
			return n
		}
		n = n*10 + int(b-'0')
	}
}

// Wake raises the wake line.
func (w *WiFly) Wake() {
	if w.awake == nil {
		return
	}
	if err := w.awake.Out(gpio.High); err != nil {
		w.logger.Warn("Wake failed", "error", err)
		return
	}
	w.clock.Sleep(wakeSettle)
}

// Sleep puts the module to sleep and lowers the wake line.
func (w *WiFly) Sleep() {
	if w.EnterCommandMode() {
		if err := w.command("sleep"); err != nil {
			w.logger.Warn("Sleep failed", "error", err)
		}
		w.inCommand = false
	}
	if w.awake != nil {
		if err := w.awake.Out(gpio.Low); err != nil {
			w.logger.Warn("Sleep line failed", "error", err)
		}
	}
}
