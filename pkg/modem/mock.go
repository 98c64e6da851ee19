package modem

import (
	"bytes"
	"sync"
	"time"

	"github.com/itohio/gosck/pkg/wallclock"
)

// Session records one session opened on a Mock.
type Session struct {
	Host   string
	Port   int
	Sent   []byte
	Closed bool
}

// Mock simulates a radio and the hosts behind it. Every session receives
// Responses[Host], or the result of OnOpen when set.
type Mock struct {
	mu    sync.Mutex
	clock wallclock.Clock

	Responses map[string][]byte
	OnOpen    func(s *Session, n int) []byte
	// OpenFailures makes the next n OpenSession calls fail.
	OpenFailures int
	// FailHosts always refuse sessions.
	FailHosts map[string]bool
	// Down makes every join and open fail.
	Down bool
	// Networks is the access point count reported by Scan.
	Networks int
	// SSIDs that can be joined; empty accepts any.
	SSIDs []string

	Sessions   []*Session
	Joins      []string
	Scans      int
	Awake      bool
	Sleeps     int
	Closes     int // with or without an open session
	associated bool
	command    bool
	current    *Session
	rx         []byte
}

// NewMock creates a mock radio driven by clock.
func NewMock(clock wallclock.Clock) *Mock {
	if clock == nil {
		clock = wallclock.System{}
	}
	return &Mock{clock: clock, Responses: make(map[string][]byte)}
}

// SetAssociated forces the association state.
func (m *Mock) SetAssociated(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.associated = ok
}

// EnterCommandMode implements Radio.
func (m *Mock) EnterCommandMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.command = true
	return true
}

// ExitCommandMode implements Radio.
func (m *Mock) ExitCommandMode() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.command = false
}

// InCommandMode reports whether the mock is in command mode.
func (m *Mock) InCommandMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.command
}

// Associated implements Radio.
func (m *Mock) Associated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.associated && !m.Down
}

// Join implements Radio.
func (m *Mock) Join(ssid, phrase string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Joins = append(m.Joins, ssid)
	if m.Down {
		return false
	}
	if len(m.SSIDs) > 0 {
		found := false
		for _, s := range m.SSIDs {
			found = found || s == ssid
		}
		if !found {
			return false
		}
	}
	m.associated = true
	return true
}

// Scan implements Radio.
func (m *Mock) Scan() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Scans++
	return m.Networks
}

// Wake implements Radio.
func (m *Mock) Wake() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Awake = true
}

// Sleep implements Radio.
func (m *Mock) Sleep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Awake = false
	m.Sleeps++
}

// OpenSession implements Transport.
func (m *Mock) OpenSession(host string, port int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Down || m.FailHosts[host] {
		return false
	}
	if m.OpenFailures > 0 {
		m.OpenFailures--
		return false
	}

	s := &Session{Host: host, Port: port}
	m.Sessions = append(m.Sessions, s)
	m.current = s
	m.command = false
	if m.OnOpen != nil {
		m.rx = append([]byte(nil), m.OnOpen(s, len(m.Sessions)-1)...)
	} else {
		m.rx = append([]byte(nil), m.Responses[host]...)
	}
	return true
}

// Close implements Transport.
func (m *Mock) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closes++
	if m.current != nil {
		m.current.Closed = true
		m.current = nil
	}
	m.rx = nil
}

// Send implements Transport.
func (m *Mock) Send(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Sent = append(m.current.Sent, p...)
	}
	return nil
}

// Receive implements Transport. An empty stream costs 10 ms of clock time.
func (m *Mock) Receive() (byte, bool) {
	m.mu.Lock()
	if len(m.rx) > 0 {
		b := m.rx[0]
		m.rx = m.rx[1:]
		m.mu.Unlock()
		return b, true
	}
	m.mu.Unlock()
	m.clock.Sleep(10 * time.Millisecond)
	return 0, false
}

// FindMarker implements Transport.
func (m *Mock) FindMarker(marker string, timeout time.Duration) bool {
	if marker == "" {
		return true
	}
	m.mu.Lock()
	i := bytes.Index(m.rx, []byte(marker))
	if i >= 0 {
		m.rx = m.rx[i+len(marker):]
		m.mu.Unlock()
		return true
	}
	m.rx = nil
	m.mu.Unlock()
	m.clock.Sleep(timeout)
	return false
}
