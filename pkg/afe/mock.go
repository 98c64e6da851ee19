package afe

import (
	"fmt"
	"sync"
)

// PotWrite records a potentiometer write.
type PotWrite struct {
	Bank, Wiper, Value int
}

// Mock is an in-memory Adapter. Samples are served from SampleFunc when
// set, otherwise from the Samples map.
type Mock struct {
	mu sync.Mutex

	Samples    map[Channel]int
	SampleFunc func(ch Channel) (int, error)
	Err        error // returned by every call when set

	pots    map[[2]int]int
	writes  []PotWrite
	heaters map[int]bool
	reads   map[Channel]int
}

var _ Adapter = (*Mock)(nil)

// NewMock creates a mock with every channel at zero.
func NewMock() *Mock {
	return &Mock{
		Samples: make(map[Channel]int),
		pots:    make(map[[2]int]int),
		heaters: make(map[int]bool),
		reads:   make(map[Channel]int),
	}
}

// SetSample sets the value returned for ch.
func (m *Mock) SetSample(ch Channel, counts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Samples[ch] = counts
}

// AverageSample implements Adapter.
func (m *Mock) AverageSample(ch Channel) (int, error) {
	m.mu.Lock()
	if m.Err != nil {
		m.mu.Unlock()
		return 0, m.Err
	}
	m.reads[ch]++
	fn := m.SampleFunc
	v := m.Samples[ch]
	m.mu.Unlock()

	if fn != nil {
		return fn(ch)
	}
	return v, nil
}

// Reads returns how many times ch was sampled.
func (m *Mock) Reads(ch Channel) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[ch]
}

// ReadPot implements Adapter.
func (m *Mock) ReadPot(bank, wiper int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.pots[[2]int{bank, wiper}], nil
}

// WritePot implements Adapter.
func (m *Mock) WritePot(bank, wiper, v int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if v < 0 || v > PotMax {
		return fmt.Errorf("wiper value %d out of range", v)
	}
	m.pots[[2]int{bank, wiper}] = v
	m.writes = append(m.writes, PotWrite{Bank: bank, Wiper: wiper, Value: v})
	return nil
}

// Pot returns the current wiper value.
func (m *Mock) Pot(bank, wiper int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pots[[2]int{bank, wiper}]
}

// PotWrites returns every potentiometer write in order.
func (m *Mock) PotWrites() []PotWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PotWrite(nil), m.writes...)
}

// BatteryPercent implements Adapter.
func (m *Mock) BatteryPercent(vcc float64) (int, error) {
	return batteryPercent(m, vcc)
}

// PanelPercent implements Adapter.
func (m *Mock) PanelPercent(vcc float64) (int, error) {
	return panelPercent(m, vcc)
}

// SetHeater implements Adapter.
func (m *Mock) SetHeater(line int, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.heaters[line] = on
	return nil
}

// Heater returns the state of a heater line.
func (m *Mock) Heater(line int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heaters[line]
}
