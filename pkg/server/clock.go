package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/itohio/gosck/pkg/sample"
	"github.com/itohio/gosck/pkg/telemetry"
)

// FetchNetworkTime asks the time host for the current UTC time. The reply
// carries "UTC:Y,M,D,h,m,s#"; the result is in sample.TimeLayout, or
// sample.NoTime when every attempt failed.
func (s *Server) FetchNetworkTime() (string, bool) {
	var ts string
	err := s.retrier(0).Start("time", func(int) error {
		if !s.radio.EnterCommandMode() {
			return fmt.Errorf("no command mode")
		}
		if !s.radio.OpenSession(s.opts.TimeHost, s.opts.Port) {
			return fmt.Errorf("failed to open %s", s.opts.TimeHost)
		}
		defer s.radio.Close()

		req := fmt.Sprintf("GET /datetime HTTP/1.1\nHost: %s\nUser-Agent: SmartCitizen\n\n", s.opts.TimeHost)
		if err := s.radio.Send([]byte(req)); err != nil {
			return err
		}
		if !s.radio.FindMarker(timeMarker, timeWait) {
			return fmt.Errorf("no time marker")
		}

		var err error
		ts, err = s.readTime()
		return err
	})
	s.radio.ExitCommandMode()

	if err != nil {
		s.logger.Warn("Network time unavailable", "error", err)
		return sample.NoTime, false
	}
	return ts, true
}

// readTime reads "Y,M,D,h,m,s#" from the radio. The first two commas
// separate the date, the third splits date from time and the rest separate
// the time.
func (s *Server) readTime() (string, error) {
	buf := make([]byte, 0, timeWidth)
	commas := 0
	last := s.clock.Now()
	for len(buf) < timeWidth {
		b, ok := s.radio.Receive()
		if !ok {
			if s.clock.Now().Sub(last) > timeStall {
				return "", fmt.Errorf("time reply stalled after %q", buf)
			}
			continue
		}
		last = s.clock.Now()

		switch b {
		case '#':
			return canonicalTime(string(buf))
		case ',':
			switch {
			case commas < 2:
				b = '-'
			case commas > 2:
				b = ':'
			default:
				b = ' '
			}
			commas++
		}
		buf = append(buf, b)
	}
	return "", fmt.Errorf("time reply too long: %q", buf)
}

// canonicalTime zero-pads a "Y-M-D h:m:s" time into sample.TimeLayout.
// Every field must be unsigned decimal digits.
func canonicalTime(raw string) (string, error) {
	date, hms, ok := strings.Cut(raw, " ")
	if !ok {
		return "", fmt.Errorf("failed to parse time %q", raw)
	}
	var f [6]int
	parts := append(strings.Split(date, "-"), strings.Split(hms, ":")...)
	if len(parts) != len(f) {
		return "", fmt.Errorf("failed to parse time %q", raw)
	}
	for i, p := range parts {
		n, err := digits(p)
		if err != nil {
			return "", fmt.Errorf("failed to parse time %q: %w", raw, err)
		}
		f[i] = n
	}
	y, mo, d, h, mi, sec := f[0], f[1], f[2], f[3], f[4], f[5]
	if y < 1 || mo < 1 || mo > 12 || d < 1 || d > 31 || h > 23 || mi > 59 || sec > 59 {
		return "", fmt.Errorf("time %q out of range", raw)
	}
	t := time.Date(y, time.Month(mo), d, h, mi, sec, 0, time.UTC)
	return sample.FormatTime(t), nil
}

func digits(p string) (int, error) {
	if p == "" || len(p) > 4 || strings.TrimLeft(p, "0123456789") != "" {
		return 0, fmt.Errorf("bad field %q", p)
	}
	return strconv.Atoi(p)
}

// SynchronizeClock sets the real-time clock from network time. It reports
// success only if both the fetch and the adjustment succeeded.
func (s *Server) SynchronizeClock() bool {
	if !s.rtc.Present() {
		return false
	}
	ts, ok := s.FetchNetworkTime()
	if !ok {
		telemetry.ClockSyncs.WithLabelValues("fetch_failed").Inc()
		return false
	}
	if err := s.adjust(ts); err != nil {
		telemetry.ClockSyncs.WithLabelValues("adjust_failed").Inc()
		s.logger.Warn("Clock adjust failed", "error", err)
		return false
	}
	telemetry.ClockSyncs.WithLabelValues("ok").Inc()
	s.logger.Info("Clock synchronised", "time", ts)
	return true
}

func (s *Server) adjust(ts string) error {
	return s.retrier(0).Start("adjust", func(int) error {
		return s.rtc.Adjust(ts)
	})
}

// Refresh updates the network count and timestamp of r. It prefers network
// time (also adjusting the clock), falls back to the real-time clock, and
// fails only when neither exists, leaving the timestamp at sample.NoTime.
func (s *Server) Refresh(r *sample.Reading) bool {
	r.Values[sample.Nets] = int32(s.radio.Scan())

	if ts, ok := s.FetchNetworkTime(); ok {
		r.Time = ts
		if s.rtc.Present() {
			if err := s.adjust(ts); err != nil {
				s.logger.Warn("Clock adjust failed", "error", err)
			}
		}
		return true
	}

	if s.rtc.Present() {
		ts, _ := s.rtc.Time()
		r.Time = ts
		return true
	}
	r.Time = sample.NoTime
	return false
}
