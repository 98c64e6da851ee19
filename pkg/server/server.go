// Package server uploads readings to the collector over the radio. It owns
// the flush policy: when to send, how to split the reading buffer into
// requests, and when to fall back to buffering.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/itohio/gosck/pkg/fifo"
	"github.com/itohio/gosck/pkg/modem"
	"github.com/itohio/gosck/pkg/retry"
	"github.com/itohio/gosck/pkg/rtc"
	"github.com/itohio/gosck/pkg/sample"
	"github.com/itohio/gosck/pkg/store"
	"github.com/itohio/gosck/pkg/telemetry"
	"github.com/itohio/gosck/pkg/wallclock"
)

const (
	// DefaultBatchMax is the largest number of buffered records per request.
	DefaultBatchMax = 20
	// DefaultAckMarker is the collector acknowledgement.
	DefaultAckMarker = "200 OK"

	timeMarker    = "UTC:"
	timeWait      = 2 * time.Second
	timeStall     = time.Second
	timeWidth     = 20
	ackTimeout    = 10 * time.Second
	collectorPort = 80
)

// Options configures a Server.
type Options struct {
	Host      string
	Port      int
	TimeHost  string
	AckMarker string // empty sends without waiting for an acknowledgement
	Version   string
	BatchMax  int
	Attempts  int
	// RetryPause is the delay between session open attempts.
	RetryPause time.Duration
}

// Server implements the upload and retry protocol.
type Server struct {
	radio  modem.Radio
	buffer *fifo.Buffer
	store  store.Store
	rtc    rtc.Clock
	clock  wallclock.Clock
	logger *slog.Logger
	opts   Options
}

// New creates a Server.
func New(radio modem.Radio, buffer *fifo.Buffer, s store.Store, clk rtc.Clock, clock wallclock.Clock, logger *slog.Logger, opts Options) *Server {
	if clock == nil {
		clock = wallclock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = rtc.Absent{}
	}
	if opts.Port == 0 {
		opts.Port = collectorPort
	}
	if opts.TimeHost == "" {
		opts.TimeHost = opts.Host
	}
	if opts.BatchMax <= 0 {
		opts.BatchMax = DefaultBatchMax
	}
	if opts.Attempts <= 0 {
		opts.Attempts = retry.DefaultAttempts
	}
	return &Server{
		radio:  radio,
		buffer: buffer,
		store:  s,
		rtc:    clk,
		clock:  clock,
		logger: logger.With("component", "server"),
		opts:   opts,
	}
}

func (s *Server) retrier(pause time.Duration) retry.Fixed {
	return retry.Fixed{Attempts: s.opts.Attempts, Pause: pause, Clock: s.clock, Logger: s.logger}
}

// Connect joins one of the stored networks unless the radio is already
// associated.
func (s *Server) Connect() bool {
	if s.radio.Associated() {
		return true
	}

	nets, err := store.ReadNetworks(s.store)
	if err != nil {
		s.logger.Warn("Failed to read networks", "error", err)
		return false
	}
	for _, n := range nets {
		if s.radio.Join(n.SSID, n.Phrase) {
			s.logger.Info("Joined network", "ssid", n.SSID)
			return true
		}
	}
	s.logger.Warn("No network joined", "known", len(nets))
	return false
}

// Report describes the outcome of a SendBatch call.
type Report struct {
	Flushed   bool // a flush was attempted
	Connected bool
	Batches   []Batch
	Uploaded  int  // records acknowledged, current reading included
	Buffered  bool // the current reading went into the buffer
	Reading   sample.Reading
}

// Batch describes one collector request.
type Batch struct {
	Records  int // buffered records carried
	Terminal bool
	Acked    bool
}

func (s *Server) threshold() int {
	v, err := s.store.ReadScalar(store.Config, store.AddrBatchThreshold)
	if err != nil || v < 1 {
		return 1
	}
	return int(v)
}

// stamp sets the reading time from the real-time clock.
func (s *Server) stamp(r *sample.Reading) {
	if s.rtc.Present() {
		if ts, ok := s.rtc.Time(); ok {
			r.Time = ts
			return
		}
	}
	if r.Time == "" {
		r.Time = sample.NoTime
	}
}

func (s *Server) enqueue(rep *Report) {
	if err := s.buffer.Enqueue(rep.Reading); err != nil {
		if errors.Is(err, fifo.ErrFull) {
			s.logger.Warn("Reading dropped, buffer full", "pending", s.buffer.Pending())
		} else {
			s.logger.Error("Failed to buffer reading", "error", err)
		}
		return
	}
	rep.Buffered = true
}

// SendBatch either buffers r or flushes the buffer followed by r to the
// collector. A flush happens when the buffer holds at least the batch
// threshold less one records, or when instant is set. When sleepAllowed the
// radio is woken for the flush and put back to sleep afterwards.
func (s *Server) SendBatch(sleepAllowed bool, r sample.Reading, instant bool) Report {
	rep := Report{Reading: r}
	s.stamp(&rep.Reading)

	pending := s.buffer.Pending()
	if pending < s.threshold()-1 && !instant {
		s.enqueue(&rep)
		s.logger.Debug("Reading buffered", "pending", s.buffer.Pending())
		return rep
	}

	rep.Flushed = true
	if sleepAllowed {
		s.radio.Wake()
	}

	if s.Connect() {
		rep.Connected = true
		if s.Refresh(&rep.Reading) {
			s.flush(&rep)
		} else {
			telemetry.UploadFailures.WithLabelValues("refresh").Inc()
			s.logger.Warn("Time refresh failed, buffering reading")
			s.enqueue(&rep)
		}
	} else {
		telemetry.UploadFailures.WithLabelValues("join").Inc()
		s.enqueue(&rep)
	}

	if sleepAllowed {
		s.radio.Sleep()
	}
	return rep
}

// flush drains the buffer in requests of at most BatchMax records. The
// final request also carries the current reading.
func (s *Server) flush(rep *Report) {
	pending := s.buffer.Pending()
	last := pending
	if pending > s.opts.BatchMax {
		cycles := pending / s.opts.BatchMax
		for range cycles {
			if !s.post(rep, s.opts.BatchMax, false) {
				s.enqueue(rep)
				return
			}
		}
		last = pending - cycles*s.opts.BatchMax
	}
	if !s.post(rep, last, true) {
		s.enqueue(rep)
		return
	}
	s.logger.Info("Posted to collector", "records", rep.Uploaded, "batches", len(rep.Batches))
}

// post sends one request carrying n buffered records, and the current
// reading when terminal. Records leave the buffer only once acknowledged.
func (s *Server) post(rep *Report, n int, terminal bool) bool {
	batch := Batch{Terminal: terminal}
	defer func() { rep.Batches = append(rep.Batches, batch) }()

	records, err := s.buffer.PeekN(n)
	if err != nil {
		s.logger.Error("Failed to read buffered records", "error", err)
		return false
	}
	batch.Records = len(records)

	err = s.retrier(s.opts.RetryPause).Start("open", func(int) error {
		if s.radio.OpenSession(s.opts.Host, s.opts.Port) {
			return nil
		}
		return retry.ErrFailed
	})
	if err != nil {
		telemetry.UploadFailures.WithLabelValues("open").Inc()
		s.logger.Warn("Collector unreachable", "host", s.opts.Host, "error", err)
		return false
	}
	defer s.radio.Close()

	var current *sample.Reading
	if terminal {
		current = &rep.Reading
	}
	if err := s.radio.Send(s.request(records, current)); err != nil {
		telemetry.UploadFailures.WithLabelValues("send").Inc()
		s.logger.Warn("Failed to send batch", "error", err)
		return false
	}
	if !s.radio.FindMarker(s.opts.AckMarker, ackTimeout) {
		telemetry.UploadFailures.WithLabelValues("ack").Inc()
		s.logger.Warn("Batch not acknowledged", "records", len(records), "terminal", terminal)
		return false
	}

	batch.Acked = true
	for range records {
		if err := s.buffer.Advance(); err != nil {
			s.logger.Error("Failed to advance buffer", "error", err)
			break
		}
	}
	uploaded := len(records)
	if terminal {
		uploaded++
	}
	rep.Uploaded += uploaded
	telemetry.ReadingsUploaded.Add(float64(uploaded))
	telemetry.Batches.WithLabelValues(telemetry.Terminal(terminal)).Inc()
	return true
}

// request renders the collector request.
func (s *Server) request(records []sample.Reading, current *sample.Reading) []byte {
	settings, err := store.ReadSettings(s.store)
	if err != nil {
		s.logger.Warn("Failed to read device identity", "error", err)
	}

	buf := make([]byte, 0, 256+len(records)*128)
	buf = append(buf, "PUT /add HTTP/1.1\n"...)
	buf = append(buf, fmt.Sprintf("Host: %s\n", s.opts.Host)...)
	buf = append(buf, "User-Agent: SmartCitizen\n"...)
	buf = append(buf, fmt.Sprintf("X-SmartCitizenMacADDR: %s\n", settings.MAC)...)
	buf = append(buf, fmt.Sprintf("X-SmartCitizenApiKey: %s\n", settings.APIKey)...)
	buf = append(buf, fmt.Sprintf("X-SmartCitizenVersion: %s\n", s.opts.Version)...)
	buf = append(buf, "X-SmartCitizenData: "...)
	buf = sample.AppendBatch(buf, records, current)
	return append(buf, "\n\n"...)
}
