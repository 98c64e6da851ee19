package server

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/itohio/gosck/pkg/fifo"
	"github.com/itohio/gosck/pkg/modem"
	"github.com/itohio/gosck/pkg/rtc"
	"github.com/itohio/gosck/pkg/sample"
	"github.com/itohio/gosck/pkg/store"
	"github.com/itohio/gosck/pkg/wallclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	timeHost      = "time.example"
	collectorHost = "collector.example"
	timeReply     = "HTTP/1.1 200 OK\r\n\r\nUTC:2026,10,19,10,5,0#"
	ackReply      = "HTTP/1.1 200 OK\r\n"
)

type fixture struct {
	srv   *Server
	radio *modem.Mock
	buf   *fifo.Buffer
	mem   *store.Memory
	clk   *wallclock.Fake
	rtc   rtc.Clock
}

func newFixture(t *testing.T, clock rtc.Clock) *fixture {
	t.Helper()

	const capacity = 64 * 56
	mem := store.NewMemory(store.LayoutSize, capacity)
	_, err := store.Seed(mem, store.Settings{
		Mode:           2,
		UpdateInterval: 60,
		BatchThreshold: 1,
		MAC:            "00:06:66:12:34:56",
		APIKey:         "secret-key",
		Networks:       []store.Network{{SSID: "home", Phrase: "pass"}},
	})
	require.NoError(t, err)

	buf, err := fifo.New(mem, capacity, fifo.DefaultTimeWidth, nil)
	require.NoError(t, err)

	clk := wallclock.NewFake(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	radio := modem.NewMock(clk)
	radio.Networks = 4
	radio.Responses[timeHost] = []byte(timeReply)
	radio.Responses[collectorHost] = []byte(ackReply)

	if clock == nil {
		clock = rtc.NewSoft(clk, false)
	}
	srv := New(radio, buf, mem, clock, clk, nil, Options{
		Host:      collectorHost,
		TimeHost:  timeHost,
		AckMarker: DefaultAckMarker,
		Version:   "1.0-test",
		BatchMax:  10,
	})
	return &fixture{srv: srv, radio: radio, buf: buf, mem: mem, clk: clk, rtc: clock}
}

func (f *fixture) fill(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		r := sample.Reading{Time: fmt.Sprintf("2026-10-18 00:%02d:00", i)}.Set(sample.Temperature, int32(i))
		require.NoError(t, f.buf.Enqueue(r))
	}
}

func (f *fixture) collectorSessions() []*modem.Session {
	var out []*modem.Session
	for _, s := range f.radio.Sessions {
		if s.Host == collectorHost {
			out = append(out, s)
		}
	}
	return out
}

func current() sample.Reading {
	return sample.Reading{}.Set(sample.Temperature, 215).Set(sample.CO, 75000)
}

func TestCanonicalTime(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "2026-10-19 10:5:0", want: "2026-10-19 10:05:00"},
		{raw: "2026-1-2 3:4:5", want: "2026-01-02 03:04:05"},
		{raw: "2026-10-19 10:05:00", want: "2026-10-19 10:05:00"},
		{raw: "2026-13-19 10:5:0", wantErr: true},
		{raw: "garbage", wantErr: true},
		{raw: "2026-10-19 -1:00:00", wantErr: true},
		{raw: "2026-10-19 10:-5:-3", wantErr: true},
		{raw: "2026-10-19 10:05:00garbage", wantErr: true},
		{raw: "2026-10-19 10:05:00:00", wantErr: true},
		{raw: "2026-10-19 +1:05:00", wantErr: true},
		{raw: "2026-10-19", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := canonicalTime(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchNetworkTime(t *testing.T) {
	f := newFixture(t, nil)

	ts, ok := f.srv.FetchNetworkTime()
	require.True(t, ok)
	assert.Equal(t, "2026-10-19 10:05:00", ts)
	assert.False(t, f.radio.InCommandMode())

	require.Len(t, f.radio.Sessions, 1)
	s := f.radio.Sessions[0]
	assert.Equal(t, timeHost, s.Host)
	assert.Equal(t, 80, s.Port)
	assert.True(t, strings.HasPrefix(string(s.Sent), "GET /datetime HTTP/1.1\n"))
	assert.True(t, s.Closed)
}

func TestFetchNetworkTime_Failures(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		sessions int
	}{
		{name: "no marker", reply: "HTTP/1.1 404 Not Found\r\n", sessions: 5},
		{name: "stalled reply", reply: "UTC:2026,10,19", sessions: 5},
		{name: "reply too long", reply: "UTC:2026,10,19,10,5,0,1,2,3,4,5,6#", sessions: 5},
		{name: "bad fields", reply: "UTC:2026,99,19,10,5,0#", sessions: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.radio.Responses[timeHost] = []byte(tt.reply)

			ts, ok := f.srv.FetchNetworkTime()
			assert.False(t, ok)
			assert.Equal(t, sample.NoTime, ts)
			assert.Len(t, f.radio.Sessions, tt.sessions)
			assert.False(t, f.radio.InCommandMode())
		})
	}
}

func TestFetchNetworkTime_OpenRetries(t *testing.T) {
	f := newFixture(t, nil)
	f.radio.OpenFailures = 4

	ts, ok := f.srv.FetchNetworkTime()
	assert.True(t, ok)
	assert.Equal(t, "2026-10-19 10:05:00", ts)

	f.radio.OpenFailures = 5
	_, ok = f.srv.FetchNetworkTime()
	assert.False(t, ok)
}

func TestSynchronizeClock(t *testing.T) {
	f := newFixture(t, nil)

	_, valid := f.rtc.Time()
	require.False(t, valid)

	assert.True(t, f.srv.SynchronizeClock())
	ts, valid := f.rtc.Time()
	assert.True(t, valid)
	assert.Equal(t, "2026-10-19 10:05:00", ts)
}

func TestSynchronizeClock_Failures(t *testing.T) {
	f := newFixture(t, rtc.Absent{})
	assert.False(t, f.srv.SynchronizeClock(), "no clock fitted")
	assert.Empty(t, f.radio.Sessions)

	f = newFixture(t, nil)
	f.radio.FailHosts = map[string]bool{timeHost: true}
	assert.False(t, f.srv.SynchronizeClock())
}

func TestSendBatch_BelowThreshold(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.mem.WriteScalar(store.Config, store.AddrBatchThreshold, 3))

	rep := f.srv.SendBatch(false, current(), false)
	assert.False(t, rep.Flushed)
	assert.True(t, rep.Buffered)
	assert.Equal(t, sample.NoTime, rep.Reading.Time)
	assert.Empty(t, f.radio.Sessions)
	assert.Empty(t, f.radio.Joins)
	assert.Equal(t, 1, f.buf.Pending())

	rep = f.srv.SendBatch(false, current(), false)
	assert.False(t, rep.Flushed)
	assert.Equal(t, 2, f.buf.Pending())

	// Two pending reaches the threshold less one.
	rep = f.srv.SendBatch(false, current(), false)
	assert.True(t, rep.Flushed)
	assert.Equal(t, 3, rep.Uploaded)
	assert.Equal(t, 0, f.buf.Pending())
}

func TestSendBatch_Chunking(t *testing.T) {
	f := newFixture(t, nil)
	f.fill(t, 23)

	rep := f.srv.SendBatch(false, current(), false)
	require.True(t, rep.Flushed)
	assert.True(t, rep.Connected)
	assert.Equal(t, []Batch{
		{Records: 10, Terminal: false, Acked: true},
		{Records: 10, Terminal: false, Acked: true},
		{Records: 3, Terminal: true, Acked: true},
	}, rep.Batches)
	assert.Equal(t, 24, rep.Uploaded)
	assert.False(t, rep.Buffered)
	assert.Equal(t, 0, f.buf.Pending())

	sessions := f.collectorSessions()
	require.Len(t, sessions, 3)
	for i, want := range []int{10, 10, 4} {
		assert.Equal(t, want, strings.Count(string(sessions[i].Sent), `{"temp":`), "batch %d", i)
		assert.True(t, sessions[i].Closed)
	}
	assert.Equal(t, len(f.radio.Sessions), f.radio.Closes, "one close per session")

	// FIFO order across batches, current reading last.
	assert.Contains(t, string(sessions[0].Sent), `[{"temp":"0"`)
	assert.Contains(t, string(sessions[2].Sent), `{"temp":"22"`)
	assert.Contains(t, string(sessions[2].Sent), `{"temp":"215"`)
	assert.Contains(t, string(sessions[2].Sent), `"timestamp":"2026-10-19 10:05:00"}]`)
	assert.Equal(t, int32(4), rep.Reading.Get(sample.Nets))
}

func TestSendBatch_ExactMultiple(t *testing.T) {
	f := newFixture(t, nil)
	f.fill(t, 20)

	rep := f.srv.SendBatch(false, current(), false)
	assert.Equal(t, []Batch{
		{Records: 10, Acked: true},
		{Records: 10, Acked: true},
		{Records: 0, Terminal: true, Acked: true},
	}, rep.Batches)
	assert.Equal(t, 21, rep.Uploaded)
}

func TestSendBatch_Instant(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.mem.WriteScalar(store.Config, store.AddrBatchThreshold, 5))

	rep := f.srv.SendBatch(false, current(), true)
	require.True(t, rep.Flushed)
	assert.Equal(t, []Batch{{Records: 0, Terminal: true, Acked: true}}, rep.Batches)
	assert.Equal(t, 1, rep.Uploaded)
	assert.Equal(t, []string{"home"}, f.radio.Joins)
}

func TestSendBatch_Request(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.SendBatch(false, current(), true)

	sessions := f.collectorSessions()
	require.Len(t, sessions, 1)
	req := string(sessions[0].Sent)

	assert.True(t, strings.HasPrefix(req, "PUT /add HTTP/1.1\nHost: collector.example\n"))
	assert.Contains(t, req, "User-Agent: SmartCitizen\n")
	assert.Contains(t, req, "X-SmartCitizenMacADDR: 00:06:66:12:34:56\n")
	assert.Contains(t, req, "X-SmartCitizenApiKey: secret-key\n")
	assert.Contains(t, req, "X-SmartCitizenVersion: 1.0-test\n")
	assert.Contains(t, req, "X-SmartCitizenData: [{")
	assert.True(t, strings.HasSuffix(req, "}]\n\n"))
}

func TestSendBatch_JoinFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.fill(t, 2)
	f.radio.Down = true

	rep := f.srv.SendBatch(true, current(), false)
	assert.True(t, rep.Flushed)
	assert.False(t, rep.Connected)
	assert.True(t, rep.Buffered)
	assert.Empty(t, rep.Batches)
	assert.Equal(t, 3, f.buf.Pending())
	assert.Equal(t, 1, f.radio.Sleeps, "radio put back to sleep")
	assert.False(t, f.radio.Awake)

	all, err := f.buf.PeekN(3)
	require.NoError(t, err)
	assert.Equal(t, int32(215), all[2].Get(sample.Temperature))
	assert.Equal(t, sample.NoTime, all[2].Time)
}

func TestSendBatch_AckFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.fill(t, 23)
	f.radio.OnOpen = func(s *modem.Session, n int) []byte {
		switch {
		case s.Host == timeHost:
			return []byte(timeReply)
		case n == 2:
			return []byte("HTTP/1.1 500 Internal Server Error\r\n")
		default:
			return []byte(ackReply)
		}
	}

	rep := f.srv.SendBatch(false, current(), false)
	assert.Equal(t, []Batch{
		{Records: 10, Acked: true},
		{Records: 10, Acked: false},
	}, rep.Batches)
	assert.Equal(t, 10, rep.Uploaded)
	assert.True(t, rep.Buffered)
	assert.Equal(t, 14, f.buf.Pending(), "unacknowledged records stay, current reading appended")

	first, err := f.buf.Peek()
	require.NoError(t, err)
	assert.Equal(t, int32(10), first.Get(sample.Temperature))
}

func TestSendBatch_CollectorUnreachable(t *testing.T) {
	f := newFixture(t, nil)
	f.fill(t, 3)
	f.radio.FailHosts = map[string]bool{collectorHost: true}

	rep := f.srv.SendBatch(false, current(), false)
	assert.Equal(t, []Batch{{Records: 3, Terminal: true}}, rep.Batches)
	assert.Zero(t, rep.Uploaded)
	assert.True(t, rep.Buffered)
	assert.Equal(t, 4, f.buf.Pending())
}

func TestSendBatch_RefreshFailure(t *testing.T) {
	f := newFixture(t, rtc.Absent{})
	f.radio.FailHosts = map[string]bool{timeHost: true}

	rep := f.srv.SendBatch(false, current(), false)
	assert.True(t, rep.Connected)
	assert.Empty(t, rep.Batches)
	assert.True(t, rep.Buffered)
	assert.Equal(t, sample.NoTime, rep.Reading.Time)
	assert.Equal(t, 1, f.buf.Pending())
}

func TestSendBatch_RefreshFallsBackToClock(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.rtc.Adjust("2026-10-19 08:00:00"))
	f.radio.FailHosts = map[string]bool{timeHost: true}

	rep := f.srv.SendBatch(false, current(), false)
	require.Len(t, rep.Batches, 1)
	assert.True(t, rep.Batches[0].Acked)
	assert.True(t, strings.HasPrefix(rep.Reading.Time, "2026-10-19 08:00:"), rep.Reading.Time)
	assert.True(t, rtc.IsValid(rep.Reading.Time))
}

func TestSendBatch_SleepCycle(t *testing.T) {
	f := newFixture(t, nil)

	rep := f.srv.SendBatch(true, current(), false)
	assert.Equal(t, 1, rep.Uploaded)
	assert.Equal(t, 1, f.radio.Sleeps)
	assert.False(t, f.radio.Awake)
}

func TestConnect(t *testing.T) {
	f := newFixture(t, nil)
	f.radio.SetAssociated(true)
	assert.True(t, f.srv.Connect())
	assert.Empty(t, f.radio.Joins, "already associated")

	f = newFixture(t, nil)
	require.NoError(t, store.WriteNetworks(f.mem, []store.Network{{SSID: "cafe"}, {SSID: "home", Phrase: "pass"}}))
	f.radio.SSIDs = []string{"home"}
	assert.True(t, f.srv.Connect())
	assert.Equal(t, []string{"cafe", "home"}, f.radio.Joins)

	f = newFixture(t, nil)
	require.NoError(t, store.WriteNetworks(f.mem, nil))
	assert.False(t, f.srv.Connect())
}
