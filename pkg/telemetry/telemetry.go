// Package telemetry exposes the controller's Prometheus metrics.
package telemetry

import (
	"github.com/itohio/gosck/pkg/sample"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Readings appended to the persistent buffer.
var ReadingsBuffered = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "sck_readings_buffered_total",
		Help: "Readings appended to the persistent buffer",
	},
)

// Readings dropped because the buffer was full.
var ReadingsDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "sck_readings_dropped_total",
		Help: "Readings dropped because the persistent buffer was full",
	},
)

// Readings acknowledged by the collector.
var ReadingsUploaded = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "sck_readings_uploaded_total",
		Help: "Readings acknowledged by the collector",
	},
)

var Batches = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sck_upload_batches_total",
		Help: "Upload batches sent, by whether the batch closed the flush",
	},
	[]string{"terminal"},
)

var UploadFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sck_upload_failures_total",
		Help: "Upload failures by stage",
	},
	[]string{"stage"}, // join, refresh, open, ack
)

var ClockSyncs = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sck_clock_syncs_total",
		Help: "Clock synchronisation attempts by result",
	},
	[]string{"result"},
)

var BufferPending = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "sck_buffer_pending",
		Help: "Readings waiting in the persistent buffer",
	},
)

var GasResistance = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "sck_gas_resistance_ohms",
		Help: "Last measured gas sensor resistance",
	},
	[]string{"sensor"},
)

var GasLoad = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "sck_gas_load_ohms",
		Help: "Current gas sensor load resistor setting",
	},
	[]string{"sensor"},
)

var Cycles = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sck_cycles_total",
		Help: "Scheduler cycles by kind",
	},
	[]string{"kind"}, // interval, instant, clock
)

var ReadingValue = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "sck_reading",
		Help: "Last reading per channel in display units",
	},
	[]string{"channel"},
)

// Terminal returns the label value for a batch.
func Terminal(terminal bool) string {
	if terminal {
		return "true"
	}
	return "false"
}

// ObserveReading publishes every channel of r.
func ObserveReading(r sample.Reading) {
	for c := sample.Channel(0); c < sample.NumChannels; c++ {
		ReadingValue.WithLabelValues(c.String()).Set(r.Display(c))
	}
}
