package transport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luma/beacon/protocol"
)

// Metrics counts connection activity. A nil *Metrics records nothing.
type Metrics struct {
	connections   prometheus.Gauge
	framesRead    *prometheus.CounterVec
	framesWritten *prometheus.CounterVec
	bytesIn       prometheus.Counter
	bytesOut      prometheus.Counter
	readErrors    *prometheus.CounterVec
	bufferSize    prometheus.Histogram
}

// NewMetrics creates the connection metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon",
			Subsystem: "conn",
			Name:      "active",
			Help:      "Connections currently being served.",
		}),
		framesRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "beacon",
				Subsystem: "conn",
				Name:      "frames_read_total",
				Help:      "Frames read from connections.",
			},
			[]string{"kind"},
		),
		framesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "beacon",
				Subsystem: "conn",
				Name:      "frames_written_total",
				Help:      "Frames written to connections.",
			},
			[]string{"kind"},
		),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "conn",
			Name:      "read_bytes_total",
			Help:      "Bytes read from connection streams.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "conn",
			Name:      "written_bytes_total",
			Help:      "Bytes written to connection streams.",
		}),
		readErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "beacon",
				Subsystem: "conn",
				Name:      "read_errors_total",
				Help:      "Failed frame reads by reason.",
			},
			[]string{"reason"},
		),
		bufferSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "beacon",
			Subsystem: "conn",
			Name:      "read_buffer_grown_bytes",
			Help:      "Read buffer capacity after each time it grows.",
			Buckets:   prometheus.ExponentialBuckets(8192, 4, 8),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.connections,
			m.framesRead,
			m.framesWritten,
			m.bytesIn,
			m.bytesOut,
			m.readErrors,
			m.bufferSize,
		)
	}

	return m
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}

	m.connections.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}

	m.connections.Dec()
}

func (m *Metrics) frameRead(kind protocol.Kind) {
	if m == nil {
		return
	}

	m.framesRead.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) frameWritten(kind protocol.Kind, n int) {
	if m == nil {
		return
	}

	m.framesWritten.WithLabelValues(kind.String()).Inc()
	m.bytesOut.Add(float64(n))
}

func (m *Metrics) bytesRead(n int) {
	if m == nil || n <= 0 {
		return
	}

	m.bytesIn.Add(float64(n))
}

func (m *Metrics) readError(reason string) {
	if m == nil {
		return
	}

	m.readErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) bufferGrown(size int) {
	if m == nil {
		return
	}

	m.bufferSize.Observe(float64(size))
}
