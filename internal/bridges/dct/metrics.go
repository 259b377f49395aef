package dct

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "dct"

// Metrics holds the session's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	CommandsSent     prometheus.Counter
	CommandsDropped  prometheus.Counter
	CommandsFailed   prometheus.Counter
	InFlightTimeouts prometheus.Counter
	Refusals         *prometheus.CounterVec
	Replies          *prometheus.CounterVec
	ParseErrors      *prometheus.CounterVec
	Reconnects       prometheus.Counter
	Connected        prometheus.Gauge
	QueueLength      prometheus.Gauge
	FramesRecorded   *prometheus.GaugeVec
}

// NewMetrics registers the session collectors with reg. A nil reg uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		CommandsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_sent_total",
			Help:      "Commands written to the device",
		}),
		CommandsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_dropped_total",
			Help:      "Commands dropped because the device was not connected",
		}),
		CommandsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_failed_total",
			Help:      "Commands answered with FAIL",
		}),
		InFlightTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "inflight_timeouts_total",
			Help:      "Commands released from the in-flight slot without a reply",
		}),
		Refusals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refusals_total",
			Help:      "Operations refused by local state checks",
		}, []string{"operation"}),
		Replies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "replies_total",
			Help:      "Device replies by classified kind",
		}, []string{"kind"}),
		ParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "parse_errors_total",
			Help:      "Reply lines that could not be processed",
		}, []string{"reason"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled after a transport error",
		}),
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected",
			Help:      "1 when the device connection is open",
		}),
		QueueLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_length",
			Help:      "Commands waiting to be sent",
		}),
		FramesRecorded: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "buffer_frames_recorded",
			Help:      "Frames recorded per buffer as last reported",
		}, []string{"buffer"}),
	}
}

func (m *Metrics) sent() {
	if m != nil {
		m.CommandsSent.Inc()
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.CommandsDropped.Inc()
	}
}

func (m *Metrics) failed() {
	if m != nil {
		m.CommandsFailed.Inc()
	}
}

func (m *Metrics) inFlightTimeout() {
	if m != nil {
		m.InFlightTimeouts.Inc()
	}
}

func (m *Metrics) refused(op string) {
	if m != nil {
		m.Refusals.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) reply(kind string) {
	if m != nil {
		m.Replies.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) parseError(reason string) {
	if m != nil {
		m.ParseErrors.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

func (m *Metrics) setQueueLength(n int) {
	if m != nil {
		m.QueueLength.Set(float64(n))
	}
}

func (m *Metrics) observeBuffers(buffers []Buffer) {
	if m == nil {
		return
	}
	for _, b := range buffers {
		m.FramesRecorded.WithLabelValues(strconv.Itoa(b.Index)).Set(float64(b.Recorded))
	}
}
