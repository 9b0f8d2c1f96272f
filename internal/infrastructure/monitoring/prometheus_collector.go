package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SignalingMetrics tracks the coordinator's session and message activity.
// Metrics register against an injected registerer so independent server
// instances (and tests) never collide on a process-global registry.
type SignalingMetrics struct {
	reg prometheus.Registerer

	sessionsActive      prometheus.Gauge
	sessionsTotal       prometheus.Counter
	handshakeRejections prometheus.Counter

	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec

	answerLatency prometheus.Histogram
}

func NewSignalingMetrics(reg prometheus.Registerer) *SignalingMetrics {
	factory := promauto.With(reg)
	return &SignalingMetrics{
		reg: reg,

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshlink_sessions_active",
			Help: "Number of live signaling sessions",
		}),

		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshlink_sessions_total",
			Help: "Total number of accepted signaling sessions",
		}),

		handshakeRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshlink_handshake_rejections_total",
			Help: "Total number of connections dropped at handshake",
		}),

		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshlink_messages_received_total",
			Help: "Signaling messages received, by event",
		}, []string{"event"}),

		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshlink_messages_sent_total",
			Help: "Signaling messages delivered, by event",
		}, []string{"event"}),

		answerLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshlink_answer_latency_seconds",
			Help:    "Time spent routing a newAnswer call",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

// ObserveRegistries exposes live registry sizes as pull-time gauges. Counts
// are read at scrape time, so the gauges never drift from the tables.
func (m *SignalingMetrics) ObserveRegistries(openOffers, listedRooms func() int) {
	factory := promauto.With(m.reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "meshlink_offers_open",
		Help: "Offers currently awaiting an answer",
	}, func() float64 { return float64(openOffers()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "meshlink_rooms_active",
		Help: "Open rooms in the public listing",
	}, func() float64 { return float64(listedRooms()) })
}

func (m *SignalingMetrics) ConnectionOpened() {
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

func (m *SignalingMetrics) ConnectionClosed() {
	m.sessionsActive.Dec()
}

func (m *SignalingMetrics) HandshakeRejected() {
	m.handshakeRejections.Inc()
}

func (m *SignalingMetrics) MessageReceived(event string) {
	m.messagesReceived.WithLabelValues(event).Inc()
}

func (m *SignalingMetrics) MessageSent(event string) {
	m.messagesSent.WithLabelValues(event).Inc()
}

func (m *SignalingMetrics) ObserveAnswerLatency(d time.Duration) {
	m.answerLatency.Observe(d.Seconds())
}
