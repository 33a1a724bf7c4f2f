// Package metrics exposes Prometheus instruments for the relay. A nil
// *Metrics is valid and records nothing, so components can take one
// optionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the instruments.
type Config struct {
	// Namespace is the metrics namespace (default: "chatrelay").
	Namespace string

	// Registry is where instruments are registered and gathered from.
	// Default: a fresh prometheus.Registry.
	Registry *prometheus.Registry
}

// Option configures the metrics.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds the relay's instruments.
type Metrics struct {
	registry *prometheus.Registry

	online            prometheus.Gauge
	banned            prometheus.Gauge
	accepted          prometheus.Counter
	rejected          *prometheus.CounterVec
	handshakes        *prometheus.CounterVec
	messages          prometheus.Counter
	whispers          *prometheus.CounterVec
	kicks             prometheus.Counter
	handshakeDuration prometheus.Histogram
}

// New creates and registers the instruments.
//
// Metrics collected:
//   - chatrelay_sessions_online: Gauge of admitted sessions
//   - chatrelay_banned_addresses: Gauge of banned remote addresses
//   - chatrelay_connections_accepted_total: Counter of accepted raw connections
//   - chatrelay_connections_rejected_total: Counter of rejections by reason
//   - chatrelay_handshakes_total: Counter of handshakes by outcome
//   - chatrelay_handshake_duration_seconds: Histogram of handshake duration
//   - chatrelay_messages_total: Counter of relayed chat messages
//   - chatrelay_whispers_total: Counter of whispers by result
//   - chatrelay_kicks_total: Counter of administrative kicks
func New(opts ...Option) *Metrics {
	config := Config{Namespace: "chatrelay"}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	factory := promauto.With(config.Registry)
	ns := config.Namespace

	return &Metrics{
		registry: config.Registry,
		online: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "sessions_online",
			Help:      "Number of admitted chat sessions",
		}),
		banned: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "banned_addresses",
			Help:      "Number of banned remote addresses",
		}),
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted raw connections",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connections_rejected_total",
			Help:      "Total number of connections rejected before admission",
		}, []string{"reason"}),
		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "handshakes_total",
			Help:      "Total number of handshakes by outcome",
		}, []string{"outcome"}),
		handshakeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "handshake_duration_seconds",
			Help:      "Time from accept to handshake outcome",
			Buckets:   prometheus.DefBuckets,
		}),
		messages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_total",
			Help:      "Total number of relayed chat messages",
		}),
		whispers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "whispers_total",
			Help:      "Total number of whispers by result",
		}, []string{"result"}),
		kicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "kicks_total",
			Help:      "Total number of administrative kicks",
		}),
	}
}

// Handler serves the registered instruments in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetOnline records the number of online sessions.
func (m *Metrics) SetOnline(n int) {
	if m == nil {
		return
	}
	m.online.Set(float64(n))
}

// SetBanned records the size of the ban list.
func (m *Metrics) SetBanned(n int) {
	if m == nil {
		return
	}
	m.banned.Set(float64(n))
}

// ConnectionAccepted counts one accepted raw connection.
func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.accepted.Inc()
}

// ConnectionRejected counts one rejection ("blacklisted", "server_full",
// "admission").
func (m *Metrics) ConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// Handshake records one handshake outcome and how long it took.
func (m *Metrics) Handshake(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(outcome).Inc()
	m.handshakeDuration.Observe(seconds)
}

// MessageRelayed counts one chat message.
func (m *Metrics) MessageRelayed() {
	if m == nil {
		return
	}
	m.messages.Inc()
}

// Whisper counts one whisper ("delivered" or "not_found").
func (m *Metrics) Whisper(result string) {
	if m == nil {
		return
	}
	m.whispers.WithLabelValues(result).Inc()
}

// Kick counts one administrative kick.
func (m *Metrics) Kick() {
	if m == nil {
		return
	}
	m.kicks.Inc()
}
