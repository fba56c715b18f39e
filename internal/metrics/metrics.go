// Package metrics exposes Prometheus counters for request cycles and
// delivery. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	cycles        *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	packets       *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	channelErrors *prometheus.CounterVec
	aborts        prometheus.Counter
	cycleTime     prometheus.Histogram
	httpRequests  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "wearnotify_cycles_total", Help: "request cycles by outcome"},
			[]string{"outcome"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "wearnotify_cache_lookups_total", Help: "request cache lookups by result"},
			[]string{"result"},
		),
		packets: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "wearnotify_packets_total", Help: "packets sent by channel"},
			[]string{"channel"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "wearnotify_packet_bytes_total", Help: "packet bytes sent by channel"},
			[]string{"channel"},
		),
		channelErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "wearnotify_channel_errors_total", Help: "channel call failures"},
			[]string{"channel", "op"},
		),
		aborts: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "wearnotify_continuation_aborts_total", Help: "deliveries stopped at a checkpoint"},
		),
		cycleTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wearnotify_cycle_seconds",
				Help:    "request cycle duration.",
				Buckets: []float64{0.05, 0.5, 1, 5, 10, 30, 60},
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "wearnotify_http_requests_total", Help: "http input requests by code and method"},
			[]string{"code", "method"},
		),
	}
	m.reg.MustRegister(
		m.cycles, m.cacheLookups, m.packets, m.bytes,
		m.channelErrors, m.aborts, m.cycleTime, m.httpRequests,
	)
	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Cycle records one finished request cycle. outcome is one of delivered,
// empty, quit, aborted or error.
func (m *Metrics) Cycle(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleTime.Observe(took.Seconds())
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) PacketSent(channel string, size int) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(channel).Inc()
	m.bytes.WithLabelValues(channel).Add(float64(size))
}

func (m *Metrics) ChannelError(channel, op string) {
	if m == nil {
		return
	}
	m.channelErrors.WithLabelValues(channel, op).Inc()
}

func (m *Metrics) Aborted() {
	if m == nil {
		return
	}
	m.aborts.Inc()
}

// Collect counts HTTP requests passing through next. /metrics itself is
// not counted.
func (m *Metrics) Collect(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			if r.URL.Path != "/metrics" {
				m.httpRequests.WithLabelValues(strconv.Itoa(ww.Status()), r.Method).Inc()
			}
		}()
		next.ServeHTTP(ww, r)
	})
}
