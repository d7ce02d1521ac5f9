// Package metrics exposes prometheus collectors for the API and workers.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"restaurant_ops/pkg/circuitbreaker"
	"restaurant_ops/pkg/models"
	"restaurant_ops/pkg/reservation"
)

const namespace = "restaurant"

type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	reservations  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	movements     *prometheus.CounterVec
	emails        *prometheus.CounterVec
	breakerState  prometheus.Gauge
	streamClients prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		reservations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reservation_changes_total",
				Help:      "Reservation creations, updates and deletions",
			},
			[]string{"type"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reservation_status_transitions_total",
				Help:      "Reservation status changes",
			},
			[]string{"from", "to"},
		),
		movements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inventory_movements_total",
				Help:      "Recorded stock movements",
			},
			[]string{"type"},
		),
		emails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "email_jobs_total",
				Help:      "Email outbox jobs by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sheet_breaker_state",
			Help:      "Spreadsheet circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reservation_stream_clients",
			Help:      "Connected reservation stream clients",
		}),
	}

	registry.MustRegister(
		m.requests, m.latency, m.reservations, m.transitions,
		m.movements, m.emails, m.breakerState, m.streamClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records every request under its route pattern, not its path,
// so ids do not blow up label cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.latency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ReservationChanged implements reservation.Listener.
func (m *Metrics) ReservationChanged(ch reservation.Change) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(string(ch.Type)).Inc()
	if ch.Previous != nil && ch.Previous.Status != ch.Reservation.Status {
		m.transitions.WithLabelValues(string(ch.Previous.Status), string(ch.Reservation.Status)).Inc()
	}
}

func (m *Metrics) Movement(t models.MovementType) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) EmailDispatched(kind, outcome string) {
	if m == nil {
		return
	}
	m.emails.WithLabelValues(kind, outcome).Inc()
}

// BreakerChanged matches circuitbreaker.OnStateChange.
func (m *Metrics) BreakerChanged(_, to circuitbreaker.State) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(to))
}

func (m *Metrics) StreamClients(n int) {
	if m == nil {
		return
	}
	m.streamClients.Set(float64(n))
}
