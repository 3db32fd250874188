package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schoolboard"

// Metrics owns a private registry so tests can build as many as they like.
// All methods are safe on a nil receiver.
type Metrics struct {
	Registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	timetableOps        *prometheus.CounterVec
	draftConflicts      prometheus.Counter
	displayClients      prometheus.Gauge
	announcementsPurged prometheus.Counter
	rosterSkips         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		timetableOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timetable_operations_total",
			Help:      "Committed timetable entry operations by kind.",
		}, []string{"op"}),
		draftConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timetable_draft_conflicts_total",
			Help:      "Draft saves rejected because committed entries changed underneath.",
		}),
		displayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "display_clients",
			Help:      "Connected live display clients.",
		}),
		announcementsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_purged_total",
			Help:      "Expired announcements removed by the retention job.",
		}),
		rosterSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roster_skips_total",
			Help:      "Students skipped during bulk roster changes, by reason.",
		}, []string{"reason"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.timetableOps,
		m.draftConflicts,
		m.displayClients,
		m.announcementsPurged,
		m.rosterSkips,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) TimetableBatch(creates, deletes, updates int) {
	if m == nil {
		return
	}
	m.timetableOps.WithLabelValues("create").Add(float64(creates))
	m.timetableOps.WithLabelValues("delete").Add(float64(deletes))
	m.timetableOps.WithLabelValues("update").Add(float64(updates))
}

func (m *Metrics) DraftConflict() {
	if m == nil {
		return
	}
	m.draftConflicts.Inc()
}

func (m *Metrics) DisplayClientConnected() {
	if m == nil {
		return
	}
	m.displayClients.Inc()
}

func (m *Metrics) DisplayClientDisconnected() {
	if m == nil {
		return
	}
	m.displayClients.Dec()
}

func (m *Metrics) AnnouncementsPurged(n int64) {
	if m == nil {
		return
	}
	m.announcementsPurged.Add(float64(n))
}

func (m *Metrics) RosterSkip(reason string) {
	if m == nil {
		return
	}
	m.rosterSkips.WithLabelValues(reason).Inc()
}
