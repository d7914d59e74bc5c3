// Package metrics holds the Prometheus instruments shared by the server and worker.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scouthub"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	accessDenied     *prometheus.CounterVec
	auditWrites      *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	registrations    *prometheus.CounterVec
	jobsProcessed    *prometheus.CounterVec
	notificationSent *prometheus.CounterVec
}

// New registers all instruments with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		accessDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_denied_total",
			Help:      "Authorization denials by required role",
		}, []string{"required_role"}),
		auditWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_writes_total",
			Help:      "Audit entry writes by category and result",
		}, []string{"category", "result"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_transitions_total",
			Help:      "Membership status transitions",
		}, []string{"from", "to"}),
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registrations by kind (account, scout)",
		}, []string{"kind"}),
		jobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_jobs_total",
			Help:      "Worker jobs by type and result",
		}, []string{"type", "result"}),
		notificationSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification e-mails by template and result",
		}, []string{"template", "result"}),
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) AccessDenied(requiredRole string) {
	if m == nil {
		return
	}
	m.accessDenied.WithLabelValues(requiredRole).Inc()
}

// AuditWrite counts an audit write; result is "ok", "failed" or "queued".
func (m *Metrics) AuditWrite(category, result string) {
	if m == nil {
		return
	}
	m.auditWrites.WithLabelValues(category, result).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Registered(kind string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(kind).Inc()
}

func (m *Metrics) JobProcessed(jobType string, err error) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(jobType, result(err)).Inc()
}

func (m *Metrics) NotificationSent(template string, err error) {
	if m == nil {
		return
	}
	m.notificationSent.WithLabelValues(template, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
