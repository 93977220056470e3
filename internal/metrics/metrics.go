// Package metrics records ledger metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is what services record into.
type Collector interface {
	RecordOperationDuration(operation string, duration time.Duration)
	RecordTransaction(kind, status, currency string)
	RecordError(operation, kind string)
	RecordConflictRetry(operation string)
	RecordSettlement(method, outcome string)
	RecordEventDropped(eventType string)
	RecordReconciled(outcome string)
	RecordHTTPRequest(method, path, status string, duration time.Duration)
}

// NoopCollector discards everything.
type NoopCollector struct{}

func (NoopCollector) RecordOperationDuration(string, time.Duration)          {}
func (NoopCollector) RecordTransaction(string, string, string)               {}
func (NoopCollector) RecordError(string, string)                             {}
func (NoopCollector) RecordConflictRetry(string)                             {}
func (NoopCollector) RecordSettlement(string, string)                        {}
func (NoopCollector) RecordEventDropped(string)                              {}
func (NoopCollector) RecordReconciled(string)                                {}
func (NoopCollector) RecordHTTPRequest(string, string, string, time.Duration) {}

// Prometheus is a Collector backed by its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	transactionsTotal *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	conflictRetries   *prometheus.CounterVec
	settlementsTotal  *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	reconciledTotal   *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paysa_operation_duration_seconds",
				Help:    "Duration of ledger operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		transactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paysa_transactions_total",
				Help: "Transactions reaching a recorded status",
			},
			[]string{"kind", "status", "currency"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paysa_errors_total",
				Help: "Errors returned by ledger operations",
			},
			[]string{"operation", "kind"},
		),
		conflictRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paysa_conflict_retries_total",
				Help: "Atomic operations retried after a concurrency conflict",
			},
			[]string{"operation"},
		),
		settlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paysa_settlements_total",
				Help: "Settlement connector outcomes",
			},
			[]string{"method", "outcome"},
		),
		eventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paysa_events_dropped_total",
				Help: "Events dropped because the publish queue was full",
			},
			[]string{"type"},
		),
		reconciledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paysa_reconciled_total",
				Help: "Transactions examined by the reconciliation worker",
			},
			[]string{"outcome"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paysa_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paysa_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

func (p *Prometheus) RecordOperationDuration(operation string, duration time.Duration) {
	p.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (p *Prometheus) RecordTransaction(kind, status, currency string) {
	p.transactionsTotal.WithLabelValues(kind, status, currency).Inc()
}

func (p *Prometheus) RecordError(operation, kind string) {
	p.errorsTotal.WithLabelValues(operation, kind).Inc()
}

func (p *Prometheus) RecordConflictRetry(operation string) {
	p.conflictRetries.WithLabelValues(operation).Inc()
}

func (p *Prometheus) RecordSettlement(method, outcome string) {
	p.settlementsTotal.WithLabelValues(method, outcome).Inc()
}

func (p *Prometheus) RecordEventDropped(eventType string) {
	p.eventsDropped.WithLabelValues(eventType).Inc()
}

func (p *Prometheus) RecordReconciled(outcome string) {
	p.reconciledTotal.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	p.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	p.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}
