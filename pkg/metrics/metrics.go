/**
 * @description
 * Prometheus instrumentation for the banking core. The collector owns its
 * own registry so tests can create isolated instances, and exposes the
 * counters, histogram, and gauge the ledger and outbox dispatcher record
 * against.
 *
 * @dependencies
 * - github.com/prometheus/client_golang: Prometheus client library.
 */
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus instruments for the banking core.
type Collector struct {
	registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration prometheus.Histogram
	accountBalance    *prometheus.GaugeVec
	outboxPublished   prometheus.Counter
	outboxFailed      prometheus.Counter
}

// NewCollector builds a Collector backed by a private registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		operations: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by kind and outcome",
		}, []string{"operation", "outcome"}),
		operationDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Time taken to process a ledger operation",
			Buckets: prometheus.DefBuckets,
		}),
		accountBalance: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "account_balance",
			Help: "Last observed account balance",
		}, []string{"owner_id"}),
		outboxPublished: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "audit_outbox_published_total",
			Help: "Audit events successfully published to the broker",
		}),
		outboxFailed: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "audit_outbox_failed_total",
			Help: "Audit event publish attempts that failed",
		}),
	}
}

// RecordOperation counts one ledger operation with its outcome label.
func (c *Collector) RecordOperation(operation, outcome string) {
	if c == nil {
		return
	}
	c.operations.WithLabelValues(operation, outcome).Inc()
}

// ObserveDuration records how long a ledger operation took, in seconds.
func (c *Collector) ObserveDuration(seconds float64) {
	if c == nil {
		return
	}
	c.operationDuration.Observe(seconds)
}

// SetBalance records the balance observed after a mutation.
func (c *Collector) SetBalance(ownerID string, balance float64) {
	if c == nil {
		return
	}
	c.accountBalance.WithLabelValues(ownerID).Set(balance)
}

// RecordOutboxPublish counts one outbox publication attempt.
func (c *Collector) RecordOutboxPublish(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.outboxPublished.Inc()
	} else {
		c.outboxFailed.Inc()
	}
}

// Handler exposes the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
