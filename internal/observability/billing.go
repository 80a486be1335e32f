package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wattshare/wattshare/internal/billing"
)

// Operation result labels.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultFailure  = "failure"
)

// BillingMetrics counts engine operations and their latency.
type BillingMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

var (
	defaultBillingOnce    sync.Once
	defaultBillingMetrics *BillingMetrics
)

// NewBillingMetrics registers the collectors. A nil registerer uses the
// process-wide default registerer, registering at most once.
func NewBillingMetrics(registerer prometheus.Registerer) *BillingMetrics {
	if registerer == nil {
		defaultBillingOnce.Do(func() {
			defaultBillingMetrics = buildBillingMetrics(prometheus.DefaultRegisterer)
		})
		return defaultBillingMetrics
	}
	return buildBillingMetrics(registerer)
}

func buildBillingMetrics(registerer prometheus.Registerer) *BillingMetrics {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wattshare_billing_operations_total",
		Help: "Billing engine operations by name and result.",
	}, []string{"operation", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wattshare_billing_operation_duration_seconds",
		Help:    "Billing engine operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	registerer.MustRegister(operations, duration)
	return &BillingMetrics{operations: operations, duration: duration}
}

// Tracker times a single operation.
type Tracker struct {
	metrics   *BillingMetrics
	operation string
	start     time.Time
}

// Track starts timing operation.
func (m *BillingMetrics) Track(operation string) *Tracker {
	return &Tracker{metrics: m, operation: operation, start: time.Now()}
}

// End records the outcome and returns err untouched. Domain errors count as
// rejected, anything else as failure.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	result := ResultSuccess
	switch {
	case err == nil:
	case billing.IsDomainError(err) && !billing.IsTxFailure(err):
		result = ResultRejected
	default:
		result = ResultFailure
	}
	t.metrics.operations.WithLabelValues(t.operation, result).Inc()
	t.metrics.duration.WithLabelValues(t.operation).Observe(time.Since(t.start).Seconds())
	return err
}
