package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Checkout results used as label values.
const (
	ResultCommitted = "committed"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

// CheckoutMetrics records order commits. A nil receiver is a no-op.
type CheckoutMetrics struct {
	commits  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lines    prometheus.Histogram
	revenue  prometheus.Counter
}

func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	commits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_commits_total",
		Help: "Checkout attempts by result and error code.",
	}, []string{"result", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_commit_duration_seconds",
		Help:    "Time spent committing an order, including price lookup.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})
	lines := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_order_lines",
		Help:    "Number of lines per committed order.",
		Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
	})
	revenue := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkout_committed_cents_total",
		Help: "Sum of total_fee_cents over committed orders.",
	})
	reg.MustRegister(commits, duration, lines, revenue)
	return &CheckoutMetrics{commits: commits, duration: duration, lines: lines, revenue: revenue}
}

// ObserveCommitted records a successful commit.
func (m *CheckoutMetrics) ObserveCommitted(elapsed time.Duration, lineCount int, totalFeeCents int64) {
	if m == nil || m.commits == nil {
		return
	}
	m.commits.WithLabelValues(ResultCommitted, "").Inc()
	m.duration.WithLabelValues(ResultCommitted).Observe(elapsed.Seconds())
	m.lines.Observe(float64(lineCount))
	m.revenue.Add(float64(totalFeeCents))
}

// ObserveFailure records a rejected (client error) or failed (store error) commit.
func (m *CheckoutMetrics) ObserveFailure(result, code string, elapsed time.Duration) {
	if m == nil || m.commits == nil {
		return
	}
	m.commits.WithLabelValues(normalizeLabel(result), code).Inc()
	m.duration.WithLabelValues(normalizeLabel(result)).Observe(elapsed.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
