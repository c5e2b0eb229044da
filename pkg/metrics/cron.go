package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// CronJobMetrics records scheduled maintenance runs. A nil receiver is a no-op.
type CronJobMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	affected *prometheus.CounterVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cron_job_duration_seconds",
		Help:    "Duration of scheduled jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cron_job_runs_total",
		Help: "Scheduled job executions by outcome.",
	}, []string{"job", "result"})
	affected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cron_job_rows_affected_total",
		Help: "Rows removed or updated by scheduled jobs.",
	}, []string{"job"})
	reg.MustRegister(duration, runs, affected)
	return &CronJobMetrics{duration: duration, runs: runs, affected: affected}
}

// ObserveRun records one execution of job.
func (c *CronJobMetrics) ObserveRun(job string, elapsed time.Duration, err error) {
	if c == nil || c.runs == nil {
		return
	}
	result := JobSucceeded
	if err != nil {
		result = JobFailed
	}
	c.duration.WithLabelValues(normalizeLabel(job)).Observe(elapsed.Seconds())
	c.runs.WithLabelValues(normalizeLabel(job), result).Inc()
}

func (c *CronJobMetrics) AddAffected(job string, rows int64) {
	if c == nil || c.affected == nil || rows <= 0 {
		return
	}
	c.affected.WithLabelValues(normalizeLabel(job)).Add(float64(rows))
}
