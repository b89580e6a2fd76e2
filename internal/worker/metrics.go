package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/PortNumber53/tubesum/backend/internal/models"
)

// PrometheusInstrumentation returns hooks that feed job counters and a
// duration histogram registered on reg.
func PrometheusInstrumentation(reg prometheus.Registerer) (*Instrumentation, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_jobs_total",
		Help: "Jobs handled by the worker, by type and result.",
	}, []string{"type", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worker_job_duration_seconds",
		Help:    "Job handler run time in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active_jobs",
		Help: "Jobs currently being processed.",
	})

	for _, c := range []prometheus.Collector{jobs, duration, active} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &Instrumentation{
		OnEnqueue: func(job *models.Job) {
			jobs.WithLabelValues(job.JobType, "enqueued").Inc()
		},
		OnComplete: func(job *models.Job, d time.Duration) {
			jobs.WithLabelValues(job.JobType, "completed").Inc()
			duration.WithLabelValues(job.JobType).Observe(d.Seconds())
		},
		OnFail: func(job *models.Job, _ error, d time.Duration) {
			jobs.WithLabelValues(job.JobType, "failed").Inc()
			duration.WithLabelValues(job.JobType).Observe(d.Seconds())
		},
		OnRetry: func(job *models.Job, _ time.Duration) {
			jobs.WithLabelValues(job.JobType, "retried").Inc()
		},
		OnHeartbeat: func(_ string, stats Stats) {
			active.Set(float64(stats.ActiveWorkers))
		},
	}, nil
}
