package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	outputsTotal         *prometheus.CounterVec
	failuresTotal        *prometheus.CounterVec
	webhookFailuresTotal *prometheus.CounterVec
	pixelsProcessedTotal prometheus.Counter
	bytesWrittenTotal    prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelconv_worker_jobs_total",
			Help: "Total conversion jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelconv_worker_job_duration_seconds",
			Help:    "Total processing duration for each conversion job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelconv_worker_active_jobs",
			Help: "Current number of conversion jobs holding a worker slot.",
		}),
		outputsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelconv_worker_outputs_total",
			Help: "Total converted files published, by output format.",
		}, []string{"format"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelconv_worker_conversion_failures_total",
			Help: "Total failed conversion attempts, by failure kind.",
		}, []string{"kind"}),
		webhookFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelconv_worker_webhook_failures_total",
			Help: "Total webhook deliveries that exhausted their retries.",
		}, []string{"event"}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelconv_usage_pixels_processed_total",
			Help: "Total pixels written across all successful jobs.",
		}),
		bytesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelconv_usage_bytes_written_total",
			Help: "Total output bytes written across all successful jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelconv_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.outputsTotal,
		m.failuresTotal,
		m.webhookFailuresTotal,
		m.pixelsProcessedTotal,
		m.bytesWrittenTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
