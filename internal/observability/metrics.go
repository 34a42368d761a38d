// Package observability provides Prometheus metrics for the application.
package observability

import (
	"context"
	"errors"
	"mediagrab/internal/errs"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediagrab"

// Metrics holds all application metrics.
type Metrics struct {
	// Job metrics
	JobsCreated      prometheus.Counter
	JobsCompleted    prometheus.Counter
	JobsFailed       prometheus.Counter
	JobsCancelled    prometheus.Counter
	JobsInProgress   prometheus.Gauge
	JobDownloadBytes prometheus.Counter
	JobDuration      prometheus.Histogram

	// Storage metrics
	CleanupJobsTotal  prometheus.Counter
	CleanupFilesTotal prometheus.Counter
	StoredJobsTotal   prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec
	EventSubscribers    prometheus.Gauge

	// Proxy metrics
	ProxyRequestsTotal *prometheus.CounterVec
	ProxyFailures      *prometheus.CounterVec
	ProxiesAvailable   prometheus.Gauge

	// Downloader metrics
	DownloaderRequestsTotal *prometheus.CounterVec
	DownloaderErrors        *prometheus.CounterVec
	ToolInstalls            *prometheus.CounterVec

	// Upload metrics
	UploadsTotal   *prometheus.CounterVec
	UploadBytes    prometheus.Counter
	UploadDuration prometheus.Histogram
}

// New creates all application metrics and registers them with reg.
// A nil reg uses the default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	metrics := &Metrics{
		// Job metrics
		JobsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "created_total",
			Help:      "Total number of jobs created",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Total number of jobs completed successfully",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "failed_total",
			Help:      "Total number of jobs that failed",
		}),
		JobsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "cancelled_total",
			Help:      "Total number of jobs cancelled before completion",
		}),
		JobsInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "in_progress",
			Help:      "Number of jobs currently queued or running",
		}),
		JobDownloadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "download_bytes_total",
			Help:      "Total media bytes downloaded across all jobs",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Histogram of job processing duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		// Storage metrics
		CleanupJobsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cleanup_jobs_total",
			Help:      "Total number of expired jobs cleaned up",
		}),
		CleanupFilesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cleanup_files_total",
			Help:      "Total number of stale files and temp dirs cleaned up",
		}),
		StoredJobsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "jobs_current",
			Help:      "Current number of stored jobs",
		}),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPResponseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Histogram of HTTP response sizes in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		}, []string{"method", "path"}),
		EventSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "event_subscribers",
			Help:      "Number of connected websocket event subscribers",
		}),

		// Proxy metrics
		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total number of requests made through proxies",
		}, []string{"proxy"}),
		ProxyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "failures_total",
			Help:      "Total number of proxy failures",
		}, []string{"proxy"}),
		ProxiesAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "available",
			Help:      "Number of currently available proxies",
		}),

		// Downloader metrics
		DownloaderRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloader",
			Name:      "requests_total",
			Help:      "Total number of download attempts per strategy",
		}, []string{"downloader", "status"}),
		DownloaderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloader",
			Name:      "errors_total",
			Help:      "Total number of download errors",
		}, []string{"downloader", "error_type"}),
		ToolInstalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloader",
			Name:      "tool_installs_total",
			Help:      "Total number of ffmpeg install attempts per method",
		}, []string{"method", "status"}),

		// Upload metrics
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "requests_total",
			Help:      "Total number of uploads to the video host",
		}, []string{"status"}),
		UploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Total bytes sent to the video host",
		}),
		UploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "duration_seconds",
			Help:      "Histogram of upload duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
	}

	return metrics
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ErrorType maps an error onto a low-cardinality label.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled), errors.Is(err, errs.ErrJobCancelled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, errs.ErrSegmentMissing):
		return "segment_missing"
	case errors.Is(err, errs.ErrToolUnavailable):
		return "tool_unavailable"
	case errors.Is(err, errs.ErrFetch):
		return "fetch"
	case errors.Is(err, errs.ErrParse):
		return "parse"
	case errors.Is(err, errs.ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, errs.ErrProcess):
		return "process"
	case errors.Is(err, errs.ErrUpload):
		return "upload"
	default:
		return "other"
	}
}

// JobTimer returns a function to record job duration.
func (m *Metrics) JobTimer() func() {
	start := time.Now()

	return func() {
		m.JobDuration.Observe(time.Since(start).Seconds())
	}
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, size int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
}

// RecordJobCreated increments the jobs created counter.
func (m *Metrics) RecordJobCreated() {
	m.JobsCreated.Inc()
	m.JobsInProgress.Inc()
}

// RecordJobCompleted records a completed job.
func (m *Metrics) RecordJobCompleted() {
	m.JobsCompleted.Inc()
	m.JobsInProgress.Dec()
}

// RecordJobFailed records a failed job.
func (m *Metrics) RecordJobFailed() {
	m.JobsFailed.Inc()
	m.JobsInProgress.Dec()
}

// RecordJobCancelled records a job cancelled by the user.
func (m *Metrics) RecordJobCancelled() {
	m.JobsCancelled.Inc()
	m.JobsInProgress.Dec()
}

// RecordDownloadBytes adds n to the downloaded bytes counter.
func (m *Metrics) RecordDownloadBytes(n int64) {
	if n > 0 {
		m.JobDownloadBytes.Add(float64(n))
	}
}

// RecordCleanup records cleanup metrics.
func (m *Metrics) RecordCleanup(jobs, files int) {
	m.CleanupJobsTotal.Add(float64(jobs))
	m.CleanupFilesTotal.Add(float64(files))
}

// RecordDownloaderRequest records a download attempt.
func (m *Metrics) RecordDownloaderRequest(downloader, status string) {
	m.DownloaderRequestsTotal.WithLabelValues(downloader, status).Inc()
}

// RecordDownloaderError records a download error classified by ErrorType.
func (m *Metrics) RecordDownloaderError(downloader string, err error) {
	m.DownloaderErrors.WithLabelValues(downloader, ErrorType(err)).Inc()
}

// RecordToolInstall records an ffmpeg install attempt.
func (m *Metrics) RecordToolInstall(method string, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}

	m.ToolInstalls.WithLabelValues(method, status).Inc()
}

// RecordUpload records a finished upload.
func (m *Metrics) RecordUpload(ok bool, bytes int64, duration time.Duration) {
	status := "ok"
	if !ok {
		status = "failed"
	}

	m.UploadsTotal.WithLabelValues(status).Inc()
	m.UploadDuration.Observe(duration.Seconds())

	if ok && bytes > 0 {
		m.UploadBytes.Add(float64(bytes))
	}
}

// RecordProxyRequest records a proxy request.
func (m *Metrics) RecordProxyRequest(proxy string) {
	m.ProxyRequestsTotal.WithLabelValues(proxy).Inc()
}

// RecordProxyFailure records a proxy failure.
func (m *Metrics) RecordProxyFailure(proxy string) {
	m.ProxyFailures.WithLabelValues(proxy).Inc()
}

// SetProxiesAvailable sets the number of available proxies.
func (m *Metrics) SetProxiesAvailable(count int) {
	m.ProxiesAvailable.Set(float64(count))
}

// SetStoredJobs sets the number of stored jobs.
func (m *Metrics) SetStoredJobs(count int) {
	m.StoredJobsTotal.Set(float64(count))
}

// SetEventSubscribers sets the number of websocket subscribers.
func (m *Metrics) SetEventSubscribers(count int) {
	m.EventSubscribers.Set(float64(count))
}
