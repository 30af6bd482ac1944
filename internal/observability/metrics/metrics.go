// Package metrics exposes a Prometheus registry for the coordinator and
// worker agent: HTTP request totals/latency, job lifecycle counters, claim
// lease outcomes, segment upload counters, and event-bus publish counters.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder wraps a dedicated Prometheus registry so tests can construct
// isolated instances instead of colliding on the global default registerer.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	jobsClaimedTotal   prometheus.Counter
	jobsCompletedTotal *prometheus.CounterVec
	jobsFailedTotal    *prometheus.CounterVec
	jobsReapedTotal    prometheus.Counter
	activeJobs         prometheus.Gauge

	segmentsUploadedTotal prometheus.Counter
	segmentsRejectedTotal prometheus.Counter

	eventsPublishedTotal *prometheus.CounterVec
	eventsDroppedTotal   prometheus.Counter
}

var defaultRecorder = New()

// New constructs a Recorder backed by its own Prometheus registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		requestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "vlog_http_requests_total",
			Help: "Total number of HTTP requests processed by the coordinator API.",
		}, []string{"method", "path", "status"}),
		requestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vlog_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		jobsClaimedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "vlog_jobs_claimed_total",
			Help: "Total number of transcode jobs claimed by a worker.",
		}),
		jobsCompletedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "vlog_jobs_completed_total",
			Help: "Total number of transcode jobs completed, by quality.",
		}, []string{"quality"}),
		jobsFailedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "vlog_jobs_failed_total",
			Help: "Total number of transcode job attempts that failed, by reason.",
		}, []string{"reason"}),
		jobsReapedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "vlog_jobs_reaped_total",
			Help: "Total number of claim leases reclaimed after expiring without a heartbeat.",
		}),
		activeJobs: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "vlog_jobs_active",
			Help: "Current number of jobs claimed and in flight.",
		}),
		segmentsUploadedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "vlog_segments_uploaded_total",
			Help: "Total number of HLS segments accepted after checksum verification.",
		}),
		segmentsRejectedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "vlog_segments_rejected_total",
			Help: "Total number of HLS segments rejected for a checksum mismatch.",
		}),
		eventsPublishedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "vlog_events_published_total",
			Help: "Total number of events published to the bus, by channel kind.",
		}, []string{"kind"}),
		eventsDroppedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "vlog_events_dropped_total",
			Help: "Total number of fan-out events dropped because a listener's buffer was full.",
		}),
	}
	return r
}

// Default returns the process-wide Recorder used by packages that don't
// carry their own instance through a constructor.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest records one completed HTTP request.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": strings.ToUpper(method),
		"path":   normalizePath(path),
		"status": statusLabel(status),
	}
	r.requestsTotal.With(labels).Inc()
	r.requestDuration.With(labels).Observe(duration.Seconds())
}

// JobClaimed increments the claimed-job counter and the active-jobs gauge.
func (r *Recorder) JobClaimed() {
	r.jobsClaimedTotal.Inc()
	r.activeJobs.Inc()
}

// JobCompleted records a completed job for quality and decrements the
// active-jobs gauge.
func (r *Recorder) JobCompleted(quality string) {
	r.jobsCompletedTotal.WithLabelValues(normalizeLabel(quality)).Inc()
	r.activeJobs.Dec()
}

// JobFailed records a failed job attempt for reason and decrements the
// active-jobs gauge.
func (r *Recorder) JobFailed(reason string) {
	r.jobsFailedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
	r.activeJobs.Dec()
}

// JobReaped records a claim lease reclaimed by the reaper and decrements the
// active-jobs gauge.
func (r *Recorder) JobReaped() {
	r.jobsReapedTotal.Inc()
	r.activeJobs.Dec()
}

// SegmentUploaded records a checksum-verified segment upload.
func (r *Recorder) SegmentUploaded() {
	r.segmentsUploadedTotal.Inc()
}

// SegmentRejected records a segment rejected for a checksum mismatch.
func (r *Recorder) SegmentRejected() {
	r.segmentsRejectedTotal.Inc()
}

// EventPublished records a bus publish for the given channel kind.
func (r *Recorder) EventPublished(kind string) {
	r.eventsPublishedTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}

// EventDropped records a fan-out event dropped due to a full listener buffer.
func (r *Recorder) EventDropped() {
	r.eventsDroppedTotal.Inc()
}

// Handler exposes the Recorder's registry in the Prometheus text exposition
// format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func normalizeLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}

func statusLabel(status int) string {
	if status == 0 {
		return "000"
	}
	return http.StatusText(status)
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
