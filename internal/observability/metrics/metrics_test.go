package metrics

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObserveRequest_NormalizesPathAndLabelsStatus(t *testing.T) {
	r := New()

	r.ObserveRequest("get", "/videos/abc123def", 200, 50*time.Millisecond)
	r.ObserveRequest("GET", "/videos/456/", 200, 25*time.Millisecond)
	r.ObserveRequest("POST", "/videos", 201, time.Second)

	body := scrape(t, r)
	require.Contains(t, body, `vlog_http_requests_total{method="GET",path="/videos/:id",status="OK"} 2`)
	require.Contains(t, body, `vlog_http_requests_total{method="POST",path="/videos",status="Created"} 1`)
}

func TestJobLifecycleCounters_TrackActiveGauge(t *testing.T) {
	r := New()

	r.JobClaimed()
	r.JobClaimed()
	r.JobCompleted("720p")
	r.JobFailed("checksum_mismatch")

	body := scrape(t, r)
	require.Contains(t, body, "vlog_jobs_claimed_total 2")
	require.Contains(t, body, `vlog_jobs_completed_total{quality="720p"} 1`)
	require.Contains(t, body, `vlog_jobs_failed_total{reason="checksum_mismatch"} 1`)
	require.Contains(t, body, "vlog_jobs_active 0")
}

func TestJobReaped_DecrementsActiveGauge(t *testing.T) {
	r := New()

	r.JobClaimed()
	r.JobReaped()

	body := scrape(t, r)
	require.Contains(t, body, "vlog_jobs_reaped_total 1")
	require.Contains(t, body, "vlog_jobs_active 0")
}

func TestActiveJobsGauge_NeverPrintedNegativeUnderConcurrentClaims(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	claims := 50
	wg.Add(claims * 2)
	for i := 0; i < claims; i++ {
		go func() {
			defer wg.Done()
			r.JobClaimed()
		}()
		go func() {
			defer wg.Done()
			r.JobCompleted("1080p")
		}()
	}
	wg.Wait()

	body := scrape(t, r)
	require.Contains(t, body, "vlog_jobs_active 0")
}

func TestSegmentAndEventCounters(t *testing.T) {
	r := New()

	r.SegmentUploaded()
	r.SegmentUploaded()
	r.SegmentRejected()
	r.EventPublished("progress")
	r.EventDropped()

	body := scrape(t, r)
	require.Contains(t, body, "vlog_segments_uploaded_total 2")
	require.Contains(t, body, "vlog_segments_rejected_total 1")
	require.Contains(t, body, `vlog_events_published_total{kind="progress"} 1`)
	require.Contains(t, body, "vlog_events_dropped_total 1")
}

func TestNewResponseRecorder_DefaultsToOKWhenWriteHeaderNeverCalled(t *testing.T) {
	w := httptest.NewRecorder()
	rr := NewResponseRecorder(w)

	_, err := rr.Write([]byte("ok"))
	require.NoError(t, err)
	require.Equal(t, 200, rr.Status())
}

func TestNewResponseRecorder_CapturesExplicitStatus(t *testing.T) {
	w := httptest.NewRecorder()
	rr := NewResponseRecorder(w)

	rr.WriteHeader(404)
	require.Equal(t, 404, rr.Status())
	require.Equal(t, 404, w.Code)
}

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	res := httptest.NewRecorder()
	r.Handler().ServeHTTP(res, httptest.NewRequest("GET", "/metrics", nil))
	require.True(t, strings.HasPrefix(res.Result().Header.Get("Content-Type"), "text/plain"))
	return res.Body.String()
}
