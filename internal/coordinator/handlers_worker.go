package coordinator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vlog/internal/apierr"
	"vlog/internal/catalog"
	"vlog/internal/models"
)

const (
	maxCapabilitiesBytes  = 10 * 1024
	maxSegmentUploadBytes = 64 * 1024 * 1024
)

type registerRequest struct {
	WorkerName   string              `json:"worker_name"`
	WorkerType   models.WorkerType   `json:"worker_type"`
	Capabilities models.Capabilities `json:"capabilities"`
	Metadata     map[string]string   `json:"metadata"`
}

type registerResponse struct {
	WorkerID string `json:"worker_id"`
	APIKey   string `json:"api_key"`
}

// RegisterWorker handles POST /api/worker/register. It is the one worker
// endpoint that runs ahead of workerAuth: a freshly deployed agent has no
// key yet, so the coordinator mints one and hands it back exactly once.
func (c *Coordinator) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req, maxCapabilitiesBytes); err != nil {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	if req.WorkerType != models.WorkerLocal && req.WorkerType != models.WorkerRemote {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.Validation, "worker_type must be local or remote"))
		return
	}

	workerID := uuid.NewString()
	now := time.Now().UTC()
	_, err := c.repo.RegisterWorker(r.Context(), catalog.WorkerRegistration{
		WorkerID:     workerID,
		WorkerName:   req.WorkerName,
		WorkerType:   req.WorkerType,
		Capabilities: req.Capabilities,
		Metadata:     req.Metadata,
	}, now)
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}

	apiKey, err := c.issuer.Issue(r.Context(), workerID, 0)
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{WorkerID: workerID, APIKey: apiKey})
}

type heartbeatRequest struct {
	Status   models.WorkerStatus `json:"status"`
	Metadata map[string]string   `json:"metadata"`
}

type heartbeatResponse struct {
	ServerTime     time.Time `json:"server_time"`
	NextHeartbeatBy time.Time `json:"next_heartbeat_by"`
}

// Heartbeat handles POST /api/worker/heartbeat.
func (c *Coordinator) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req, maxCapabilitiesBytes); err != nil {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	workerID := workerIDFromContext(r.Context())
	now := time.Now().UTC()
	if _, err := c.repo.Heartbeat(r.Context(), workerID, req.Status, req.Metadata, now); err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{
		ServerTime:      now,
		NextHeartbeatBy: now.Add(c.heartbeatInterval),
	})
}

type claimResponse struct {
	Job     *jobView `json:"job,omitempty"`
	Message string   `json:"message,omitempty"`
}

type jobView struct {
	JobID           string `json:"job_id"`
	VideoID         string `json:"video_id"`
	VideoSlug       string `json:"video_slug"`
	StreamingFormat string `json:"streaming_format"`
	AttemptNumber   int    `json:"attempt_number"`
	MaxAttempts     int    `json:"max_attempts"`
}

// ClaimJob handles POST /api/worker/claim.
func (c *Coordinator) ClaimJob(w http.ResponseWriter, r *http.Request) {
	workerID := workerIDFromContext(r.Context())
	worker, err := c.repo.GetWorker(r.Context(), workerID)
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}

	job, video, err := c.repo.ClaimNextJob(r.Context(), workerID, worker.Capabilities, time.Now().UTC())
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	if job == nil {
		writeJSON(w, http.StatusOK, claimResponse{Message: "no work"})
		return
	}
	c.metrics.JobClaimed()
	writeJSON(w, http.StatusOK, claimResponse{Job: &jobView{
		JobID:           job.ID,
		VideoID:         job.VideoID,
		VideoSlug:       video.Slug,
		StreamingFormat: string(video.StreamingFormat),
		AttemptNumber:   job.AttemptNumber,
		MaxAttempts:     job.MaxAttempts,
	}})
}

// StreamSource handles GET /api/worker/source/{video_id}, streaming the
// original uploaded source bytes so the worker can pull it down and encode.
func (c *Coordinator) StreamSource(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "video_id")
	video, err := c.repo.GetVideo(r.Context(), videoID)
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	path := filepath.Join(c.sourcesDir, video.ID+sourceFileExt(video))
	f, err := os.Open(path)
	if err != nil {
		writeError(w, r, loggerFromRequest(r), apierr.Wrap(apierr.StorageUnavailable, err))
		return
	}
	defer f.Close()
	http.ServeContent(w, r, filepath.Base(path), video.UpdatedAt, f)
}

func sourceFileExt(v models.Video) string {
	return ".src"
}

type progressRequest struct {
	CurrentStep      string                    `json:"current_step"`
	ProgressPercent  int                       `json:"progress_percent"`
	QualityProgress  []models.QualityProgress  `json:"quality_progress"`
}

// ReportProgress handles POST /api/worker/{job_id}/progress.
func (c *Coordinator) ReportProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var req progressRequest
	if err := decodeJSON(r, &req, maxCapabilitiesBytes); err != nil {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	workerID := workerIDFromContext(r.Context())
	now := time.Now().UTC()
	if err := c.repo.UpdateProgress(r.Context(), jobID, workerID, req.CurrentStep, req.ProgressPercent, req.QualityProgress, now); err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}

	job, err := c.repo.GetJob(r.Context(), jobID)
	if err == nil {
		if video, verr := c.repo.GetVideo(r.Context(), job.VideoID); verr == nil {
			if err := c.bus.PublishProgress(r.Context(), progressEventFrom(job, video, req)); err == nil {
				c.metrics.EventPublished("progress")
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type uploadSegmentRequest struct {
	Quality  models.Quality `json:"quality"`
	Filename string         `json:"filename"`
	SHA256   string         `json:"sha256"`
	Data     []byte         `json:"data"`
}

type uploadSegmentResponse struct {
	ChecksumVerified bool `json:"checksum_verified"`
}

// UploadSegment handles POST /api/worker/upload-segment/{video_id}.
func (c *Coordinator) UploadSegment(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "video_id")
	var req uploadSegmentRequest
	if err := decodeJSON(r, &req, maxSegmentUploadBytes); err != nil {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.Validation, "malformed request body"))
		return
	}

	sum := sha256.Sum256(req.Data)
	computed := hex.EncodeToString(sum[:])
	verified := computed == req.SHA256

	seg := models.Segment{
		VideoID:     videoID,
		Quality:     req.Quality,
		Filename:    req.Filename,
		Size:        int64(len(req.Data)),
		SHA256:      computed,
		SHA256Valid: verified,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := c.repo.RecordSegment(r.Context(), seg); err != nil {
		if apierr.Of(err) == apierr.ClaimLost {
			writeError(w, r, loggerFromRequest(r), err)
			return
		}
		writeError(w, r, loggerFromRequest(r), err)
		return
	}

	if verified {
		video, err := c.repo.GetVideo(r.Context(), videoID)
		if err != nil {
			writeError(w, r, loggerFromRequest(r), err)
			return
		}
		if err := c.writeSegmentFile(video.Slug, req.Quality, req.Filename, req.Data); err != nil {
			writeError(w, r, loggerFromRequest(r), apierr.Wrap(apierr.StorageUnavailable, err))
			return
		}
		c.metrics.SegmentUploaded()
	} else {
		c.metrics.SegmentRejected()
	}

	writeJSON(w, http.StatusOK, uploadSegmentResponse{ChecksumVerified: verified})
}

func (c *Coordinator) writeSegmentFile(slug string, quality models.Quality, filename string, data []byte) error {
	dir := filepath.Join(c.videosDir, slug, string(quality))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, filename), data, 0o640)
}

type finalizeRequest struct {
	SegmentCount   int    `json:"segment_count"`
	ManifestSHA256 string `json:"manifest_sha256"`
}

type finalizeResponse struct {
	Complete        bool     `json:"complete"`
	MissingSegments []string `json:"missing_segments,omitempty"`
}

// Finalize handles POST /api/worker/finalize/{video_id}/{quality}.
func (c *Coordinator) Finalize(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "video_id")
	quality := models.Quality(chi.URLParam(r, "quality"))

	var req finalizeRequest
	if err := decodeJSON(r, &req, maxCapabilitiesBytes); err != nil {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.Validation, "malformed request body"))
		return
	}

	missing, err := c.repo.FinalizeQuality(r.Context(), videoID, quality, req.SegmentCount, req.ManifestSHA256, time.Now().UTC())
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, finalizeResponse{Complete: len(missing) == 0, MissingSegments: missing})
}

type completeRequest struct {
	Qualities    []models.QualityProgress `json:"qualities"`
	Duration     float64                  `json:"duration"`
	SourceWidth  int                      `json:"source_width"`
	SourceHeight int                      `json:"source_height"`
}

// CompleteJob handles POST /api/worker/{job_id}/complete.
func (c *Coordinator) CompleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var req completeRequest
	if err := decodeJSON(r, &req, maxCapabilitiesBytes); err != nil {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	workerID := workerIDFromContext(r.Context())
	now := time.Now().UTC()

	job, err := c.repo.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}

	if err := c.repo.CompleteJob(r.Context(), jobID, workerID, catalog.CompleteResult{
		Qualities:    req.Qualities,
		Duration:     req.Duration,
		SourceWidth:  req.SourceWidth,
		SourceHeight: req.SourceHeight,
	}, now); err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	completedQuality := "unknown"
	if n := len(req.Qualities); n > 0 {
		completedQuality = string(req.Qualities[n-1].Quality)
	}
	c.metrics.JobCompleted(completedQuality)

	if video, verr := c.repo.GetVideo(r.Context(), job.VideoID); verr == nil {
		worker, _ := c.repo.GetWorker(r.Context(), workerID)
		if err := c.bus.PublishJobCompleted(r.Context(), completedEventFrom(job, video, worker, req)); err == nil {
			c.metrics.EventPublished("job_completed")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type failRequest struct {
	ErrorMessage string `json:"error_message"`
	Retry        bool   `json:"retry"`
}

// FailJob handles POST /api/worker/{job_id}/fail.
func (c *Coordinator) FailJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var req failRequest
	if err := decodeJSON(r, &req, maxCapabilitiesBytes); err != nil {
		writeError(w, r, loggerFromRequest(r), apierr.New(apierr.Validation, "malformed request body"))
		return
	}
	if len(req.ErrorMessage) > 500 {
		req.ErrorMessage = req.ErrorMessage[:500]
	}
	workerID := workerIDFromContext(r.Context())
	now := time.Now().UTC()

	job, err := c.repo.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}

	if err := c.repo.FailJob(r.Context(), jobID, workerID, req.ErrorMessage, req.Retry, now); err != nil {
		writeError(w, r, loggerFromRequest(r), err)
		return
	}
	c.metrics.JobFailed(req.ErrorMessage)

	if video, verr := c.repo.GetVideo(r.Context(), job.VideoID); verr == nil {
		worker, _ := c.repo.GetWorker(r.Context(), workerID)
		if err := c.bus.PublishJobFailed(r.Context(), failedEventFrom(job, video, worker, req)); err == nil {
			c.metrics.EventPublished("job_failed")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func decodeJSON(r *http.Request, v any, maxBytes int64) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
