package agent

import "vlog/internal/models"

// The types below mirror the JSON wire shapes internal/coordinator's worker
// handlers accept and return. They are declared independently rather than
// imported from internal/coordinator so the agent depends only on the wire
// contract, not on the coordinator's routing/auth machinery.

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

type heartbeatRequest struct {
	Status   models.WorkerStatus `json:"status"`
	Metadata map[string]string   `json:"metadata"`
}

type heartbeatResponse struct {
	ServerTime      string `json:"server_time"`
	NextHeartbeatBy string `json:"next_heartbeat_by"`
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

type progressRequest struct {
	CurrentStep     string                   `json:"current_step"`
	ProgressPercent int                      `json:"progress_percent"`
	QualityProgress []models.QualityProgress `json:"quality_progress"`
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

type finalizeRequest struct {
	SegmentCount   int    `json:"segment_count"`
	ManifestSHA256 string `json:"manifest_sha256"`
}

type finalizeResponse struct {
	Complete        bool     `json:"complete"`
	MissingSegments []string `json:"missing_segments,omitempty"`
}

type completeRequest struct {
	Qualities    []models.QualityProgress `json:"qualities"`
	Duration     float64                  `json:"duration"`
	SourceWidth  int                      `json:"source_width"`
	SourceHeight int                      `json:"source_height"`
}

type failRequest struct {
	ErrorMessage string `json:"error_message"`
	Retry        bool   `json:"retry"`
}
