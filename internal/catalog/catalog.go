// Package catalog is the exclusive owner of persistent state: videos, jobs,
// quality progress, workers, API keys, admin sessions, settings and
// deployment events. It provides transactional claim/heartbeat/completion/
// retry primitives per spec.md §4.1; every other component mutates state
// only by calling through this package.
package catalog

import (
	"context"
	"time"

	"vlog/internal/jobstate"
	"vlog/internal/models"
)

// CreateVideoParams describes a newly uploaded source.
type CreateVideoParams struct {
	Slug            string
	Title           string
	StreamingFormat models.StreamingFormat
	PrimaryCodec    models.Codec
	MaxAttempts     int
}

// CompleteResult carries the outcome reported by a worker's complete_job
// call.
type CompleteResult struct {
	Qualities    []models.QualityProgress
	Duration     float64
	SourceWidth  int
	SourceHeight int
}

// ReapSummary totals the work done by one reaper sweep, for logging/metrics.
type ReapSummary struct {
	ClaimsExpired   int
	WorkersOffline  int
	StalledRetried  int
}

// WorkerRegistration describes a new (or re-registering) worker.
type WorkerRegistration struct {
	WorkerID     string
	WorkerName   string
	WorkerType   models.WorkerType
	Capabilities models.Capabilities
	Metadata     map[string]string
}

// VideoFilter narrows ListVideos results. Zero value lists everything
// non-deleted.
type VideoFilter struct {
	Status         models.VideoStatus
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// Repository is the full transactional contract the Coordinator, Worker API
// and admin surface use to mutate and read persistent state. Workers never
// see this interface directly — they call RPCs that the coordinator maps to
// these operations.
type Repository interface {
	Ping(ctx context.Context) error

	// Videos & jobs.
	CreateVideo(ctx context.Context, params CreateVideoParams) (models.Video, models.Job, error)
	GetVideo(ctx context.Context, id string) (models.Video, error)
	GetVideoBySlug(ctx context.Context, slug string) (models.Video, error)
	ListVideos(ctx context.Context, filter VideoFilter) ([]models.Video, error)
	SoftDeleteVideo(ctx context.Context, id string) error
	RequeueVideo(ctx context.Context, videoID string) (models.Job, error)

	GetJob(ctx context.Context, jobID string) (models.Job, error)
	GetJobByVideo(ctx context.Context, videoID string) (models.Job, error)
	JobState(ctx context.Context, jobID string, now time.Time) (jobstate.State, error)
	ListQualityProgress(ctx context.Context, jobID string) ([]models.QualityProgress, error)

	// Claim lease lifecycle (spec.md §4.1).
	ClaimNextJob(ctx context.Context, workerID string, caps models.Capabilities, now time.Time) (*models.Job, *models.Video, error)
	ExtendClaim(ctx context.Context, jobID, workerID string, now time.Time, lease time.Duration) (time.Time, error)
	UpdateProgress(ctx context.Context, jobID, workerID string, step string, percent int, qualities []models.QualityProgress, now time.Time) error
	CompleteJob(ctx context.Context, jobID, workerID string, result CompleteResult, now time.Time) error
	FailJob(ctx context.Context, jobID, workerID, errMsg string, retry bool, now time.Time) error
	ReapExpiredClaims(ctx context.Context, now time.Time, offlineAfter, staleAfter time.Duration) (ReapSummary, error)

	// Workers.
	RegisterWorker(ctx context.Context, reg WorkerRegistration, now time.Time) (models.Worker, error)
	Heartbeat(ctx context.Context, workerID string, status models.WorkerStatus, metadata map[string]string, now time.Time) (models.Worker, error)
	GetWorker(ctx context.Context, workerID string) (models.Worker, error)
	ListWorkers(ctx context.Context) ([]models.Worker, error)
	DeleteWorker(ctx context.Context, workerID string) error
	SetWorkerDisabled(ctx context.Context, workerID string, disabled bool) error

	// API keys.
	CreateAPIKey(ctx context.Context, workerID, keyPrefix, keyHash string, version models.HashVersion, expiresAt *time.Time, now time.Time) error
	FindAPIKeyCandidates(ctx context.Context, keyPrefix string, now time.Time) ([]models.APIKey, error)
	TouchAPIKey(ctx context.Context, workerID, keyPrefix string, now time.Time) error
	RevokeAPIKeys(ctx context.Context, workerID string, now time.Time) error

	// Admin sessions.
	CreateSession(ctx context.Context, sess models.AdminSession) error
	GetSession(ctx context.Context, token string) (models.AdminSession, error)
	TouchSession(ctx context.Context, token string, now time.Time) error
	DeleteSession(ctx context.Context, token string) error
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int, error)

	// Settings.
	GetSetting(ctx context.Context, key string) (models.Setting, error)
	ListSettings(ctx context.Context, category string) ([]models.Setting, error)
	PutSetting(ctx context.Context, s models.Setting) error

	// Deployment events.
	RecordDeploymentEvent(ctx context.Context, evt models.DeploymentEvent) error
	ListDeploymentEvents(ctx context.Context, workerID string, limit int) ([]models.DeploymentEvent, error)

	// Segments.
	RecordSegment(ctx context.Context, seg models.Segment) (persisted bool, err error)
	SegmentCount(ctx context.Context, videoID string, quality models.Quality) (int, error)
	FinalizeQuality(ctx context.Context, videoID string, quality models.Quality, declaredCount int, manifestSHA256 string, now time.Time) (missing []string, err error)
}
