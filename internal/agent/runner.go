package agent

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vlog/internal/models"
)

// Job is the claimed unit of work a JobExecutor runs.
type Job struct {
	JobID           string
	VideoID         string
	VideoSlug       string
	StreamingFormat string
	AttemptNumber   int
	MaxAttempts     int
}

// JobResult is what the executor hands back on success.
type JobResult struct {
	Qualities    []models.QualityProgress
	Duration     float64
	SourceWidth  int
	SourceHeight int
}

// JobExecutor runs one claimed Job end to end: pulling the source,
// transcoding, and uploading segments (internal/executor + internal/
// pipeline compose to implement this). Kept as an interface so Runner has
// no direct dependency on ffmpeg or the filesystem watcher.
type JobExecutor interface {
	Execute(ctx context.Context, job Job, progress func(step string, percent int, qualities []models.QualityProgress)) (JobResult, error)
}

// Runner drives the register → heartbeat → claim → execute loop for one
// worker process. Command handling (restart/update/get_logs/get_metrics)
// runs separately via CommandListener, which shares the same workerID.
type Runner struct {
	cfg      Config
	client   *CoordinatorClient
	executor JobExecutor
	log      zerolog.Logger

	workerID string

	statusMu sync.Mutex
	status   models.WorkerStatus
}

// NewRunner wires a Runner from cfg. identity is loaded from (and persisted
// to) cfg.StateFile; when absent the worker registers fresh.
func NewRunner(cfg Config, client *CoordinatorClient, executor JobExecutor, log zerolog.Logger) (*Runner, error) {
	return &Runner{cfg: cfg, client: client, executor: executor, log: log}, nil
}

// Bootstrap loads a persisted identity or registers a new one, installing
// the resulting API key on the client.
func (r *Runner) Bootstrap(ctx context.Context) (string, error) {
	id, err := loadIdentity(r.cfg.StateFile)
	if err != nil {
		return "", err
	}
	if id != nil && id.WorkerID != "" && id.APIKey != "" {
		r.client.SetAPIKey(id.APIKey)
		r.workerID = id.WorkerID
		r.log.Info().Str("worker_id", id.WorkerID).Msg("loaded persisted worker identity")
		return id.WorkerID, nil
	}

	caps, err := DetectCapabilities(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("capability detection failed, registering with partial capabilities")
	}
	workerID, apiKey, err := r.client.Register(ctx, r.cfg.WorkerName, models.WorkerRemote, caps)
	if err != nil {
		return "", err
	}
	r.client.SetAPIKey(apiKey)
	r.workerID = workerID
	if err := saveIdentity(r.cfg.StateFile, identity{WorkerID: workerID, APIKey: apiKey}); err != nil {
		r.log.Warn().Err(err).Msg("failed to persist worker identity, will re-register on restart")
	}
	r.log.Info().Str("worker_id", workerID).Msg("registered with coordinator")
	return workerID, nil
}

// WorkerID returns the identity established by Bootstrap.
func (r *Runner) WorkerID() string { return r.workerID }

// Run drives claim polling and the main loop until ctx is cancelled.
// Heartbeats run on their own goroutine so a long transcode never starves
// them: spec.md's worker runs "three concurrent tasks: heartbeat,
// command-listener, main-loop" (the command listener is started separately
// by cmd/worker, alongside this call), and a job that runs longer than a
// few heartbeat intervals must not make the coordinator's reaper mark the
// worker offline mid-job.
func (r *Runner) Run(ctx context.Context) error {
	// Stagger this worker's first beat/poll so a fleet restarted together
	// doesn't all hit the coordinator in the same instant.
	time.Sleep(startupStagger(r.cfg.PollInterval))

	r.setStatus(models.WorkerIdle)

	go r.heartbeatLoop(ctx)

	poll := time.NewTicker(r.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
			if r.getStatus() == models.WorkerBusy {
				continue
			}
			job, err := r.client.Claim(ctx)
			if err != nil {
				r.log.Warn().Err(err).Msg("claim failed")
				continue
			}
			if job == nil {
				continue
			}
			r.setStatus(models.WorkerBusy)
			r.runJob(ctx, job)
			r.setStatus(models.WorkerIdle)
		}
	}
}

// heartbeatLoop ticks independently of job execution, reporting whatever
// status the main loop last set. It exits when ctx is cancelled.
func (r *Runner) heartbeatLoop(ctx context.Context) {
	heartbeats := time.NewTicker(r.cfg.HeartbeatInterval)
	defer heartbeats.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeats.C:
			if _, err := r.client.Heartbeat(ctx, r.getStatus(), nil); err != nil {
				r.log.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func (r *Runner) setStatus(s models.WorkerStatus) {
	r.statusMu.Lock()
	r.status = s
	r.statusMu.Unlock()
}

func (r *Runner) getStatus() models.WorkerStatus {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.status
}

func (r *Runner) runJob(ctx context.Context, j *jobView) {
	log := r.log.With().Str("job_id", j.JobID).Str("video_id", j.VideoID).Logger()
	log.Info().Msg("claimed job")

	result, err := r.executor.Execute(ctx, Job{
		JobID:           j.JobID,
		VideoID:         j.VideoID,
		VideoSlug:       j.VideoSlug,
		StreamingFormat: j.StreamingFormat,
		AttemptNumber:   j.AttemptNumber,
		MaxAttempts:     j.MaxAttempts,
	}, func(step string, percent int, qualities []models.QualityProgress) {
		if reportErr := r.client.ReportProgress(ctx, j.JobID, step, percent, qualities); reportErr != nil {
			log.Warn().Err(reportErr).Msg("progress report failed")
		}
	})
	if err != nil {
		retry := j.AttemptNumber < j.MaxAttempts && !errors.Is(err, context.Canceled)
		if failErr := r.client.FailJob(ctx, j.JobID, err.Error(), retry); failErr != nil {
			log.Warn().Err(failErr).Msg("fail_job report failed")
		}
		log.Warn().Err(err).Bool("retry", retry).Msg("job failed")
		return
	}

	if err := r.client.CompleteJob(ctx, j.JobID, result.Qualities, result.Duration, result.SourceWidth, result.SourceHeight); err != nil {
		log.Warn().Err(err).Msg("complete_job report failed")
		return
	}
	log.Info().Msg("job completed")
}

// startupStagger returns a random delay in [0, d), so many workers started
// together don't all hit the coordinator in lockstep on their first beat.
func startupStagger(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}
