package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"vlog/internal/agent"
	"vlog/internal/executor"
	"vlog/internal/models"
)

// jobExecutorAdapter implements agent.JobExecutor on top of
// internal/executor.Executor: it streams the source down from the
// coordinator into a per-job scratch directory, runs the ffmpeg pipeline,
// and cleans the scratch directory up afterward. Kept as a thin adapter so
// internal/executor never needs to know how a source file's bytes arrive.
//
// internal/executor.Executor is built fresh per job rather than once at
// startup: its QualityUploaderFactory closes over the claimed job's
// videoID, which isn't known until Execute is called.
type jobExecutorAdapter struct {
	client     *agent.CoordinatorClient
	tempRoot   string
	ffmpegBin  string
	ffprobeBin string
	log        zerolog.Logger

	pipelinePollInterval  time.Duration
	pipelineStableCount   int
	pipelineQueueCapacity int
	pipelineMaxSegRetries int
}

func (a *jobExecutorAdapter) Execute(ctx context.Context, job agent.Job, progress func(step string, percent int, qualities []models.QualityProgress)) (agent.JobResult, error) {
	jobDir := filepath.Join(a.tempRoot, job.JobID)
	defer os.RemoveAll(jobDir)

	sourcePath := filepath.Join(jobDir, "source")
	if err := a.downloadSource(ctx, job.VideoID, sourcePath); err != nil {
		return agent.JobResult{}, fmt.Errorf("download source: %w", err)
	}
	if progress != nil {
		progress("downloaded", 0, nil)
	}

	exec := executor.New(executor.Config{
		FFmpegBin:     a.ffmpegBin,
		FFprobeBin:    a.ffprobeBin,
		UploaderFor:   qualityUploaderFactory(a.client, job.VideoID),
		PollInterval:  a.pipelinePollInterval,
		StableCount:   a.pipelineStableCount,
		QueueCapacity: a.pipelineQueueCapacity,
		MaxSegRetries: a.pipelineMaxSegRetries,
		Logger:        a.log.With().Str("job_id", job.JobID).Logger(),
	})

	result, err := exec.Execute(ctx, executor.Job{
		JobID:           job.JobID,
		VideoID:         job.VideoID,
		VideoSlug:       job.VideoSlug,
		SourcePath:      sourcePath,
		OutputRoot:      filepath.Join(jobDir, "output"),
		StreamingFormat: models.StreamingFormat(job.StreamingFormat),
	}, progress)
	if err != nil {
		return agent.JobResult{Qualities: result.Qualities}, err
	}

	return agent.JobResult{
		Qualities:    result.Qualities,
		Duration:     result.Duration,
		SourceWidth:  result.SourceWidth,
		SourceHeight: result.SourceHeight,
	}, nil
}

func (a *jobExecutorAdapter) downloadSource(ctx context.Context, videoID, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create local source file: %w", err)
	}
	defer f.Close()
	return a.client.StreamSource(ctx, videoID, f)
}
