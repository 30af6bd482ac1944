// Package executor is the ffmpeg black-box adapter: given a source file and
// a job, it probes the source, decides a rendition ladder, and runs one
// ffmpeg process plus one internal/pipeline.Pipeline per quality
// concurrently. Grounded on the teacher's cmd/transcoder/main.go
// (buildTranscodePlan/startFFmpeg), generalized from one multi-variant
// ffmpeg invocation into one process per quality so each rendition's
// segment pipeline can finalize and fail independently, matching spec.md's
// per-quality progress and finalize model.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vlog/internal/models"
	"vlog/internal/pipeline"
)

// Job is the unit of work Execute runs. SourcePath must already be on local
// disk (the caller is responsible for streaming it down first).
type Job struct {
	JobID           string
	VideoID         string
	VideoSlug       string
	SourcePath      string
	OutputRoot      string
	StreamingFormat models.StreamingFormat
}

// QualityUploaderFactory builds the pipeline.Uploader for one quality. cmd/worker
// supplies this, adapting internal/agent.CoordinatorClient so this package
// never depends on the coordinator's wire shapes.
type QualityUploaderFactory func(quality models.Quality) pipeline.Uploader

// ProgressFunc mirrors internal/agent.JobExecutor's callback shape without
// importing internal/agent.
type ProgressFunc func(step string, percent int, qualities []models.QualityProgress)

// Result is what Execute hands back on success.
type Result struct {
	Qualities    []models.QualityProgress
	Duration     float64
	SourceWidth  int
	SourceHeight int
}

// Config tunes an Executor instance.
type Config struct {
	FFmpegBin     string
	FFprobeBin    string
	UploaderFor   QualityUploaderFactory
	PollInterval  time.Duration
	StableCount   int
	QueueCapacity int
	MaxSegRetries int
	Logger        zerolog.Logger
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return time.Second
	}
	return c.PollInterval
}

// Executor runs one claimed job end to end.
type Executor struct {
	cfg Config
}

// New builds an Executor. cfg.UploaderFor must be set; ffmpeg/ffprobe
// binary names default to "ffmpeg"/"ffprobe" (resolved via PATH).
func New(cfg Config) *Executor {
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.FFprobeBin == "" {
		cfg.FFprobeBin = "ffprobe"
	}
	return &Executor{cfg: cfg}
}

// Execute probes the source, derives a rendition ladder, and runs every
// quality's encode+pipeline concurrently. A single quality's hard failure
// fails the whole job; neither Execute nor its caller applies a
// minimum-ready-quality exception.
func (e *Executor) Execute(ctx context.Context, job Job, progress ProgressFunc) (Result, error) {
	probe, err := probeSource(ctx, e.cfg.FFprobeBin, job.SourcePath)
	if err != nil {
		return Result{}, fmt.Errorf("probe source: %w", err)
	}

	ladder := renditionLadder(probe.Height)
	if len(ladder) == 0 {
		return Result{}, fmt.Errorf("no rendition fits source height %d", probe.Height)
	}

	if err := os.MkdirAll(job.OutputRoot, 0o750); err != nil {
		return Result{}, fmt.Errorf("prepare output root: %w", err)
	}

	qualityState := newQualityTracker(job.JobID, ladder)
	report := func() {
		if progress != nil {
			progress("transcoding", qualityState.overallPercent(), qualityState.snapshot())
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, quality := range ladder {
		quality := quality
		group.Go(func() error {
			res, err := e.runQuality(gctx, job, probe, quality, func(segmentsCompleted, segmentsTotal int) {
				qualityState.update(quality, models.QualityUploading, percentOf(segmentsCompleted, segmentsTotal))
				report()
			})
			if err != nil {
				qualityState.update(quality, models.QualityFailed, 0)
				report()
				return fmt.Errorf("quality %s: %w", quality, err)
			}
			qualityState.update(quality, models.QualityCompleted, 100)
			qualityState.setSegmentCount(quality, res.SegmentsUploaded)
			report()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return Result{Qualities: qualityState.snapshot()}, err
	}

	return Result{
		Qualities:    qualityState.snapshot(),
		Duration:     probe.Duration,
		SourceWidth:  probe.Width,
		SourceHeight: probe.Height,
	}, nil
}

// runQuality builds the ffmpeg plan for one rendition, starts the encoder,
// and drives its segment pipeline to completion.
func (e *Executor) runQuality(ctx context.Context, job Job, probe sourceProbe, quality models.Quality, onSegmentProgress func(completed, total int)) (pipeline.Result, error) {
	outDir := filepath.Join(job.OutputRoot, string(quality))
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return pipeline.Result{}, fmt.Errorf("prepare output dir: %w", err)
	}

	plan, err := buildRenditionPlan(quality, job.SourcePath, outDir, job.StreamingFormat, probe)
	if err != nil {
		return pipeline.Result{}, err
	}

	log := e.cfg.Logger.With().Str("job_id", job.JobID).Str("quality", string(quality)).Logger()
	proc, err := startFFmpeg(ctx, e.cfg.FFmpegBin, plan.Args, log)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("start ffmpeg: %w", err)
	}

	pl := pipeline.New(pipeline.Config{
		VideoID:       job.VideoID,
		Quality:       quality,
		Dir:           outDir,
		PlaylistName:  plan.PlaylistName,
		PollInterval:  e.cfg.pollInterval(),
		StableCount:   e.cfg.StableCount,
		QueueCapacity: e.cfg.QueueCapacity,
		MaxSegRetries: e.cfg.MaxSegRetries,
		Uploader:      e.cfg.UploaderFor(quality),
		Progress: func(q models.Quality, segmentsCompleted int, bytesUploaded int64) {
			onSegmentProgress(segmentsCompleted, plan.EstimatedSegments)
		},
		Logger: log,
	})

	encoderDone := make(chan error, 1)
	go func() { encoderDone <- proc.wait() }()

	result, err := pl.Run(ctx, encoderDone)
	if err != nil {
		proc.kill()
		return result, err
	}
	return result, nil
}

func percentOf(done, total int) int {
	if total <= 0 {
		if done > 0 {
			return 100
		}
		return 0
	}
	pct := (done * 100) / total
	if pct > 100 {
		pct = 100
	}
	return pct
}
