// Package pipeline implements the segment pipeline that runs inside the
// worker agent alongside the executor: a directory watcher (producer), a
// bounded queue, an uploader (consumer), and per-quality finalize. It is the
// concurrency core analogous to the teacher's UploadProcessor, reshaped from
// a single queue-of-IDs drained by a worker pool into a per-quality
// watch-then-stream pipeline.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"vlog/internal/models"
)

// ErrClaimExpired signals the coordinator no longer considers this worker
// the holder of the job's claim. Uploader adapters wrap their
// transport-level claim-lost error with this sentinel so the pipeline can
// recognize it without depending on the transport package.
var ErrClaimExpired = errors.New("job claim no longer held")

// ErrEncoderCrashed is returned by Run when NotifyEncoderCrashed was called
// before the pipeline finished draining.
var ErrEncoderCrashed = errors.New("encoder crashed before segment pipeline drained")

// ErrMissingSegments is returned by Run when the coordinator's finalize
// response reports a segment count mismatch.
var ErrMissingSegments = errors.New("coordinator reports missing segments")

const (
	defaultPollInterval  = time.Second
	defaultStableCount   = 2
	defaultQueueCapacity = 10
	defaultMaxSegRetries = 3
)

// FinalizeResult is the coordinator's verdict on a finished quality.
type FinalizeResult struct {
	Accepted         bool
	MissingSegments  []string
	ServerSegmentCnt int
}

// Uploader is the transport the pipeline drives to deliver segment bytes
// and finalize a quality. Implemented by an adapter over
// internal/agent.CoordinatorClient in cmd/worker, keeping this package free
// of any dependency on the coordinator's HTTP wire shapes.
type Uploader interface {
	UploadSegment(ctx context.Context, videoID string, quality models.Quality, filename, sha256Hex string, data []byte) (checksumVerified bool, err error)
	FinalizeQuality(ctx context.Context, videoID string, quality models.Quality, segmentCount int, manifestSHA256 string) (FinalizeResult, error)
}

// ProgressFunc reports cumulative upload progress for one quality.
type ProgressFunc func(quality models.Quality, segmentsCompleted int, bytesUploadedTotal int64)

// Config tunes one quality's watch-upload-finalize run.
type Config struct {
	VideoID      string
	Quality      models.Quality
	Dir          string
	PlaylistName string // e.g. "playlist.m3u8" or "manifest.mpd", uploaded at finalize.

	PollInterval  time.Duration
	StableCount   int
	QueueCapacity int
	MaxSegRetries int

	Uploader Uploader
	Progress ProgressFunc
	Logger   zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.StableCount <= 0 {
		c.StableCount = defaultStableCount
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.MaxSegRetries <= 0 {
		c.MaxSegRetries = defaultMaxSegRetries
	}
	return c
}
