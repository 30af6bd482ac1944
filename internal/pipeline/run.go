package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// Result summarizes one quality's completed segment pipeline.
type Result struct {
	SegmentsUploaded int
	BytesUploaded    int64
	HardFailed       []hardFailedSegment
	Finalize         FinalizeResult
}

// Pipeline watches, uploads and finalizes the segments for one quality of
// one job. One Pipeline exists per in-flight quality; the executor starts
// one per rendition and calls NotifyEncoderCrashed if ffmpeg exits abnormally.
type Pipeline struct {
	cfg     Config
	watcher *watcher
	uploads *uploader
}

// New builds a Pipeline for cfg.Quality's output directory.
func New(cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:     cfg,
		watcher: newWatcher(cfg),
		uploads: newUploader(cfg),
	}
}

// NotifyEncoderCrashed tells the watcher to stop emitting segments; the
// in-flight uploader drain still completes for whatever is already queued.
func (p *Pipeline) NotifyEncoderCrashed() { p.watcher.notifyCrash() }

// Run drives the watcher and uploader concurrently until encoderDone fires,
// then flushes any remaining stable-enough segments, drains the uploader,
// and finalizes the quality. It returns ErrClaimExpired if the coordinator
// rejects an upload as claim-lost, or ErrMissingSegments if the finalize
// response reports a short count.
func (p *Pipeline) Run(ctx context.Context, encoderDone <-chan error) (Result, error) {
	queue := make(chan Segment, p.cfg.QueueCapacity)
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	watchStopped := make(chan struct{})
	go func() {
		p.watcher.run(watchCtx, queue)
		close(watchStopped)
	}()

	uploadDone := make(chan struct{})
	var hardFailed []hardFailedSegment
	var segmentsDone int
	var bytesDone int64
	var uploadErr error
	go func() {
		hardFailed, segmentsDone, bytesDone, uploadErr = p.uploads.run(ctx, queue)
		close(uploadDone)
	}()

	var encErr error
	select {
	case encErr = <-encoderDone:
	case <-uploadDone:
		// Claim lost or ctx cancelled mid-encode: stop the watcher and
		// surface whatever the uploader reported.
		cancelWatch()
		<-watchStopped
		return Result{SegmentsUploaded: segmentsDone, BytesUploaded: bytesDone, HardFailed: hardFailed}, uploadErr
	case <-ctx.Done():
		cancelWatch()
		<-watchStopped
		close(queue)
		<-uploadDone
		return Result{SegmentsUploaded: segmentsDone, BytesUploaded: bytesDone, HardFailed: hardFailed}, ctx.Err()
	}

	if encErr != nil {
		p.watcher.notifyCrash()
	}

	cancelWatch()
	<-watchStopped
	if encErr == nil {
		p.watcher.flushRemaining(queue)
	}
	close(queue)
	<-uploadDone

	if uploadErr != nil {
		return Result{SegmentsUploaded: segmentsDone, BytesUploaded: bytesDone, HardFailed: hardFailed}, uploadErr
	}
	if encErr != nil {
		return Result{SegmentsUploaded: segmentsDone, BytesUploaded: bytesDone, HardFailed: hardFailed}, fmt.Errorf("%w: %v", ErrEncoderCrashed, encErr)
	}
	if len(hardFailed) > 0 {
		return Result{SegmentsUploaded: segmentsDone, BytesUploaded: bytesDone, HardFailed: hardFailed},
			fmt.Errorf("%d segment(s) hard-failed after exhausting retries", len(hardFailed))
	}

	finalize, err := p.finalize(ctx, segmentsDone)
	if err != nil {
		return Result{SegmentsUploaded: segmentsDone, BytesUploaded: bytesDone, HardFailed: hardFailed}, err
	}
	if !finalize.Accepted {
		return Result{SegmentsUploaded: segmentsDone, BytesUploaded: bytesDone, HardFailed: hardFailed, Finalize: finalize},
			fmt.Errorf("%w: %v", ErrMissingSegments, finalize.MissingSegments)
	}
	return Result{SegmentsUploaded: segmentsDone, BytesUploaded: bytesDone, HardFailed: hardFailed, Finalize: finalize}, nil
}

// finalize uploads the quality's playlist/manifest through the same
// segment endpoint used for media segments (the coordinator has no separate
// manifest route; it is just one more checksum-verified file) and then
// declares the media segment count to the coordinator.
func (p *Pipeline) finalize(ctx context.Context, segmentCount int) (FinalizeResult, error) {
	manifestPath := filepath.Join(p.cfg.Dir, p.cfg.PlaylistName)
	data, manifestSHA, _, err := readAndHash(manifestPath)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("read manifest %s: %w", manifestPath, err)
	}
	if verified, err := p.cfg.Uploader.UploadSegment(ctx, p.cfg.VideoID, p.cfg.Quality, p.cfg.PlaylistName, manifestSHA, data); err != nil {
		if errors.Is(err, ErrClaimExpired) {
			return FinalizeResult{}, err
		}
		return FinalizeResult{}, fmt.Errorf("upload manifest %s: %w", p.cfg.PlaylistName, err)
	} else if !verified {
		return FinalizeResult{}, fmt.Errorf("manifest %s: checksum mismatch reported by coordinator", p.cfg.PlaylistName)
	}

	res, err := p.cfg.Uploader.FinalizeQuality(ctx, p.cfg.VideoID, p.cfg.Quality, segmentCount, manifestSHA)
	if err != nil {
		if errors.Is(err, ErrClaimExpired) {
			return FinalizeResult{}, err
		}
		return FinalizeResult{}, fmt.Errorf("finalize quality %s: %w", p.cfg.Quality, err)
	}
	return res, nil
}
