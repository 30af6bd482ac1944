package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"vlog/internal/models"
)

// uploader drains a Segment queue: re-stat before reading (a file still
// being written must not be read as final), hash off the caller's
// goroutine, upload, and on verified checksum delete the local file. A
// checksum mismatch or upload error is retried in place, up to
// MaxSegRetries attempts in all, before the segment is recorded as
// hard-failed.
type uploader struct {
	videoID   string
	quality   models.Quality
	upload    Uploader
	maxRetry  int
	progress  ProgressFunc
	log       zerolog.Logger
}

func newUploader(cfg Config) *uploader {
	return &uploader{
		videoID:  cfg.VideoID,
		quality:  cfg.Quality,
		upload:   cfg.Uploader,
		maxRetry: cfg.MaxSegRetries,
		progress: cfg.Progress,
		log:      cfg.Logger,
	}
}

// hardFailedSegment names a segment that exhausted its retry budget.
type hardFailedSegment struct {
	Name  string
	Cause error
}

// run drains in until ctx is cancelled or in is closed, returning the
// segments that hard-failed and the cumulative bytes successfully uploaded.
// A ClaimExpired response stops the drain immediately and is returned as
// err.
func (u *uploader) run(ctx context.Context, in <-chan Segment) (hardFailed []hardFailedSegment, segmentsDone int, bytesDone int64, err error) {
	for {
		select {
		case <-ctx.Done():
			return hardFailed, segmentsDone, bytesDone, ctx.Err()
		case seg, ok := <-in:
			if !ok {
				return hardFailed, segmentsDone, bytesDone, nil
			}
			n, uploadErr := u.uploadOne(ctx, seg)
			if uploadErr != nil {
				if errors.Is(uploadErr, ErrClaimExpired) {
					return hardFailed, segmentsDone, bytesDone, uploadErr
				}
				hardFailed = append(hardFailed, hardFailedSegment{Name: seg.Name, Cause: uploadErr})
				continue
			}
			segmentsDone++
			bytesDone += n
			if u.progress != nil {
				u.progress(u.quality, segmentsDone, bytesDone)
			}
		}
	}
}

// maxSizeRecheck bounds how many times uploadOne will re-stat a segment
// whose size changed since the watcher declared it stable. This is a
// separate budget from maxRetry: a size mismatch means the file is still
// being written, not that the upload failed.
const maxSizeRecheck = 20

// uploadOne re-stats before every read (a size change means the file is
// still being written and must not be uploaded yet) and makes up to
// maxRetry attempts in all when an upload or checksum check fails.
func (u *uploader) uploadOne(ctx context.Context, seg Segment) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= u.maxRetry; attempt++ {
		data, sum, err := u.readStable(ctx, &seg)
		if err != nil {
			lastErr = err
			continue
		}

		verified, err := u.upload.UploadSegment(ctx, u.videoID, seg.Quality, seg.Name, sum, data)
		if err != nil {
			if errors.Is(err, ErrClaimExpired) {
				return 0, err
			}
			lastErr = err
			continue
		}
		if !verified {
			lastErr = fmt.Errorf("segment %s: checksum mismatch reported by coordinator", seg.Name)
			continue
		}

		if err := os.Remove(seg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			u.log.Warn().Err(err).Str("segment", seg.Name).Msg("uploaded segment but failed to remove local file")
		}
		return int64(len(data)), nil
	}
	return 0, fmt.Errorf("segment %s: exhausted %d attempts: %w", seg.Name, u.maxRetry, lastErr)
}

// readStable re-stats seg.Path before reading it. If the size no longer
// matches seg.Size (the encoder is still appending to it), it updates
// seg.Size and re-stats again rather than uploading a partial file, up to
// maxSizeRecheck times.
func (u *uploader) readStable(ctx context.Context, seg *Segment) (data []byte, sha256Hex string, err error) {
	for i := 0; i < maxSizeRecheck; i++ {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		d, sum, statSize, statErr := readAndHash(seg.Path)
		if statErr != nil {
			return nil, "", statErr
		}
		if statSize == seg.Size {
			return d, sum, nil
		}
		seg.Size = statSize
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil, "", fmt.Errorf("segment %s: size did not settle after %d re-checks", seg.Name, maxSizeRecheck)
}

func readAndHash(path string) (data []byte, sha256Hex string, size int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", 0, err
	}
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, "", 0, err
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), info.Size(), nil
}
