package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"vlog/internal/models"
)

type fakeUploader struct {
	mu           sync.Mutex
	segments     map[string][]byte
	failNextN    int
	claimExpired bool
	finalizeErr  error
	accept       bool
	missing      []string
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{segments: make(map[string][]byte), accept: true}
}

func (f *fakeUploader) UploadSegment(ctx context.Context, videoID string, quality models.Quality, filename, sha256Hex string, data []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimExpired {
		return false, ErrClaimExpired
	}
	if f.failNextN > 0 {
		f.failNextN--
		return false, nil
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != sha256Hex {
		return false, nil
	}
	f.segments[filename] = data
	return true, nil
}

func (f *fakeUploader) FinalizeQuality(ctx context.Context, videoID string, quality models.Quality, segmentCount int, manifestSHA256 string) (FinalizeResult, error) {
	if f.finalizeErr != nil {
		return FinalizeResult{}, f.finalizeErr
	}
	return FinalizeResult{Accepted: f.accept, MissingSegments: f.missing, ServerSegmentCnt: segmentCount}, nil
}

func writeSegment(t *testing.T, dir, name string, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestPipeline_WatchesUploadsAndFinalizes(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, "seg-001.ts", "first-segment-bytes")
	writeSegment(t, dir, "seg-002.ts", "second-segment-bytes")
	writeSegment(t, dir, "playlist.m3u8", "#EXTM3U\n")

	up := newFakeUploader()
	var progressCalls []int
	var mu sync.Mutex

	p := New(Config{
		VideoID:      "video-1",
		Quality:      models.Quality720p,
		Dir:          dir,
		PlaylistName: "playlist.m3u8",
		PollInterval: 20 * time.Millisecond,
		StableCount:  2,
		Uploader:     up,
		Progress: func(q models.Quality, segmentsCompleted int, bytesUploaded int64) {
			mu.Lock()
			progressCalls = append(progressCalls, segmentsCompleted)
			mu.Unlock()
		},
		Logger: zerolog.Nop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	encoderDone := make(chan error, 1)
	go func() {
		time.Sleep(150 * time.Millisecond)
		encoderDone <- nil
	}()

	result, err := p.Run(ctx, encoderDone)
	require.NoError(t, err)
	require.Equal(t, 2, result.SegmentsUploaded)
	require.Empty(t, result.HardFailed)
	require.True(t, result.Finalize.Accepted)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, progressCalls)

	up.mu.Lock()
	defer up.mu.Unlock()
	require.Contains(t, up.segments, "seg-001.ts")
	require.Contains(t, up.segments, "seg-002.ts")
	require.Contains(t, up.segments, "playlist.m3u8")

	_, err = os.Stat(filepath.Join(dir, "seg-001.ts"))
	require.True(t, os.IsNotExist(err), "uploaded segment should be removed from disk")
}

func TestPipeline_StopsOnClaimExpired(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, "seg-001.ts", "a-segment")

	up := newFakeUploader()
	up.claimExpired = true

	p := New(Config{
		VideoID:      "video-2",
		Quality:      models.Quality480p,
		Dir:          dir,
		PlaylistName: "playlist.m3u8",
		PollInterval: 20 * time.Millisecond,
		StableCount:  2,
		MaxSegRetries: 1,
		Uploader:     up,
		Logger:       zerolog.Nop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	encoderDone := make(chan error, 1)
	go func() {
		time.Sleep(500 * time.Millisecond)
		encoderDone <- nil
	}()

	_, err := p.Run(ctx, encoderDone)
	require.ErrorIs(t, err, ErrClaimExpired)
}

func TestPipeline_HardFailsAfterExhaustingRetries(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, "seg-001.ts", "a-segment")

	up := newFakeUploader()
	up.failNextN = 100 // checksum mismatch every attempt

	p := New(Config{
		VideoID:       "video-3",
		Quality:       models.Quality360p,
		Dir:           dir,
		PlaylistName:  "playlist.m3u8",
		PollInterval:  20 * time.Millisecond,
		StableCount:   2,
		MaxSegRetries: 2,
		Uploader:      up,
		Logger:        zerolog.Nop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	encoderDone := make(chan error, 1)
	go func() {
		time.Sleep(150 * time.Millisecond)
		encoderDone <- nil
	}()

	result, err := p.Run(ctx, encoderDone)
	require.Error(t, err)
	require.Len(t, result.HardFailed, 1)
	require.Equal(t, "seg-001.ts", result.HardFailed[0].Name)
}

func TestPipeline_EncoderCrashStopsWatcherButDrainsQueue(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, "seg-001.ts", "queued-before-crash")

	up := newFakeUploader()
	p := New(Config{
		VideoID:      "video-4",
		Quality:      models.Quality1080p,
		Dir:          dir,
		PlaylistName: "playlist.m3u8",
		PollInterval: 20 * time.Millisecond,
		StableCount:  2,
		Uploader:     up,
		Logger:       zerolog.Nop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	encoderDone := make(chan error, 1)
	go func() {
		// Give the watcher time to pick up and queue the pre-existing
		// segment before the encoder "crashes".
		time.Sleep(100 * time.Millisecond)
		p.NotifyEncoderCrashed()
		encoderDone <- errors.New("ffmpeg exited with signal: killed")
	}()

	_, err := p.Run(ctx, encoderDone)
	require.ErrorIs(t, err, ErrEncoderCrashed)

	// A file dropped after the crash must never be emitted by flushRemaining.
	writeSegment(t, dir, "seg-002.ts", "dropped-after-crash")
	up.mu.Lock()
	_, sawQueued := up.segments["seg-001.ts"]
	_, sawExtra := up.segments["seg-002.ts"]
	up.mu.Unlock()
	require.True(t, sawQueued, "a segment queued before the crash is still uploaded")
	require.False(t, sawExtra)
}

func TestPipeline_MissingSegmentsReportedByFinalize(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, "seg-001.ts", "only-segment")
	writeSegment(t, dir, "playlist.m3u8", "#EXTM3U\n")

	up := newFakeUploader()
	up.accept = false
	up.missing = []string{"segment_missing"}

	p := New(Config{
		VideoID:      "video-5",
		Quality:      models.Quality2160p,
		Dir:          dir,
		PlaylistName: "playlist.m3u8",
		PollInterval: 20 * time.Millisecond,
		StableCount:  2,
		Uploader:     up,
		Logger:       zerolog.Nop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	encoderDone := make(chan error, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		encoderDone <- nil
	}()

	_, err := p.Run(ctx, encoderDone)
	require.ErrorIs(t, err, ErrMissingSegments)
}
