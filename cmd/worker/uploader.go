package main

import (
	"context"
	"errors"
	"fmt"

	"vlog/internal/agent"
	"vlog/internal/executor"
	"vlog/internal/models"
	"vlog/internal/pipeline"
)

// coordinatorUploader adapts agent.CoordinatorClient to pipeline.Uploader
// for one quality, translating agent.ErrClaimExpired into
// pipeline.ErrClaimExpired so internal/pipeline never needs to know about
// the coordinator's wire shapes or HTTP status codes.
type coordinatorUploader struct {
	client  *agent.CoordinatorClient
	videoID string
	quality models.Quality
}

// qualityUploaderFactory builds an executor.QualityUploaderFactory bound to
// one job's videoID, handing pipeline.New a fresh coordinatorUploader per
// quality.
func qualityUploaderFactory(client *agent.CoordinatorClient, videoID string) executor.QualityUploaderFactory {
	return func(quality models.Quality) pipeline.Uploader {
		return &coordinatorUploader{client: client, videoID: videoID, quality: quality}
	}
}

func (u *coordinatorUploader) UploadSegment(ctx context.Context, videoID string, quality models.Quality, filename, sha256Hex string, data []byte) (bool, error) {
	verified, err := u.client.UploadSegment(ctx, videoID, quality, filename, sha256Hex, data)
	if err != nil {
		if errors.Is(err, agent.ErrClaimExpired) {
			return false, pipeline.ErrClaimExpired
		}
		return false, fmt.Errorf("upload segment: %w", err)
	}
	return verified, nil
}

func (u *coordinatorUploader) FinalizeQuality(ctx context.Context, videoID string, quality models.Quality, segmentCount int, manifestSHA256 string) (pipeline.FinalizeResult, error) {
	resp, err := u.client.Finalize(ctx, videoID, quality, segmentCount, manifestSHA256)
	if err != nil {
		if errors.Is(err, agent.ErrClaimExpired) {
			return pipeline.FinalizeResult{}, pipeline.ErrClaimExpired
		}
		return pipeline.FinalizeResult{}, fmt.Errorf("finalize quality: %w", err)
	}
	return pipeline.FinalizeResult{Accepted: resp.Complete, MissingSegments: resp.MissingSegments}, nil
}
