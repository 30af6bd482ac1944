package executor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"vlog/internal/models"
)

func TestQualityTracker_SnapshotReflectsUpdates(t *testing.T) {
	tr := newQualityTracker("job-1", []models.Quality{models.Quality360p, models.Quality720p, models.QualityOrig})

	tr.update(models.Quality360p, models.QualityCompleted, 100)
	tr.setSegmentCount(models.Quality360p, 12)
	tr.update(models.Quality720p, models.QualityUploading, 40)

	snap := tr.snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, models.QualityCompleted, snap[0].Status)
	require.Equal(t, 12, snap[0].SegmentsCompleted)
	require.Equal(t, 12, snap[0].SegmentsTotal)
	require.Equal(t, models.QualityUploading, snap[1].Status)
	require.Equal(t, 40, snap[1].ProgressPercent)
	require.Equal(t, models.QualityPending, snap[2].Status)
}

func TestQualityTracker_OverallPercentAveragesAcrossQualities(t *testing.T) {
	tr := newQualityTracker("job-1", []models.Quality{models.Quality360p, models.Quality720p})
	tr.update(models.Quality360p, models.QualityCompleted, 100)
	tr.update(models.Quality720p, models.QualityUploading, 50)
	require.Equal(t, 75, tr.overallPercent())
}

func TestQualityTracker_OverallPercentEmptyLadder(t *testing.T) {
	tr := newQualityTracker("job-1", nil)
	require.Equal(t, 0, tr.overallPercent())
}

func TestQualityTracker_UpdateIgnoresUnknownQuality(t *testing.T) {
	tr := newQualityTracker("job-1", []models.Quality{models.Quality360p})
	require.NotPanics(t, func() {
		tr.update(models.Quality1440p, models.QualityCompleted, 100)
		tr.setSegmentCount(models.Quality1440p, 5)
	})
}

func TestQualityTracker_ConcurrentUpdatesAreSafe(t *testing.T) {
	ladder := []models.Quality{models.Quality360p, models.Quality480p, models.Quality720p, models.QualityOrig}
	tr := newQualityTracker("job-1", ladder)

	var wg sync.WaitGroup
	for _, q := range ladder {
		q := q
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i <= 100; i += 10 {
				tr.update(q, models.QualityUploading, i)
				_ = tr.overallPercent()
				_ = tr.snapshot()
			}
		}()
	}
	wg.Wait()

	snap := tr.snapshot()
	require.Len(t, snap, len(ladder))
}
