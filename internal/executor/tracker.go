package executor

import (
	"sync"

	"vlog/internal/models"
)

// qualityTracker holds the mutable per-quality progress state a job's
// concurrent renditions report into, guarded by a mutex since every
// quality's goroutine updates it independently.
type qualityTracker struct {
	mu    sync.Mutex
	jobID string
	order []models.Quality
	state map[models.Quality]*models.QualityProgress
}

func newQualityTracker(jobID string, ladder []models.Quality) *qualityTracker {
	state := make(map[models.Quality]*models.QualityProgress, len(ladder))
	for _, q := range ladder {
		state[q] = &models.QualityProgress{JobID: jobID, Quality: q, Status: models.QualityPending}
	}
	return &qualityTracker{jobID: jobID, order: ladder, state: state}
}

func (t *qualityTracker) update(q models.Quality, status models.QualityStatus, percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.state[q]
	if entry == nil {
		return
	}
	entry.Status = status
	entry.ProgressPercent = percent
}

func (t *qualityTracker) setSegmentCount(q models.Quality, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry := t.state[q]; entry != nil {
		entry.SegmentsCompleted = count
		entry.SegmentsTotal = count
	}
}

func (t *qualityTracker) snapshot() []models.QualityProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.QualityProgress, 0, len(t.order))
	for _, q := range t.order {
		out = append(out, *t.state[q])
	}
	return out
}

func (t *qualityTracker) overallPercent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.order) == 0 {
		return 0
	}
	total := 0
	for _, q := range t.order {
		total += t.state[q].ProgressPercent
	}
	return total / len(t.order)
}
