package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vlog/internal/models"
)

func newRepoWithVideo(t *testing.T) (*MemoryRepository, models.Video, models.Job) {
	t.Helper()
	repo := NewMemoryRepository()
	v, j, err := repo.CreateVideo(context.Background(), CreateVideoParams{
		Slug:  "sample-video",
		Title: "Sample Video",
	})
	require.NoError(t, err)
	return repo, v, j
}

func TestClaimNextJob_OnlyOneWorkerWinsUnderConcurrency(t *testing.T) {
	repo, _, _ := newRepoWithVideo(t)
	now := time.Now().UTC()

	const workers = 16
	results := make([]*models.Job, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		i := i
		go func() {
			defer wg.Done()
			j, _, err := repo.ClaimNextJob(context.Background(), "worker-"+string(rune('a'+i)), models.Capabilities{}, now)
			require.NoError(t, err)
			results[i] = j
		}()
	}
	wg.Wait()

	wins := 0
	for _, j := range results {
		if j != nil {
			wins++
		}
	}
	require.Equal(t, 1, wins, "exactly one concurrent caller must win the claim for the single available job")
}

func TestClaimNextJob_SkipsUnclaimableJobs(t *testing.T) {
	repo, _, j := newRepoWithVideo(t)
	now := time.Now().UTC()

	claimed, _, err := repo.ClaimNextJob(context.Background(), "worker-1", models.Capabilities{}, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, j.ID, claimed.ID)

	again, _, err := repo.ClaimNextJob(context.Background(), "worker-2", models.Capabilities{}, now)
	require.NoError(t, err)
	require.Nil(t, again, "a claimed, unexpired job must not be claimable by a second worker")
}

func TestClaimNextJob_ExpiredClaimBecomesClaimableAgain(t *testing.T) {
	repo, _, j := newRepoWithVideo(t)
	now := time.Now().UTC()

	claimed, _, err := repo.ClaimNextJob(context.Background(), "worker-1", models.Capabilities{}, now)
	require.NoError(t, err)
	require.Equal(t, j.ID, claimed.ID)

	later := now.Add(time.Hour)
	_, err = repo.ReapExpiredClaims(context.Background(), later, time.Hour, 0)
	require.NoError(t, err)
	reclaimed, _, err := repo.ClaimNextJob(context.Background(), "worker-2", models.Capabilities{}, later)
	require.NoError(t, err)
	require.NotNil(t, reclaimed, "an expired lease must become claimable again")
	require.Equal(t, j.ID, reclaimed.ID)
}

func TestCompleteJob_RequiresHoldingClaim(t *testing.T) {
	repo, _, j := newRepoWithVideo(t)
	now := time.Now().UTC()

	_, _, err := repo.ClaimNextJob(context.Background(), "worker-1", models.Capabilities{}, now)
	require.NoError(t, err)

	err = repo.CompleteJob(context.Background(), j.ID, "worker-2", CompleteResult{}, now)
	require.Error(t, err, "a worker that does not hold the claim must not be able to complete the job")

	err = repo.CompleteJob(context.Background(), j.ID, "worker-1", CompleteResult{Duration: 12.5}, now)
	require.NoError(t, err)

	v, err := repo.GetVideo(context.Background(), j.VideoID)
	require.NoError(t, err)
	require.Equal(t, models.VideoReady, v.Status)
	require.Equal(t, 12.5, v.Duration)
}

func TestFailJob_RetryIncrementsAttemptUntilMax(t *testing.T) {
	repo, _, j := newRepoWithVideo(t)
	now := time.Now().UTC()

	_, _, err := repo.ClaimNextJob(context.Background(), "worker-1", models.Capabilities{}, now)
	require.NoError(t, err)
	require.NoError(t, repo.FailJob(context.Background(), j.ID, "worker-1", "boom", true, now))

	got, err := repo.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.AttemptNumber)

	_, _, err = repo.ClaimNextJob(context.Background(), "worker-2", models.Capabilities{}, now)
	require.NoError(t, err)
	require.NoError(t, repo.FailJob(context.Background(), j.ID, "worker-2", "boom again", true, now))

	got, err = repo.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.AttemptNumber)

	third, _, err := repo.ClaimNextJob(context.Background(), "worker-3", models.Capabilities{}, now)
	require.NoError(t, err)
	require.Nil(t, third, "a failed job whose attempt_number reached max_attempts is FAILED, not claimable")

	v, err := repo.GetVideo(context.Background(), j.VideoID)
	require.NoError(t, err)
	require.Equal(t, models.VideoFailed, v.Status, "exhausting max attempts must mark the video failed even with retry=true")
}

func TestRecordSegment_IdempotentOnDuplicate(t *testing.T) {
	repo, v, _ := newRepoWithVideo(t)
	seg := models.Segment{
		VideoID:     v.ID,
		Quality:     models.Quality720p,
		Filename:    "segment_000.ts",
		Size:        1024,
		SHA256:      "abc123",
		SHA256Valid: true,
	}

	persisted, err := repo.RecordSegment(context.Background(), seg)
	require.NoError(t, err)
	require.True(t, persisted)

	persisted, err = repo.RecordSegment(context.Background(), seg)
	require.NoError(t, err)
	require.True(t, persisted)

	count, err := repo.SegmentCount(context.Background(), v.ID, models.Quality720p)
	require.NoError(t, err)
	require.Equal(t, 1, count, "recording the same segment twice must not double-count it")
}

func TestRecordSegment_RejectsInvalidChecksum(t *testing.T) {
	repo, v, _ := newRepoWithVideo(t)
	seg := models.Segment{
		VideoID:     v.ID,
		Quality:     models.Quality720p,
		Filename:    "segment_000.ts",
		SHA256Valid: false,
	}

	persisted, err := repo.RecordSegment(context.Background(), seg)
	require.NoError(t, err)
	require.False(t, persisted, "a segment whose checksum failed verification must never be persisted")

	count, err := repo.SegmentCount(context.Background(), v.ID, models.Quality720p)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestReapExpiredClaims_ClearsExpiredLeaseAndOffline(t *testing.T) {
	repo, _, j := newRepoWithVideo(t)
	now := time.Now().UTC()

	_, _, err := repo.ClaimNextJob(context.Background(), "worker-1", models.Capabilities{}, now)
	require.NoError(t, err)
	_, err = repo.RegisterWorker(context.Background(), WorkerRegistration{WorkerID: "worker-1", WorkerName: "w1"}, now)
	require.NoError(t, err)

	later := now.Add(time.Hour)
	summary, err := repo.ReapExpiredClaims(context.Background(), later, 10*time.Minute, 0)
	require.NoError(t, err)
	require.Equal(t, 1, summary.ClaimsExpired)
	require.Equal(t, 1, summary.WorkersOffline)

	got, err := repo.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	require.Nil(t, got.ClaimedAt)
	require.Nil(t, got.WorkerID)
}

func TestExtendClaim_RejectsWrongWorker(t *testing.T) {
	repo, _, j := newRepoWithVideo(t)
	now := time.Now().UTC()
	_, _, err := repo.ClaimNextJob(context.Background(), "worker-1", models.Capabilities{}, now)
	require.NoError(t, err)

	_, err = repo.ExtendClaim(context.Background(), j.ID, "worker-2", now, time.Minute)
	require.Error(t, err)

	newExpiry, err := repo.ExtendClaim(context.Background(), j.ID, "worker-1", now, time.Minute)
	require.NoError(t, err)
	require.True(t, newExpiry.After(now))
}

func TestHeartbeat_ExtendsClaimExpiryForHeldJob(t *testing.T) {
	repo, _, j := newRepoWithVideo(t)
	now := time.Now().UTC()

	claimed, _, err := repo.ClaimNextJob(context.Background(), "worker-1", models.Capabilities{}, now)
	require.NoError(t, err)
	require.NotNil(t, claimed.ClaimExpiresAt)
	firstExpiry := *claimed.ClaimExpiresAt

	_, err = repo.RegisterWorker(context.Background(), WorkerRegistration{WorkerID: "worker-1", WorkerName: "w1"}, now)
	require.NoError(t, err)

	later := now.Add(time.Minute)
	_, err = repo.Heartbeat(context.Background(), "worker-1", models.WorkerBusy, nil, later)
	require.NoError(t, err)

	got, err := repo.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ClaimExpiresAt)
	require.True(t, got.ClaimExpiresAt.After(firstExpiry), "a heartbeat from the holding worker must extend, not just preserve, the claim")
}

func TestReapExpiredClaims_CatchesStalledCheckpointUnderActiveClaim(t *testing.T) {
	repo, _, j := newRepoWithVideo(t)
	now := time.Now().UTC()

	claimed, _, err := repo.ClaimNextJob(context.Background(), "worker-1", models.Capabilities{}, now)
	require.NoError(t, err)
	_, err = repo.RegisterWorker(context.Background(), WorkerRegistration{WorkerID: "worker-1", WorkerName: "w1"}, now)
	require.NoError(t, err)

	later := now.Add(time.Hour)

	// A heartbeat one minute before `later`, extending the claim past it,
	// simulating a worker that is still alive and renewing its lease but has
	// stopped advancing the job's checkpoint.
	_, err = repo.Heartbeat(context.Background(), "worker-1", models.WorkerBusy, nil, later.Add(-time.Minute))
	require.NoError(t, err)

	held, err := repo.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	require.NotNil(t, held.ClaimExpiresAt)
	require.True(t, held.ClaimExpiresAt.After(later), "the claim must still be held (not expired) when the reaper runs")

	summary, err := repo.ReapExpiredClaims(context.Background(), later, time.Hour, 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 0, summary.ClaimsExpired)
	require.Equal(t, 1, summary.StalledRetried, "a held-but-not-checkpointing claim must be caught by the stale-checkpoint branch")

	got, err := repo.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	require.Nil(t, got.ClaimedAt)
	require.Nil(t, got.WorkerID)
	require.Equal(t, "worker-1", got.ProcessedByWorkerID, "the stalled worker must be attributed before its claim is cleared")
	require.Equal(t, claimed.AttemptNumber+1, got.AttemptNumber)
}

func TestFindAPIKeyCandidates_ExcludesRevokedAndExpired(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.NoError(t, repo.CreateAPIKey(context.Background(), "worker-1", "vlogwk_aaaa", "hash1", models.HashArgon2ID, &future, now))
	require.NoError(t, repo.CreateAPIKey(context.Background(), "worker-2", "vlogwk_aaaa", "hash2", models.HashArgon2ID, &past, now))
	require.NoError(t, repo.CreateAPIKey(context.Background(), "worker-3", "vlogwk_aaaa", "hash3", models.HashArgon2ID, nil, now))
	require.NoError(t, repo.RevokeAPIKeys(context.Background(), "worker-3", now))

	candidates, err := repo.FindAPIKeyCandidates(context.Background(), "vlogwk_aaaa", now)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "worker-1", candidates[0].WorkerID)
}
