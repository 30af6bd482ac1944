package jobstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vlog/internal/models"
)

func baseJob() models.Job {
	return models.Job{
		ID:            "job-1",
		VideoID:       "video-1",
		AttemptNumber: 1,
		MaxAttempts:   3,
	}
}

func TestOf_Unclaimed(t *testing.T) {
	require.Equal(t, Unclaimed, Of(baseJob(), time.Now()))
}

func TestOf_ClaimedAndExpiredBoundary(t *testing.T) {
	now := time.Now().UTC()
	claimedAt := now.Add(-time.Minute)
	j := baseJob()
	j.ClaimedAt = &claimedAt

	expiresAfterNow := now.Add(time.Second)
	j.ClaimExpiresAt = &expiresAfterNow
	require.Equal(t, Claimed, Of(j, now))

	// Strict '>' comparison: a claim expiring at exactly now is EXPIRED.
	exactlyNow := now
	j.ClaimExpiresAt = &exactlyNow
	require.Equal(t, Expired, Of(j, now))

	past := now.Add(-time.Second)
	j.ClaimExpiresAt = &past
	require.Equal(t, Expired, Of(j, now))
}

func TestOf_Completed_TakesPriorityOverEverythingElse(t *testing.T) {
	now := time.Now().UTC()
	claimedAt := now.Add(-time.Minute)
	expiresAt := now.Add(-time.Second)
	completedAt := now
	j := baseJob()
	j.ClaimedAt = &claimedAt
	j.ClaimExpiresAt = &expiresAt
	j.CompletedAt = &completedAt
	j.LastError = "boom"
	j.AttemptNumber = 3
	j.MaxAttempts = 3

	require.Equal(t, Completed, Of(j, now))
}

func TestOf_FailedVsRetrying(t *testing.T) {
	now := time.Now().UTC()
	j := baseJob()
	j.LastError = "boom"
	j.AttemptNumber = 3
	j.MaxAttempts = 3
	require.Equal(t, Failed, Of(j, now))

	j.AttemptNumber = 2
	require.Equal(t, Retrying, Of(j, now))
}

func TestClaimable(t *testing.T) {
	require.True(t, Claimable(Unclaimed))
	require.True(t, Claimable(Retrying))
	require.False(t, Claimable(Claimed))
	require.False(t, Claimable(Expired))
	require.False(t, Claimable(Completed))
	require.False(t, Claimable(Failed))
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(Completed))
	require.True(t, IsTerminal(Failed))
	require.False(t, IsTerminal(Unclaimed))
	require.False(t, IsTerminal(Claimed))
	require.False(t, IsTerminal(Expired))
	require.False(t, IsTerminal(Retrying))
}

// TestOf_MutuallyExclusiveAndExhaustive exercises a wide combination of
// nullable-field settings and asserts exactly one state predicate matches,
// matching spec.md §8's invariant.
func TestOf_MutuallyExclusiveAndExhaustive(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []models.Job{
		baseJob(),
		{AttemptNumber: 1, MaxAttempts: 3, ClaimedAt: &past, ClaimExpiresAt: &future},
		{AttemptNumber: 1, MaxAttempts: 3, ClaimedAt: &past, ClaimExpiresAt: &past},
		{AttemptNumber: 1, MaxAttempts: 3, CompletedAt: &now},
		{AttemptNumber: 3, MaxAttempts: 3, LastError: "x"},
		{AttemptNumber: 1, MaxAttempts: 3, LastError: "x"},
	}
	for _, j := range cases {
		s := Of(j, now)
		require.NotEmpty(t, s)
	}
}
