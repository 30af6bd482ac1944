package apikeys

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vlog/internal/catalog"
	"vlog/internal/models"
)

func TestIssueAndVerify_RoundTrip(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	iss := NewIssuer(repo)

	plaintext, err := iss.Issue(context.Background(), "worker-1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, plaintext)

	workerID, err := iss.Verify(context.Background(), plaintext)
	require.NoError(t, err)
	require.Equal(t, "worker-1", workerID)
}

func TestVerify_RejectsTamperedKey(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	iss := NewIssuer(repo)

	plaintext, err := iss.Issue(context.Background(), "worker-1", 0)
	require.NoError(t, err)

	replacement := "0"
	if plaintext[len(plaintext)-1] == '0' {
		replacement = "1"
	}
	tampered := plaintext[:len(plaintext)-1] + replacement
	_, err = iss.Verify(context.Background(), tampered)
	require.Error(t, err)
}

func TestVerify_RejectsRevokedKey(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	iss := NewIssuer(repo)

	plaintext, err := iss.Issue(context.Background(), "worker-1", 0)
	require.NoError(t, err)

	require.NoError(t, iss.Revoke(context.Background(), "worker-1"))

	_, err = iss.Verify(context.Background(), plaintext)
	require.Error(t, err)
}

func TestVerify_RejectsExpiredKey(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	iss := NewIssuer(repo)

	plaintext, err := iss.Issue(context.Background(), "worker-1", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = iss.Verify(context.Background(), plaintext)
	require.Error(t, err)
}

func TestVerify_AcceptsLegacySHA256Hash(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	iss := NewIssuer(repo)

	plaintext := keyPrefixTag + "_" + "abcdef012345" + "_legacysecret"
	prefix, ok := extractPrefix(plaintext)
	require.True(t, ok)

	hash := hashSHA256Legacy(plaintext)
	require.NoError(t, repo.CreateAPIKey(context.Background(), "worker-legacy", prefix, hash, models.HashSHA256Legacy, nil, time.Now().UTC()))

	workerID, err := iss.Verify(context.Background(), plaintext)
	require.NoError(t, err)
	require.Equal(t, "worker-legacy", workerID)
}

func TestVerify_MalformedKeyRejected(t *testing.T) {
	repo := catalog.NewMemoryRepository()
	iss := NewIssuer(repo)

	_, err := iss.Verify(context.Background(), "not-a-valid-key")
	require.Error(t, err)
}
