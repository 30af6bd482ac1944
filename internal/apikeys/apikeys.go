// Package apikeys issues and verifies the bearer credentials workers use to
// authenticate RPCs against the coordinator. Keys are issued once, shown to
// the operator exactly once, and stored only as a hash plus a short lookup
// prefix — never in plaintext. The argon2id hash uses a fixed salt (the key
// tag); the legacy SHA-256 hash is unsalted.
//
// Two hash versions coexist per spec.md: legacy keys hashed with SHA-256
// (HashSHA256Legacy) issued by older deployments, and new keys hashed with
// argon2id (HashArgon2ID). Verification tries every non-revoked,
// non-expired candidate sharing the presented prefix and accepts the first
// one whose hash matches in constant time, regardless of version.
package apikeys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"vlog/internal/apierr"
	"vlog/internal/catalog"
	"vlog/internal/models"
)

const (
	keyPrefixTag    = "vlogwk"
	secretBytes     = 24
	prefixHexChars  = 12
	argon2Time      = 1
	argon2MemoryKiB = 64 * 1024
	argon2Threads   = 4
	argon2KeyLen    = 32
)

// Issuer mints and verifies worker API keys against a catalog.Repository.
type Issuer struct {
	repo catalog.Repository
}

// NewIssuer constructs an Issuer backed by repo.
func NewIssuer(repo catalog.Repository) *Issuer {
	return &Issuer{repo: repo}
}

// Issue generates a new key for workerID, persists its hash with the
// current (argon2id) hash version, and returns the plaintext — the only
// time it is ever available.
func (iss *Issuer) Issue(ctx context.Context, workerID string, ttl time.Duration) (plaintext string, err error) {
	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate key secret: %w", err)
	}
	secretHex := hex.EncodeToString(secret)
	prefix := keyPrefixTag + "_" + secretHex[:prefixHexChars]
	plaintext = prefix + "_" + secretHex[prefixHexChars:]

	hash := hashArgon2ID(plaintext)

	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().UTC().Add(ttl)
		expiresAt = &t
	}

	if err := iss.repo.CreateAPIKey(ctx, workerID, prefix, hash, models.HashArgon2ID, expiresAt, time.Now().UTC()); err != nil {
		return "", err
	}
	return plaintext, nil
}

// Verify extracts the lookup prefix from plaintext, loads every still-valid
// candidate sharing it, and returns the owning workerID on the first
// constant-time hash match. A successful verification touches the key's
// last_used_at.
func (iss *Issuer) Verify(ctx context.Context, plaintext string) (workerID string, err error) {
	prefix, ok := extractPrefix(plaintext)
	if !ok {
		return "", apierr.New(apierr.AuthDenied, "malformed api key")
	}

	now := time.Now().UTC()
	candidates, err := iss.repo.FindAPIKeyCandidates(ctx, prefix, now)
	if err != nil {
		return "", err
	}

	for _, cand := range candidates {
		if !verifyHash(cand.HashVersion, plaintext, cand.KeyHash) {
			continue
		}
		_ = iss.repo.TouchAPIKey(ctx, cand.WorkerID, cand.KeyPrefix, now)
		return cand.WorkerID, nil
	}
	return "", apierr.New(apierr.AuthDenied, "invalid api key")
}

// Revoke invalidates every key issued to workerID.
func (iss *Issuer) Revoke(ctx context.Context, workerID string) error {
	return iss.repo.RevokeAPIKeys(ctx, workerID, time.Now().UTC())
}

func extractPrefix(plaintext string) (string, bool) {
	parts := strings.SplitN(plaintext, "_", 3)
	if len(parts) != 3 || parts[0] != keyPrefixTag {
		return "", false
	}
	if len(parts[1]) != prefixHexChars {
		return "", false
	}
	return parts[0] + "_" + parts[1], true
}

func hashArgon2ID(plaintext string) string {
	sum := argon2.IDKey([]byte(plaintext), []byte(keyPrefixTag), argon2Time, argon2MemoryKiB, argon2Threads, argon2KeyLen)
	return "argon2id$" + hex.EncodeToString(sum)
}

func hashSHA256Legacy(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return "sha256$" + hex.EncodeToString(sum[:])
}

func verifyHash(version models.HashVersion, plaintext, stored string) bool {
	var computed string
	switch version {
	case models.HashArgon2ID:
		computed = hashArgon2ID(plaintext)
	case models.HashSHA256Legacy:
		computed = hashSHA256Legacy(plaintext)
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1
}
