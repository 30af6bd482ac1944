// Package jobstate derives a Job's logical state from its nullable fields.
// It is the single place that implements the state table in spec.md §4.1 so
// that in-memory classification (this package) and the SQL predicates baked
// into internal/catalog's queries can be asserted symmetric in tests.
package jobstate

import (
	"time"

	"vlog/internal/models"
)

// State is one of the mutually exclusive, exhaustive job states.
type State string

const (
	Unclaimed State = "unclaimed"
	Claimed   State = "claimed"
	Expired   State = "expired"
	Completed State = "completed"
	Failed    State = "failed"
	Retrying  State = "retrying"
)

// Of computes the state of job at instant now. Determination order matches
// spec.md §4.1 exactly: COMPLETED → FAILED → CLAIMED → EXPIRED → RETRYING →
// UNCLAIMED. now is compared using strict '>' against claim_expires_at, so a
// claim expiring at exactly now is EXPIRED, never CLAIMED.
func Of(job models.Job, now time.Time) State {
	now = now.UTC()

	if job.CompletedAt != nil {
		return Completed
	}
	if job.LastError != "" && job.AttemptNumber >= job.MaxAttempts {
		return Failed
	}
	if job.ClaimedAt != nil && job.ClaimExpiresAt != nil {
		if job.ClaimExpiresAt.UTC().After(now) {
			return Claimed
		}
		return Expired
	}
	if job.LastError != "" && job.AttemptNumber < job.MaxAttempts && job.ClaimedAt == nil {
		return Retrying
	}
	return Unclaimed
}

// Claimable reports whether a job in this state is eligible to be returned
// by claim_next_job: UNCLAIMED ∨ RETRYING.
func Claimable(s State) bool {
	return s == Unclaimed || s == Retrying
}

// IsTerminal reports whether no further transition is expected without an
// explicit admin action (re-queue).
func IsTerminal(s State) bool {
	return s == Completed || s == Failed
}
