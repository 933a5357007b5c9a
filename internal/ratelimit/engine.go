// Package ratelimit evaluates the layered issuance quotas against a
// snapshot of the verification_codes history. It holds no state of its
// own: the audit rows are the data of record, so a fleet of replicas
// converges on the same answer.
package ratelimit

import (
	"time"

	"restaurant-verify/internal/model"
)

const (
	// PhoneWindow / PhoneLimit: issuances per phone number per hour.
	PhoneWindow = time.Hour
	PhoneLimit  = 3

	// IPWindow / IPLimit: issuances per client address per hour.
	IPWindow = time.Hour
	IPLimit  = 10

	// Cooldown is the minimum spacing between issuances to one phone.
	Cooldown = 90 * time.Second
)

// Snapshot is what the store observed, under the per-phone lock, at the
// moment of evaluation. Counts include failed deliveries: a bad-number
// attacker does not get free retries.
type Snapshot struct {
	PhoneCount       int
	OldestPhoneIssue *time.Time
	IPCount          int
	OldestIPIssue    *time.Time
	LastPhoneIssue   *time.Time
	LockedUntil      *time.Time
}

// Evaluate runs the four checks in order and short-circuits on the
// first failure. The caller must hold the per-phone serialization lock
// and must have read the snapshot in the same transaction as the
// subsequent insert.
func Evaluate(now time.Time, s Snapshot) error {
	if s.PhoneCount >= PhoneLimit {
		return &model.PhoneQuotaError{RetryAfter: windowRetry(now, s.OldestPhoneIssue, PhoneWindow)}
	}
	if s.IPCount >= IPLimit {
		return &model.IPQuotaError{RetryAfter: windowRetry(now, s.OldestIPIssue, IPWindow)}
	}
	if s.LastPhoneIssue != nil {
		if elapsed := now.Sub(*s.LastPhoneIssue); elapsed < Cooldown {
			return &model.CooldownError{Wait: Cooldown - elapsed}
		}
	}
	if s.LockedUntil != nil && s.LockedUntil.After(now) {
		return &model.PhoneLockedError{Until: *s.LockedUntil}
	}
	return nil
}

// windowRetry is the wait until the oldest row in the window ages out.
func windowRetry(now time.Time, oldest *time.Time, window time.Duration) time.Duration {
	if oldest == nil {
		return window
	}
	retry := oldest.Add(window).Sub(now)
	if retry < 0 {
		return 0
	}
	return retry
}
