package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestChallengeState(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	soon := now.Add(3 * time.Minute)
	past := now.Add(-time.Minute)
	future := now.Add(20 * time.Minute)

	tests := []struct {
		name     string
		row      VerificationCode
		expected ChallengeState
	}{
		{
			name:     "fresh_row_is_active",
			row:      VerificationCode{Attempts: 0, ExpiresAt: soon},
			expected: StateActive,
		},
		{
			name:     "attempts_remaining_still_active",
			row:      VerificationCode{Attempts: MaxAttempts - 1, ExpiresAt: soon},
			expected: StateActive,
		},
		{
			name:     "verified_beats_exhaustion_and_expiry",
			row:      VerificationCode{Verified: true, Attempts: MaxAttempts, ExpiresAt: past},
			expected: StateSucceeded,
		},
		{
			name:     "standing_lockout_beats_verified",
			row:      VerificationCode{Verified: true, Attempts: MaxAttempts, ExpiresAt: soon, LockedUntil: &future},
			expected: StateExhaustedLocked,
		},
		{
			name:     "exhausted_attempts",
			row:      VerificationCode{Attempts: MaxAttempts, ExpiresAt: soon},
			expected: StateExhaustedLocked,
		},
		{
			name:     "standing_lockout",
			row:      VerificationCode{Attempts: 1, ExpiresAt: soon, LockedUntil: &future},
			expected: StateExhaustedLocked,
		},
		{
			name:     "lapsed_lockout_with_expired_ttl",
			row:      VerificationCode{Attempts: 1, ExpiresAt: past, LockedUntil: &past},
			expected: StateExpired,
		},
		{
			name:     "ttl_lapsed",
			row:      VerificationCode{Attempts: 0, ExpiresAt: past},
			expected: StateExpired,
		},
		{
			name:     "expiry_boundary_is_expired",
			row:      VerificationCode{Attempts: 0, ExpiresAt: now},
			expected: StateExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.row.State(now); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestVerificationCodeJSONNeverContainsCode(t *testing.T) {
	row := VerificationCode{
		ID:        7,
		Code:      "123456",
		PhoneE164: "+12125550100",
		SessionID: "s-1",
		ExpiresAt: time.Now(),
		CreatedAt: time.Now(),
	}

	raw, err := json.Marshal(&row)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(raw), "123456") {
		t.Fatalf("serialized row leaked the code: %s", raw)
	}
	if strings.Contains(string(raw), `"code"`) {
		t.Fatalf("serialized row has a code field: %s", raw)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, "ok"},
		{"missing_consent", ErrMissingConsent, "MISSING_CONSENT"},
		{"invalid_phone", ErrInvalidPhone, "INVALID_PHONE"},
		{"malformed_code", ErrMalformedCode, "MALFORMED_CODE"},
		{"captcha_required", ErrCaptchaRequired, "CAPTCHA_REQUIRED"},
		{"captcha_failed", ErrCaptchaFailed, "CAPTCHA_FAILED"},
		{"no_active_challenge", ErrNoActiveChallenge, "NO_ACTIVE_CHALLENGE"},
		{"delivery_failed", ErrDeliveryFailed, "DELIVERY_FAILED"},
		{"telephony_not_configured", ErrTelephonyNotConfigured, "TELEPHONY_NOT_CONFIGURED"},
		{"phone_quota", &PhoneQuotaError{RetryAfter: time.Minute}, "PHONE_QUOTA_EXCEEDED"},
		{"ip_quota", &IPQuotaError{RetryAfter: time.Minute}, "IP_QUOTA_EXCEEDED"},
		{"cooldown", &CooldownError{Wait: time.Second}, "COOLDOWN_ACTIVE"},
		{"locked", &PhoneLockedError{Until: time.Now()}, "PHONE_LOCKED"},
		{"wrong_code", &WrongCodeError{Remaining: 2}, "WRONG_CODE"},
		{"upstream_timeout", &UpstreamTimeoutError{Collaborator: "telephony"}, "UPSTREAM_TIMEOUT"},
		{"unknown", errThatIsNotDomain{}, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorKind(tt.err); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

type errThatIsNotDomain struct{}

func (errThatIsNotDomain) Error() string { return "disk on fire" }

func TestPhoneLockedMinutesUntilUnlock(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	locked := &PhoneLockedError{Until: now.Add(LockoutDuration)}
	if got := locked.MinutesUntilUnlock(now); got != 30 {
		t.Errorf("expected 30, got %d", got)
	}

	locked = &PhoneLockedError{Until: now.Add(90 * time.Second)}
	if got := locked.MinutesUntilUnlock(now); got != 2 {
		t.Errorf("expected partial minutes to round up to 2, got %d", got)
	}

	locked = &PhoneLockedError{Until: now.Add(-time.Minute)}
	if got := locked.MinutesUntilUnlock(now); got != 0 {
		t.Errorf("expected 0 for elapsed lockout, got %d", got)
	}
}
