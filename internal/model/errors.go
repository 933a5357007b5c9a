package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Stable error kinds for the verification flows. Handlers map these to
// HTTP statuses and machine-readable kind strings; services wrap them
// with context but never replace them.
var (
	// Input errors: caller fault, not retried.
	ErrMissingConsent  = errors.New("consent is required before placing a verification call")
	ErrInvalidPhone    = errors.New("phone number is not a valid E.164 number")
	ErrMalformedCode   = errors.New("code must be exactly six digits")
	ErrInvalidChannel  = errors.New("channel must be call or sms")
	ErrCaptchaRequired = errors.New("captcha token is required")
	ErrCaptchaFailed   = errors.New("captcha verification failed")

	// State errors.
	ErrNoActiveChallenge = errors.New("no active challenge for this phone number")

	// Upstream errors.
	ErrDeliveryFailed     = errors.New("verification message could not be delivered")
	ErrCaptchaUnavailable = errors.New("captcha provider unavailable")
	ErrListingUnavailable = errors.New("business listing oracle unavailable")

	// Configuration errors.
	ErrTelephonyNotConfigured = errors.New("telephony credentials are not configured")

	// Internal.
	ErrInternal = errors.New("internal error")
)

// PhoneQuotaError is returned when a phone number exceeds its hourly
// issuance quota. RetryAfter is the wait until the oldest row in the
// window ages out.
type PhoneQuotaError struct {
	RetryAfter time.Duration
}

func (e *PhoneQuotaError) Error() string {
	return fmt.Sprintf("phone call quota exceeded, retry in %s", e.RetryAfter.Round(time.Second))
}

// IPQuotaError is returned when a client IP exceeds its hourly issuance quota.
type IPQuotaError struct {
	RetryAfter time.Duration
}

func (e *IPQuotaError) Error() string {
	return fmt.Sprintf("too many verification requests from this address, retry in %s", e.RetryAfter.Round(time.Second))
}

// CooldownError is returned when a phone is asked for a new challenge
// before the inter-issuance cooldown has elapsed.
type CooldownError struct {
	Wait time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("please wait %d seconds before requesting another code", int(math.Ceil(e.Wait.Seconds())))
}

// PhoneLockedError is returned while a phone is in lockout, whether from
// exhausted attempts on a row or a standing locked_until in the history.
type PhoneLockedError struct {
	Until time.Time
}

func (e *PhoneLockedError) Error() string {
	return fmt.Sprintf("phone number is locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// MinutesUntilUnlock reports the remaining lockout, floored at zero.
func (e *PhoneLockedError) MinutesUntilUnlock(now time.Time) int {
	if !e.Until.After(now) {
		return 0
	}
	return int(math.Ceil(e.Until.Sub(now).Minutes()))
}

// WrongCodeError is returned on a mismatched code while attempts remain.
type WrongCodeError struct {
	Remaining int
}

func (e *WrongCodeError) Error() string {
	return fmt.Sprintf("incorrect code, %d attempts remaining", e.Remaining)
}

// UpstreamTimeoutError is returned when a collaborator call exceeds its
// per-call deadline.
type UpstreamTimeoutError struct {
	Collaborator string
}

func (e *UpstreamTimeoutError) Error() string {
	return fmt.Sprintf("%s did not respond in time", e.Collaborator)
}

// ErrorKind returns the stable machine-readable kind for an error, for
// response bodies and audit events.
func ErrorKind(err error) string {
	var (
		phoneQuota *PhoneQuotaError
		ipQuota    *IPQuotaError
		cooldown   *CooldownError
		locked     *PhoneLockedError
		wrongCode  *WrongCodeError
		upstream   *UpstreamTimeoutError
	)

	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMissingConsent):
		return "MISSING_CONSENT"
	case errors.Is(err, ErrInvalidPhone):
		return "INVALID_PHONE"
	case errors.Is(err, ErrMalformedCode):
		return "MALFORMED_CODE"
	case errors.Is(err, ErrInvalidChannel):
		return "INVALID_CHANNEL"
	case errors.Is(err, ErrCaptchaRequired):
		return "CAPTCHA_REQUIRED"
	case errors.Is(err, ErrCaptchaFailed):
		return "CAPTCHA_FAILED"
	case errors.Is(err, ErrNoActiveChallenge):
		return "NO_ACTIVE_CHALLENGE"
	case errors.Is(err, ErrDeliveryFailed):
		return "DELIVERY_FAILED"
	case errors.Is(err, ErrCaptchaUnavailable):
		return "CAPTCHA_PROVIDER_UNAVAILABLE"
	case errors.Is(err, ErrListingUnavailable):
		return "LISTING_ORACLE_UNAVAILABLE"
	case errors.Is(err, ErrTelephonyNotConfigured):
		return "TELEPHONY_NOT_CONFIGURED"
	case errors.As(err, &phoneQuota):
		return "PHONE_QUOTA_EXCEEDED"
	case errors.As(err, &ipQuota):
		return "IP_QUOTA_EXCEEDED"
	case errors.As(err, &cooldown):
		return "COOLDOWN_ACTIVE"
	case errors.As(err, &locked):
		return "PHONE_LOCKED"
	case errors.As(err, &wrongCode):
		return "WRONG_CODE"
	case errors.As(err, &upstream):
		return "UPSTREAM_TIMEOUT"
	default:
		return "INTERNAL_ERROR"
	}
}
