package model

import "time"

// Lifecycle constants for verification challenges. These are enforced,
// not advisory: the repository and service layers reject anything that
// would violate them.
const (
	CodeTTL         = 5 * time.Minute
	MaxAttempts     = 5
	LockoutDuration = 30 * time.Minute
)

// ChannelCall and ChannelSMS are the supported delivery channels.
const (
	ChannelCall = "call"
	ChannelSMS  = "sms"
)

// VerificationCode is one issued challenge and its entire attempt
// history. Rows are the data of record for rate limiting and lockout;
// they are never mutated after verified flips true except for a lockout
// set in the same update.
type VerificationCode struct {
	ID             int64      `json:"id" db:"id"`
	Identifier     string     `json:"identifier" db:"identifier"`
	Code           string     `json:"-" db:"code"`
	PhoneRaw       string     `json:"phone_raw" db:"phone_raw"`
	PhoneE164      string     `json:"phone_e164" db:"phone_e164"`
	PlaceID        string     `json:"place_id,omitempty" db:"place_id"`
	SessionID      string     `json:"session_id" db:"session_id"`
	RestaurantName string     `json:"restaurant_name,omitempty" db:"restaurant_name"`
	IPAddress      string     `json:"ip_address" db:"ip_address"`
	Channel        string     `json:"channel" db:"channel"`
	Attempts       int        `json:"attempts" db:"attempts"`
	Verified       bool       `json:"verified" db:"verified"`
	LockedUntil    *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	ExpiresAt      time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// ChallengeState is derived from row columns, never stored.
type ChallengeState string

const (
	StateActive          ChallengeState = "active"
	StateExpired         ChallengeState = "expired"
	StateExhaustedLocked ChallengeState = "exhausted_locked"
	StateSucceeded       ChallengeState = "succeeded"
)

// State derives the challenge state at the given instant. A standing
// lockout wins over the verified flag: the lockout path retires its row
// with verified = true, and that row did not succeed.
func (v *VerificationCode) State(now time.Time) ChallengeState {
	if v.LockedUntil != nil && v.LockedUntil.After(now) {
		return StateExhaustedLocked
	}
	if v.Verified {
		return StateSucceeded
	}
	if v.Attempts >= MaxAttempts {
		return StateExhaustedLocked
	}
	if !v.ExpiresAt.After(now) {
		return StateExpired
	}
	return StateActive
}

// Restaurant is the projection of the restaurants table this service
// reads and writes. The full profile lives elsewhere.
type Restaurant struct {
	WalletAddress     string     `json:"wallet_address" db:"wallet_address"`
	BusinessVerified  bool       `json:"business_verified" db:"business_verified"`
	PhoneVerified     bool       `json:"phone_verified" db:"phone_verified"`
	SquareMerchantID  string     `json:"square_merchant_id,omitempty" db:"square_merchant_id"`
	VerificationScore int        `json:"verification_score" db:"verification_score"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// VerificationEvent is the audit record emitted to Kafka and ClickHouse
// after each issue or verify. PhoneHash is a peppered HMAC; the raw
// number never leaves the relational store and the process log.
type VerificationEvent struct {
	EventType   string    `json:"event_type"` // "issue" or "verify"
	Outcome     string    `json:"outcome"`    // stable error kind, or "ok"
	PhoneHash   string    `json:"phone_hash"`
	PhoneBucket int       `json:"phone_bucket"`
	IPAddress   string    `json:"ip_address"`
	PlaceID     string    `json:"place_id,omitempty"`
	Channel     string    `json:"channel,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
