package hashing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"

	"restaurant-verify/internal/config"
	"restaurant-verify/internal/util"
)

// Hasher produces peppered phone hashes for the event sinks. Kafka and
// ClickHouse rows must never carry a raw number; the pepper keeps the
// hash useless for offline dictionary walks over the E.164 space.
type Hasher struct {
	pepper []byte
}

func NewHasher(cfg *config.Config) *Hasher {
	pepper := []byte(cfg.Events.Pepper)
	if len(pepper) == 0 {
		// Without a configured pepper the hashes are still stable for
		// the process lifetime, which is enough for development.
		pepper = make([]byte, 32)
		if _, err := rand.Read(pepper); err != nil {
			util.Fatal("Failed to generate event pepper", util.ErrorField(err))
		}
		util.Warn("EVENT_PEPPER not set, using ephemeral pepper")
	}

	return &Hasher{pepper: pepper}
}

// HashPhone returns the hex HMAC-SHA256 of a normalized phone number.
func (h *Hasher) HashPhone(phoneE164 string) string {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(phoneE164))
	return hex.EncodeToString(mac.Sum(nil))
}

// PepperFingerprint identifies the active pepper in diagnostics without
// revealing it.
func (h *Hasher) PepperFingerprint() string {
	sum := sha256.Sum256(h.pepper)
	return base64.RawURLEncoding.EncodeToString(sum[:6])
}

// ConstantTimeEquals compares two short secrets without leaking the
// mismatch position through timing.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
