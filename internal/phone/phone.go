// Package phone canonicalises phone numbers, builds composite challenge
// identifiers, and extracts client addresses from transport metadata.
package phone

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"restaurant-verify/internal/model"
)

// NormalizeE164 canonicalises a raw phone number to E.164. Everything
// except digits and a leading plus is stripped; bare 10-digit numbers
// are assumed to be NANP and get +1.
func NormalizeE164(raw string) (string, error) {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	var e164 string
	switch {
	case strings.HasPrefix(cleaned, "+"):
		e164 = cleaned
	case len(cleaned) == 10:
		e164 = "+1" + cleaned
	case len(cleaned) == 11 && strings.HasPrefix(cleaned, "1"):
		e164 = "+" + cleaned
	default:
		e164 = "+" + cleaned
	}

	digits := strings.TrimPrefix(e164, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return "", fmt.Errorf("%w: %q", model.ErrInvalidPhone, raw)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", model.ErrInvalidPhone, raw)
		}
	}

	return e164, nil
}

// Identifier builds the composite challenge identifier that binds an
// issuance to a verify attempt. An absent place id is recorded as
// "unknown" so the identifier shape stays stable.
func Identifier(placeID, phoneE164, sessionID string) string {
	if placeID == "" {
		placeID = "unknown"
	}
	return placeID + ":" + phoneE164 + ":" + sessionID
}

// ClientIP resolves the caller's address: first value of the
// forwarded-for chain, then the direct peer, then 0.0.0.0. Forwarded
// headers are only meaningful behind the configured trust chain; the
// router strips them otherwise.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && net.ParseIP(host) != nil {
		return host
	}
	if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}
	return "0.0.0.0"
}
