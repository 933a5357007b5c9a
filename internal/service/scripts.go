package service

import (
	"fmt"
	"strings"
)

// digitWords spells digits for the voice channel; text-to-speech reads
// words more reliably than bare digits at slow cadence.
var digitWords = [...]string{"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}

// BuildCallScript assembles the spoken verification script. Ordering
// is contractual: identify the platform, name the restaurant, offer an
// early hang-up, read the code grouped then digit by digit, state the
// expiry and attempt policy, close.
func BuildCallScript(platformName, restaurantName, code string) string {
	if restaurantName == "" {
		restaurantName = "your restaurant"
	}

	grouped := fmt.Sprintf("%s, %s", code[:3], code[3:])
	individual := spellDigits(code)

	var b strings.Builder
	fmt.Fprintf(&b, "Hello. This is an automated verification call from %s. ", platformName)
	fmt.Fprintf(&b, "Someone is registering %s on our platform. ", restaurantName)
	b.WriteString("If you did not request this call, you may hang up now. ")
	fmt.Fprintf(&b, "Your verification code is %s. ", grouped)
	fmt.Fprintf(&b, "Once more, digit by digit: %s. ", individual)
	b.WriteString("This code expires in five minutes and allows a limited number of attempts. ")
	b.WriteString("Thank you, and goodbye.")
	return b.String()
}

// BuildSMSBody assembles the SMS verification message. No links: a
// verification text with a URL reads as phishing.
func BuildSMSBody(platformName, restaurantName, code string) string {
	if restaurantName == "" {
		restaurantName = "your restaurant"
	}
	return fmt.Sprintf(
		"%s verification for %s: your code is %s. It expires in 5 minutes. If you did not request this, please disregard this message.",
		platformName, restaurantName, code,
	)
}

func spellDigits(code string) string {
	words := make([]string, 0, len(code))
	for _, r := range code {
		if r >= '0' && r <= '9' {
			words = append(words, digitWords[r-'0'])
		}
	}
	// Commas and ellipses slow the text-to-speech cadence between digits.
	return strings.Join(words, "... ")
}
