package service

import (
	"strings"
	"testing"
)

func TestBuildCallScript(t *testing.T) {
	script := BuildCallScript("DineVerify", "Mario's Pizzeria", "482915")

	// Required elements, in order.
	checkpoints := []string{
		"DineVerify",
		"Mario's Pizzeria",
		"hang up",
		"482, 915",
		"four... eight... two... nine... one... five",
		"five minutes",
	}

	last := -1
	for _, want := range checkpoints {
		idx := strings.Index(script, want)
		if idx < 0 {
			t.Fatalf("script missing %q: %s", want, script)
		}
		if idx < last {
			t.Errorf("%q appears out of order in script", want)
		}
		last = idx
	}
}

func TestBuildCallScriptDefaultsRestaurantName(t *testing.T) {
	script := BuildCallScript("DineVerify", "", "000123")
	if !strings.Contains(script, "your restaurant") {
		t.Errorf("expected fallback restaurant phrase, got: %s", script)
	}
}

func TestBuildSMSBody(t *testing.T) {
	body := BuildSMSBody("DineVerify", "Mario's Pizzeria", "482915")

	for _, want := range []string{"DineVerify", "Mario's Pizzeria", "482915", "5 minutes", "disregard"} {
		if !strings.Contains(body, want) {
			t.Errorf("sms body missing %q: %s", want, body)
		}
	}
	if strings.Contains(body, "http") {
		t.Errorf("sms body must not contain links: %s", body)
	}
}
