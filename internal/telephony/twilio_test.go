package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"restaurant-verify/internal/config"
)

func newTestCaller(t *testing.T, baseURL string) Caller {
	t.Helper()
	caller, err := NewCaller(&config.Config{
		Telephony: config.TelephonyConfig{
			AccountSID: "AC123",
			AuthToken:  "tok",
			FromNumber: "+15550000000",
			BaseURL:    baseURL,
		},
	})
	if err != nil {
		t.Fatalf("failed to build caller: %v", err)
	}
	return caller
}

func TestNewCallerRequiresCredentials(t *testing.T) {
	_, err := NewCaller(&config.Config{
		Telephony: config.TelephonyConfig{AccountSID: "AC123"},
	})
	if err == nil {
		t.Fatal("expected an error with partial credentials")
	}
}

func TestPlaceCall(t *testing.T) {
	var gotPath, gotTwiml, gotTo string
	var gotUser, gotPass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		r.ParseForm()
		gotTo = r.PostForm.Get("To")
		gotTwiml = r.PostForm.Get("Twiml")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"CA1"}`))
	}))
	defer server.Close()

	caller := newTestCaller(t, server.URL)
	err := caller.PlaceCall(context.Background(), "+12125550100", "Your code is 482, 915.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/2010-04-01/Accounts/AC123/Calls.json" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotUser != "AC123" || gotPass != "tok" {
		t.Errorf("basic auth not set: %q %q", gotUser, gotPass)
	}
	if gotTo != "+12125550100" {
		t.Errorf("unexpected To %q", gotTo)
	}
	if !strings.HasPrefix(gotTwiml, "<Response><Say") || !strings.Contains(gotTwiml, "482, 915") {
		t.Errorf("unexpected twiml %q", gotTwiml)
	}
}

func TestSendSMS(t *testing.T) {
	var gotPath, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		r.ParseForm()
		gotBody = r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	caller := newTestCaller(t, server.URL)
	err := caller.SendSMS(context.Background(), "+12125550100", "your code is 482915")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotBody != "your code is 482915" {
		t.Errorf("unexpected body %q", gotBody)
	}
}

func TestPlaceCallProviderRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer server.Close()

	caller := newTestCaller(t, server.URL)
	err := caller.PlaceCall(context.Background(), "+10000000000", "script")
	if err == nil {
		t.Fatal("expected an error on provider rejection")
	}
}

func TestBuildTwimlEscapesScript(t *testing.T) {
	twiml := buildTwiml(`press "1" & <hang up>`)
	if strings.Contains(twiml, "<hang up>") {
		t.Errorf("script was not escaped: %q", twiml)
	}
	if !strings.Contains(twiml, "&amp;") {
		t.Errorf("ampersand was not escaped: %q", twiml)
	}
}
