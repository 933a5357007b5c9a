package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"restaurant-verify/internal/config"
)

func newTestVerifier(url string) Verifier {
	return NewVerifier(&config.Config{
		Captcha: config.CaptchaConfig{
			Secret:    "test-secret",
			VerifyURL: url,
		},
	})
}

func TestVerifyPassingToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("bad form: %v", err)
		}
		if r.PostForm.Get("secret") != "test-secret" {
			t.Errorf("secret not forwarded")
		}
		if r.PostForm.Get("response") != "tok-1" {
			t.Errorf("token not forwarded, got %q", r.PostForm.Get("response"))
		}
		if r.PostForm.Get("remoteip") != "203.0.113.7" {
			t.Errorf("remote ip not forwarded, got %q", r.PostForm.Get("remoteip"))
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	ok, err := newTestVerifier(server.URL).Verify(context.Background(), "tok-1", "203.0.113.7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected passing token")
	}
}

func TestVerifyFailingToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer server.Close()

	ok, err := newTestVerifier(server.URL).Verify(context.Background(), "bad", "")
	if err != nil {
		t.Fatalf("a rejected token is not a transport error: %v", err)
	}
	if ok {
		t.Error("expected failing token")
	}
}

func TestVerifyRetriesOnServerError(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	ok, err := newTestVerifier(server.URL).Verify(context.Background(), "tok", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected success on second attempt")
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", hits)
	}
}

func TestVerifyProviderDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused

	_, err := newTestVerifier(server.URL).Verify(context.Background(), "tok", "")
	if err == nil {
		t.Fatal("expected an error when the provider is unreachable")
	}
}
