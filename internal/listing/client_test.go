package listing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"restaurant-verify/internal/config"
)

func newTestOracle(baseURL string) Oracle {
	return NewOracle(&config.Config{
		Listing: config.ListingConfig{
			BaseURL: baseURL,
			APIKey:  "key-1",
		},
	}, nil)
}

func TestLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/listings/P1" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key-1" {
			t.Errorf("api key not forwarded")
		}
		w.Write([]byte(`{
			"place_id": "P1",
			"name": "Mario's Pizzeria",
			"rating": 4.5,
			"review_count": 120,
			"operational_status": "OPERATIONAL"
		}`))
	}))
	defer server.Close()

	signal, err := newTestOracle(server.URL).Lookup(context.Background(), "P1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signal == nil {
		t.Fatal("expected a signal")
	}
	if !signal.Operational() {
		t.Error("expected operational listing")
	}
	if signal.Rating != 4.5 || signal.ReviewCount != 120 {
		t.Errorf("unexpected signal %+v", signal)
	}
}

func TestLookupNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	signal, err := newTestOracle(server.URL).Lookup(context.Background(), "P-missing")
	if err != nil {
		t.Fatalf("a missing listing is not an error: %v", err)
	}
	if signal != nil {
		t.Errorf("expected nil signal, got %+v", signal)
	}
}

func TestLookupEmptyPlaceID(t *testing.T) {
	signal, err := newTestOracle("http://unreachable.invalid").Lookup(context.Background(), "")
	if err != nil || signal != nil {
		t.Errorf("empty place id must short-circuit, got %v %v", signal, err)
	}
}

func TestLookupRetriesOnce(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"place_id":"P1","operational_status":"OPERATIONAL"}`))
	}))
	defer server.Close()

	signal, err := newTestOracle(server.URL).Lookup(context.Background(), "P1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signal == nil || !signal.Operational() {
		t.Errorf("expected operational signal after retry, got %+v", signal)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", hits)
	}
}

func TestSignalOperational(t *testing.T) {
	var nilSignal *Signal
	if nilSignal.Operational() {
		t.Error("nil signal must not be operational")
	}
	if (&Signal{OperationalStatus: "CLOSED_PERMANENTLY"}).Operational() {
		t.Error("closed listing must not be operational")
	}
	if !(&Signal{OperationalStatus: "OPERATIONAL"}).Operational() {
		t.Error("operational listing misread")
	}
}
