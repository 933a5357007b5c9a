package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"

	"restaurant-verify/internal/model"
	"restaurant-verify/internal/repository/postgres"
)

// mockChallengeStore implements postgres.ChallengeRepository for the
// admin surface.
type mockChallengeStore struct {
	latestFunc func(ctx context.Context, phoneE164 string) (*model.VerificationCode, error)
	recentFunc func(ctx context.Context, phoneE164 string, limit int) ([]model.VerificationCode, error)
}

func (m *mockChallengeStore) Issue(ctx context.Context, row *model.VerificationCode) error {
	return nil
}

func (m *mockChallengeStore) AttemptVerify(ctx context.Context, phoneE164, codeAttempt, identifier string) (*postgres.AttemptResult, error) {
	return nil, nil
}

func (m *mockChallengeStore) LatestForPhone(ctx context.Context, phoneE164 string) (*model.VerificationCode, error) {
	if m.latestFunc != nil {
		return m.latestFunc(ctx, phoneE164)
	}
	return nil, nil
}

func (m *mockChallengeStore) RecentForPhone(ctx context.Context, phoneE164 string, limit int) ([]model.VerificationCode, error) {
	if m.recentFunc != nil {
		return m.recentFunc(ctx, phoneE164, limit)
	}
	return nil, nil
}

func (m *mockChallengeStore) DeleteRetired(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}

func (m *mockChallengeStore) HealthCheck(ctx context.Context) error { return nil }

// mockRestaurantStore implements postgres.RestaurantRepository.
type mockRestaurantStore struct {
	getFunc func(ctx context.Context, walletAddress string) (*model.Restaurant, error)
}

func (m *mockRestaurantStore) GetByWallet(ctx context.Context, walletAddress string) (*model.Restaurant, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, walletAddress)
	}
	return nil, nil
}

func (m *mockRestaurantStore) MarkPhoneVerified(ctx context.Context, walletAddress string) error {
	return nil
}

func (m *mockRestaurantStore) MarkBusinessVerified(ctx context.Context, walletAddress string) error {
	return nil
}

func (m *mockRestaurantStore) SaveScore(ctx context.Context, walletAddress string, score int) error {
	return nil
}

func newAdminRouter(t *testing.T, store postgres.ChallengeRepository, apiKey string) chi.Router {
	t.Helper()
	h := NewAdminHandler(store, &mockRestaurantStore{}, apiKey, zaptest.NewLogger(t))
	router := chi.NewRouter()
	h.RegisterRoutes(router)
	return router
}

func adminGet(router http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set("X-Admin-Key", key)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAdminRequiresAPIKey(t *testing.T) {
	router := newAdminRouter(t, &mockChallengeStore{}, "top-secret")

	tests := []struct {
		name string
		key  string
	}{
		{"missing_key", ""},
		{"wrong_key", "guess"},
		{"prefix_of_key", "top-secre"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := adminGet(router, "/admin/challenges/+12125550100", tt.key)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestAdminRecentChallenges(t *testing.T) {
	now := time.Now().UTC()
	var gotPhone string
	var gotLimit int
	store := &mockChallengeStore{
		recentFunc: func(ctx context.Context, phoneE164 string, limit int) ([]model.VerificationCode, error) {
			gotPhone = phoneE164
			gotLimit = limit
			return []model.VerificationCode{
				{
					ID:        7,
					PhoneE164: phoneE164,
					Code:      "482915",
					Attempts:  2,
					CreatedAt: now.Add(-time.Minute),
					ExpiresAt: now.Add(4 * time.Minute),
				},
			}, nil
		},
	}
	router := newAdminRouter(t, store, "top-secret")

	rec := adminGet(router, "/admin/challenges/2125550100?limit=5", "top-secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotPhone != "+12125550100" {
		t.Errorf("phone not normalized, got %q", gotPhone)
	}
	if gotLimit != 5 {
		t.Errorf("expected limit 5, got %d", gotLimit)
	}
	if strings.Contains(rec.Body.String(), "482915") {
		t.Error("admin response must not contain the verification code")
	}

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	rows, ok := resp.Data.([]interface{})
	if !ok || len(rows) != 1 {
		t.Fatalf("unexpected data shape: %v", resp.Data)
	}
	row := rows[0].(map[string]interface{})
	if row["state"] != string(model.StateActive) {
		t.Errorf("expected active state, got %v", row["state"])
	}
}

func TestAdminRecentChallengesClampsLimit(t *testing.T) {
	var gotLimit int
	store := &mockChallengeStore{
		recentFunc: func(ctx context.Context, phoneE164 string, limit int) ([]model.VerificationCode, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	router := newAdminRouter(t, store, "top-secret")

	adminGet(router, "/admin/challenges/2125550100?limit=5000", "top-secret")
	if gotLimit != 20 {
		t.Errorf("oversized limit should fall back to the default, got %d", gotLimit)
	}
}

func TestAdminLatestChallenge(t *testing.T) {
	now := time.Now().UTC()
	locked := now.Add(20 * time.Minute)
	store := &mockChallengeStore{
		latestFunc: func(ctx context.Context, phoneE164 string) (*model.VerificationCode, error) {
			return &model.VerificationCode{
				ID:          9,
				PhoneE164:   phoneE164,
				Attempts:    5,
				Verified:    true,
				LockedUntil: &locked,
				CreatedAt:   now.Add(-2 * time.Minute),
				ExpiresAt:   now.Add(3 * time.Minute),
			}, nil
		},
	}
	router := newAdminRouter(t, store, "top-secret")

	rec := adminGet(router, "/admin/challenges/2125550100/latest", "top-secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	row, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data shape: %T", resp.Data)
	}
	if row["state"] != string(model.StateExhaustedLocked) {
		t.Errorf("expected exhausted_locked, got %v", row["state"])
	}
}

func TestAdminLatestChallengeNotFound(t *testing.T) {
	router := newAdminRouter(t, &mockChallengeStore{}, "top-secret")

	rec := adminGet(router, "/admin/challenges/2125550100/latest", "top-secret")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAdminRestaurantState(t *testing.T) {
	restaurants := &mockRestaurantStore{
		getFunc: func(ctx context.Context, walletAddress string) (*model.Restaurant, error) {
			if walletAddress != "0xabc" {
				return nil, nil
			}
			return &model.Restaurant{WalletAddress: "0xabc", PhoneVerified: true, VerificationScore: 55}, nil
		},
	}
	h := NewAdminHandler(&mockChallengeStore{}, restaurants, "top-secret", zaptest.NewLogger(t))
	router := chi.NewRouter()
	h.RegisterRoutes(router)

	rec := adminGet(router, "/admin/restaurants/0xabc", "top-secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"verification_score":55`) {
		t.Errorf("expected stored score in body: %s", rec.Body.String())
	}

	rec = adminGet(router, "/admin/restaurants/0xmissing", "top-secret")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown wallet, got %d", rec.Code)
	}
}

func TestAdminRejectsBadPhone(t *testing.T) {
	router := newAdminRouter(t, &mockChallengeStore{}, "top-secret")

	rec := adminGet(router, "/admin/challenges/not-a-phone", "top-secret")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
