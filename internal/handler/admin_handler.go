package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"restaurant-verify/internal/hashing"
	"restaurant-verify/internal/model"
	"restaurant-verify/internal/phone"
	"restaurant-verify/internal/repository/postgres"
	"restaurant-verify/internal/util"
)

// AdminHandler exposes read-only support endpoints for investigating
// verification state. Responses carry challenge metadata but never the
// code itself; the model's JSON tags enforce that.
type AdminHandler struct {
	challenges  postgres.ChallengeRepository
	restaurants postgres.RestaurantRepository
	apiKey      string
	logger      *zap.Logger
}

func NewAdminHandler(challenges postgres.ChallengeRepository, restaurants postgres.RestaurantRepository, apiKey string, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		challenges:  challenges,
		restaurants: restaurants,
		apiKey:      apiKey,
		logger:      logger,
	}
}

// RegisterRoutes registers the admin routes behind the key check.
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAPIKey)
		r.Get("/challenges/{phoneNumber}", h.RecentChallenges)
		r.Get("/challenges/{phoneNumber}/latest", h.LatestChallenge)
		r.Get("/restaurants/{walletAddress}", h.RestaurantState)
	})
}

func (h *AdminHandler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		supplied := r.Header.Get("X-Admin-Key")
		if supplied == "" || !hashing.ConstantTimeEquals(supplied, h.apiKey) {
			h.logger.Warn("Admin request rejected",
				util.String("path", r.URL.Path),
				util.String("remote_addr", r.RemoteAddr),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success":false,"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecentChallenges lists recent challenge rows for a phone number
func (h *AdminHandler) RecentChallenges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	phoneE164, err := phone.NormalizeE164(chi.URLParam(r, "phoneNumber"))
	if err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse(err))
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	rows, err := h.challenges.RecentForPhone(ctx, phoneE164, limit)
	if err != nil {
		h.logger.Error("Failed to list challenges", util.ErrorField(err))
		h.respond(w, http.StatusInternalServerError, Response{Success: false, Error: "query failed"})
		return
	}

	now := time.Now().UTC()
	data := make([]map[string]interface{}, 0, len(rows))
	for i := range rows {
		data = append(data, challengeView(&rows[i], now))
	}
	h.respond(w, http.StatusOK, successResponse(data, "Challenges retrieved"))
}

// LatestChallenge returns the most recent challenge row for a phone number
func (h *AdminHandler) LatestChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	phoneE164, err := phone.NormalizeE164(chi.URLParam(r, "phoneNumber"))
	if err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse(err))
		return
	}

	row, err := h.challenges.LatestForPhone(ctx, phoneE164)
	if err != nil {
		h.logger.Error("Failed to load latest challenge", util.ErrorField(err))
		h.respond(w, http.StatusInternalServerError, Response{Success: false, Error: "query failed"})
		return
	}
	if row == nil {
		h.respond(w, http.StatusNotFound, Response{Success: false, Error: "no challenges for this phone"})
		return
	}

	h.respond(w, http.StatusOK, successResponse(challengeView(row, time.Now().UTC()), "Challenge retrieved"))
}

// RestaurantState returns the stored verification flags for a wallet
func (h *AdminHandler) RestaurantState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	walletAddress := chi.URLParam(r, "walletAddress")
	rest, err := h.restaurants.GetByWallet(ctx, walletAddress)
	if err != nil {
		h.logger.Error("Failed to load restaurant", util.ErrorField(err))
		h.respond(w, http.StatusInternalServerError, Response{Success: false, Error: "query failed"})
		return
	}
	if rest == nil {
		h.respond(w, http.StatusNotFound, Response{Success: false, Error: "restaurant not found"})
		return
	}

	h.respond(w, http.StatusOK, successResponse(rest, "Restaurant retrieved"))
}

// challengeView projects a row for the admin surface, with its derived
// state and without the code column.
func challengeView(row *model.VerificationCode, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":           row.ID,
		"identifier":   row.Identifier,
		"phone_e164":   row.PhoneE164,
		"place_id":     row.PlaceID,
		"session_id":   row.SessionID,
		"ip_address":   row.IPAddress,
		"channel":      row.Channel,
		"attempts":     row.Attempts,
		"verified":     row.Verified,
		"locked_until": row.LockedUntil,
		"expires_at":   row.ExpiresAt,
		"created_at":   row.CreatedAt,
		"state":        row.State(now),
	}
}

func (h *AdminHandler) respond(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}
