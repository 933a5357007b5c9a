package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"restaurant-verify/internal/model"
	"restaurant-verify/internal/phone"
	"restaurant-verify/internal/service"
	"restaurant-verify/internal/util"
)

// VerificationHandler handles HTTP requests for challenge issuance,
// verification, and trust scoring.
type VerificationHandler struct {
	verification service.VerificationService
	scorer       service.ScorerService
	logger       *zap.Logger
}

func NewVerificationHandler(verification service.VerificationService, scorer service.ScorerService, logger *zap.Logger) *VerificationHandler {
	return &VerificationHandler{
		verification: verification,
		scorer:       scorer,
		logger:       logger,
	}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
	Message string      `json:"message,omitempty"`

	AttemptsRemaining  *int `json:"attempts_remaining,omitempty"`
	MinutesUntilUnlock *int `json:"minutes_until_unlock,omitempty"`
	RetryAfterSeconds  *int `json:"retry_after_seconds,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse builds the error envelope: a stable kind, the kind's
// message template, and the retry/attempt details the kind carries.
// Internal detail never reaches the body.
func errorResponse(err error) Response {
	kind := model.ErrorKind(err)
	resp := Response{
		Success: false,
		Kind:    kind,
		Error:   publicMessage(err, kind),
	}

	var (
		phoneQuota *model.PhoneQuotaError
		ipQuota    *model.IPQuotaError
		cooldown   *model.CooldownError
		locked     *model.PhoneLockedError
		wrongCode  *model.WrongCodeError
	)
	switch {
	case errors.As(err, &phoneQuota):
		resp.RetryAfterSeconds = secondsPtr(phoneQuota.RetryAfter)
	case errors.As(err, &ipQuota):
		resp.RetryAfterSeconds = secondsPtr(ipQuota.RetryAfter)
	case errors.As(err, &cooldown):
		resp.RetryAfterSeconds = secondsPtr(cooldown.Wait)
	case errors.As(err, &locked):
		minutes := locked.MinutesUntilUnlock(time.Now().UTC())
		resp.MinutesUntilUnlock = &minutes
	case errors.As(err, &wrongCode):
		resp.AttemptsRemaining = &wrongCode.Remaining
	}

	return resp
}

// publicMessage keeps internal errors opaque; every other kind's
// Error() string is already written for callers.
func publicMessage(err error, kind string) string {
	if kind == "INTERNAL_ERROR" {
		return "an unexpected error occurred"
	}
	return err.Error()
}

func secondsPtr(d time.Duration) *int {
	s := int(d.Round(time.Second).Seconds())
	if s < 1 {
		s = 1
	}
	return &s
}

// RegisterRoutes registers the verification and scoring routes.
func (h *VerificationHandler) RegisterRoutes(router chi.Router) {
	router.Route("/verification", func(r chi.Router) {
		r.Post("/call", h.IssueChallenge)
		r.Post("/verify", h.VerifyChallenge)
		r.Post("/score", h.ScoreRestaurant)
		r.Get("/score/{walletAddress}", h.GetScore)
	})
}

// IssueChallenge handles challenge issuance over voice or SMS
func (h *VerificationHandler) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, errors.New("invalid request body"), "INVALID_BODY")
		return
	}
	req.IPAddress = phone.ClientIP(r)

	resp, err := h.verification.IssueChallenge(ctx, &req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(resp, resp.Message))
}

// VerifyChallenge handles code verification
func (h *VerificationHandler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, errors.New("invalid request body"), "INVALID_BODY")
		return
	}
	req.IPAddress = phone.ClientIP(r)

	resp, err := h.verification.VerifyChallenge(ctx, &req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(resp, resp.Message))
}

type scoreRequest struct {
	WalletAddress string `json:"wallet_address"`
	PlaceID       string `json:"place_id,omitempty"`
}

// ScoreRestaurant computes and persists a trust score
func (h *VerificationHandler) ScoreRestaurant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, errors.New("invalid request body"), "INVALID_BODY")
		return
	}
	if req.WalletAddress == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("wallet_address is required"), "INVALID_BODY")
		return
	}

	result, err := h.scorer.ScoreRestaurant(ctx, req.WalletAddress, req.PlaceID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Score computed"))
}

// GetScore returns the persisted trust state for a wallet
func (h *VerificationHandler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	walletAddress := chi.URLParam(r, "walletAddress")
	rest, err := h.scorer.GetRestaurant(ctx, walletAddress)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "")
		return
	}
	if rest == nil {
		h.respondWithError(w, http.StatusNotFound, errors.New("restaurant not found"), "NOT_FOUND")
		return
	}

	data := map[string]interface{}{
		"wallet_address":     rest.WalletAddress,
		"verification_score": rest.VerificationScore,
		"band":               service.BandFor(rest.VerificationScore),
		"phone_verified":     rest.PhoneVerified,
		"business_verified":  rest.BusinessVerified,
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(data, "Score retrieved"))
}

// Helper Methods

func (h *VerificationHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error envelope. kindOverride covers
// transport-level failures that never reach the service layer.
func (h *VerificationHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, kindOverride string) {
	resp := errorResponse(err)
	if kindOverride != "" {
		resp.Kind = kindOverride
	}
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("kind", resp.Kind),
	)
	h.respondWithJSON(w, statusCode, resp)
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *VerificationHandler) getStatusCode(err error) int {
	var (
		phoneQuota *model.PhoneQuotaError
		ipQuota    *model.IPQuotaError
		cooldown   *model.CooldownError
		locked     *model.PhoneLockedError
		wrongCode  *model.WrongCodeError
		upstream   *model.UpstreamTimeoutError
	)

	switch {
	case errors.Is(err, model.ErrMissingConsent),
		errors.Is(err, model.ErrInvalidPhone),
		errors.Is(err, model.ErrMalformedCode),
		errors.Is(err, model.ErrInvalidChannel),
		errors.Is(err, model.ErrCaptchaRequired):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrCaptchaFailed):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNoActiveChallenge):
		return http.StatusBadRequest
	case errors.As(err, &phoneQuota),
		errors.As(err, &ipQuota),
		errors.As(err, &cooldown),
		errors.As(err, &locked):
		return http.StatusTooManyRequests
	case errors.As(err, &wrongCode):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrDeliveryFailed),
		errors.Is(err, model.ErrTelephonyNotConfigured),
		errors.Is(err, model.ErrCaptchaUnavailable),
		errors.Is(err, model.ErrListingUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &upstream):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
