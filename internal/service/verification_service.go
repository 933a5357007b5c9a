// Package service implements challenge issuance, challenge
// verification, and trust scoring on top of the repositories and
// collaborator clients.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"restaurant-verify/internal/captcha"
	"restaurant-verify/internal/config"
	"restaurant-verify/internal/model"
	"restaurant-verify/internal/phone"
	"restaurant-verify/internal/repository/postgres"
	"restaurant-verify/internal/telephony"
	"restaurant-verify/internal/util"
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

// IssueRequest carries one challenge issuance.
type IssueRequest struct {
	PhoneNumber    string `json:"phone_number"`
	RestaurantName string `json:"restaurant_name,omitempty"`
	PlaceID        string `json:"place_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	Channel        string `json:"channel,omitempty"`
	CaptchaToken   string `json:"captcha_token,omitempty"`
	ConsentGiven   bool   `json:"consent_given"`

	// IPAddress is set from the connection by the handler, never from
	// the request body.
	IPAddress string `json:"-"`
}

// IssueResponse is returned on a successful issuance. Code is populated
// only by devecho builds running in development with the echo flag set;
// everywhere else the field is absent.
type IssueResponse struct {
	SessionID string    `json:"session_id"`
	Channel   string    `json:"channel"`
	ExpiresAt time.Time `json:"expires_at"`
	Message   string    `json:"message"`
	IsTest    bool      `json:"is_test"`
	Code      string    `json:"code,omitempty"`
}

// VerifyRequest carries one verification attempt.
type VerifyRequest struct {
	PhoneNumber   string `json:"phone_number"`
	Code          string `json:"code"`
	PlaceID       string `json:"place_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`

	IPAddress string `json:"-"`
}

// VerifyResponse is returned on a successful verification.
type VerifyResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

// VerificationService is the challenge issuance and verification flow.
type VerificationService interface {
	IssueChallenge(ctx context.Context, req *IssueRequest) (*IssueResponse, error)
	VerifyChallenge(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error)
}

// Emitter is the slice of the audit publisher the service needs.
type Emitter interface {
	Emit(eventType, outcome, phoneE164, ipAddress, placeID, channel string)
}

type verificationService struct {
	config      *config.Config
	challenges  postgres.ChallengeRepository
	restaurants postgres.RestaurantRepository
	caller      telephony.Caller
	captcha     captcha.Verifier
	emitter     Emitter
}

func NewVerificationService(
	cfg *config.Config,
	challenges postgres.ChallengeRepository,
	restaurants postgres.RestaurantRepository,
	caller telephony.Caller,
	captchaVerifier captcha.Verifier,
	emitter Emitter,
) VerificationService {
	return &verificationService{
		config:      cfg,
		challenges:  challenges,
		restaurants: restaurants,
		caller:      caller,
		captcha:     captchaVerifier,
		emitter:     emitter,
	}
}

// IssueChallenge validates the request, evaluates abuse controls,
// persists the challenge row, and only then dispatches the call or SMS.
// The row outlives a failed dispatch on purpose: a bad-number attacker
// still burns quota.
func (s *verificationService) IssueChallenge(ctx context.Context, req *IssueRequest) (resp *IssueResponse, err error) {
	phoneE164 := ""
	channel := req.Channel
	defer func() {
		s.emit("issue", err, phoneE164, req.IPAddress, req.PlaceID, channel)
	}()

	if !req.ConsentGiven {
		return nil, model.ErrMissingConsent
	}

	phoneE164, err = phone.NormalizeE164(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	switch channel {
	case "":
		channel = model.ChannelCall
	case model.ChannelCall, model.ChannelSMS:
	default:
		return nil, model.ErrInvalidChannel
	}

	if err = s.checkCaptcha(ctx, req); err != nil {
		return nil, err
	}

	// Fail before inserting when delivery cannot possibly happen. Dev
	// echo is the one exception: the response itself is the delivery.
	if s.caller == nil && !s.echoActive() {
		return nil, model.ErrTelephonyNotConfigured
	}

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("%w: code generation failed", model.ErrInternal)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	row := &model.VerificationCode{
		Identifier:     phone.Identifier(req.PlaceID, phoneE164, sessionID),
		Code:           code,
		PhoneRaw:       req.PhoneNumber,
		PhoneE164:      phoneE164,
		PlaceID:        req.PlaceID,
		SessionID:      sessionID,
		RestaurantName: req.RestaurantName,
		IPAddress:      req.IPAddress,
		Channel:        channel,
	}

	if err = s.challenges.Issue(ctx, row); err != nil {
		return nil, s.interpretStoreErr(err)
	}

	util.Info("Challenge issued",
		zap.String("phone", phoneE164),
		zap.String("ip", req.IPAddress),
		zap.String("place_id", req.PlaceID),
		zap.String("channel", channel),
		zap.String("session_id", sessionID),
	)

	resp = &IssueResponse{
		SessionID: sessionID,
		Channel:   channel,
		ExpiresAt: row.ExpiresAt,
	}

	if s.echoActive() {
		resp.Code = code
		resp.IsTest = true
		resp.Message = "Development mode: code echoed in response."
		return resp, nil
	}

	if err = s.dispatch(ctx, phoneE164, channel, req.RestaurantName, code); err != nil {
		util.Warn("Challenge delivery failed",
			zap.String("phone", phoneE164),
			zap.String("channel", channel),
			zap.Error(err),
		)
		err = model.ErrDeliveryFailed
		return nil, err
	}

	if channel == model.ChannelSMS {
		resp.Message = "Verification code sent by text message."
	} else {
		resp.Message = "Verification call placed. Please answer to receive your code."
	}
	return resp, nil
}

// VerifyChallenge runs the attempt state machine and, on success,
// marks the wallet's restaurant row phone-verified.
func (s *verificationService) VerifyChallenge(ctx context.Context, req *VerifyRequest) (resp *VerifyResponse, err error) {
	phoneE164 := ""
	defer func() {
		s.emit("verify", err, phoneE164, req.IPAddress, req.PlaceID, "")
	}()

	if !codePattern.MatchString(req.Code) {
		return nil, model.ErrMalformedCode
	}

	phoneE164, err = phone.NormalizeE164(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	identifier := ""
	if req.PlaceID != "" && req.SessionID != "" {
		identifier = phone.Identifier(req.PlaceID, phoneE164, req.SessionID)
	}

	result, err := s.challenges.AttemptVerify(ctx, phoneE164, req.Code, identifier)
	if err != nil {
		return nil, s.interpretStoreErr(err)
	}

	if !result.Matched {
		if result.LockedUntil != nil {
			err = &model.PhoneLockedError{Until: *result.LockedUntil}
			return nil, err
		}
		err = &model.WrongCodeError{Remaining: model.MaxAttempts - result.Attempts}
		return nil, err
	}

	util.Info("Challenge verified",
		zap.String("phone", phoneE164),
		zap.String("ip", req.IPAddress),
		zap.String("place_id", req.PlaceID),
		zap.Int("attempts", result.Attempts),
	)

	if req.WalletAddress != "" {
		if err = s.restaurants.MarkPhoneVerified(ctx, req.WalletAddress); err != nil {
			// The challenge did succeed; failing the response now would
			// burn the caller's only success. Log and continue.
			util.Error("Failed to mark phone verified",
				zap.String("wallet", req.WalletAddress),
				zap.Error(err),
			)
			err = nil
		}
	}

	return &VerifyResponse{
		Verified: true,
		Message:  "Phone number verified.",
	}, nil
}

func (s *verificationService) checkCaptcha(ctx context.Context, req *IssueRequest) error {
	if !s.config.Captcha.Enabled() {
		return nil
	}
	if req.CaptchaToken == "" {
		if s.echoActive() {
			return nil
		}
		return model.ErrCaptchaRequired
	}

	ok, err := s.captcha.Verify(ctx, req.CaptchaToken, req.IPAddress)
	if err != nil {
		return interpretCollaboratorErr(err, "captcha provider", model.ErrCaptchaUnavailable)
	}
	if !ok {
		return model.ErrCaptchaFailed
	}
	return nil
}

func (s *verificationService) dispatch(ctx context.Context, phoneE164, channel, restaurantName, code string) error {
	if channel == model.ChannelSMS {
		body := BuildSMSBody(s.config.PlatformName, restaurantName, code)
		return s.caller.SendSMS(ctx, phoneE164, body)
	}
	script := BuildCallScript(s.config.PlatformName, restaurantName, code)
	return s.caller.PlaceCall(ctx, phoneE164, script)
}

// echoActive reports whether this process may echo codes: requires a
// devecho build, the development environment, and the runtime flag.
func (s *verificationService) echoActive() bool {
	return echoEnabled() && s.config.IsDevelopment() && s.config.DevEchoMode
}

// interpretStoreErr passes domain errors through untouched and maps
// infrastructure failures to their stable kinds.
func (s *verificationService) interpretStoreErr(err error) error {
	switch {
	case isDomainErr(err):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &model.UpstreamTimeoutError{Collaborator: "verification store"}
	default:
		util.Error("Store operation failed", zap.Error(err))
		return fmt.Errorf("%w: store operation failed", model.ErrInternal)
	}
}

func isDomainErr(err error) bool {
	return model.ErrorKind(err) != "INTERNAL_ERROR"
}

// interpretCollaboratorErr distinguishes a deadline from a hard
// failure on an outbound collaborator call.
func interpretCollaboratorErr(err error, collaborator string, fallback error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &model.UpstreamTimeoutError{Collaborator: collaborator}
	}
	return fmt.Errorf("%w: %s", fallback, err.Error())
}

func (s *verificationService) emit(eventType string, err error, phoneE164, ipAddress, placeID, channel string) {
	if s.emitter == nil || phoneE164 == "" {
		return
	}
	s.emitter.Emit(eventType, model.ErrorKind(err), phoneE164, ipAddress, placeID, channel)
}

// generateCode draws six decimal digits from a cryptographic source,
// uniform over 000000 through 999999.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
