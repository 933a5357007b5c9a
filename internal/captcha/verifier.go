// Package captcha validates human-verification tokens against a
// Turnstile-compatible siteverify endpoint.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"restaurant-verify/internal/config"
	"restaurant-verify/internal/util"
)

// VerifyTimeout bounds a single siteverify round trip.
const VerifyTimeout = 3 * time.Second

// Verifier checks a client-supplied CAPTCHA token. Verify returns
// (true, nil) on a passing token, (false, nil) on a failing one, and
// a non-nil error only when the provider could not be reached.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

type turnstileVerifier struct {
	config     *config.CaptchaConfig
	httpClient *http.Client
}

func NewVerifier(cfg *config.Config) Verifier {
	capConfig := cfg.Captcha
	return &turnstileVerifier{
		config: &capConfig,
		httpClient: &http.Client{
			Timeout: VerifyTimeout,
		},
	}
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

func (v *turnstileVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	form := url.Values{}
	form.Set("secret", v.config.Secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	// The siteverify call is idempotent, so one retry on a transport
	// failure is safe and absorbs transient network blips.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := v.post(ctx, form)
		if err == nil {
			return ok, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	util.Warn("CAPTCHA provider unreachable",
		zap.Error(lastErr),
	)
	return false, fmt.Errorf("captcha provider unreachable: %w", lastErr)
}

func (v *turnstileVerifier) post(ctx context.Context, form url.Values) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, VerifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.config.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("failed to build captcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("captcha request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return false, fmt.Errorf("captcha provider returned status %d", resp.StatusCode)
	}

	var result siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode captcha response: %w", err)
	}

	if !result.Success && len(result.ErrorCodes) > 0 {
		util.Debug("CAPTCHA token rejected",
			zap.Strings("error_codes", result.ErrorCodes),
		)
	}

	return result.Success, nil
}
