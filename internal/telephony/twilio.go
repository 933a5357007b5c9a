// Package telephony places verification voice calls and sends SMS
// through the Twilio REST API.
package telephony

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"restaurant-verify/internal/config"
	"restaurant-verify/internal/util"
)

// DispatchTimeout bounds a single provider round trip, including
// connection setup and response read.
const DispatchTimeout = 15 * time.Second

// Caller dispatches a verification challenge over a voice or SMS channel.
type Caller interface {
	PlaceCall(ctx context.Context, to, script string) error
	SendSMS(ctx context.Context, to, body string) error
}

type twilioCaller struct {
	config     *config.TelephonyConfig
	httpClient *http.Client
}

func NewCaller(cfg *config.Config) (Caller, error) {
	telConfig := cfg.Telephony
	if !telConfig.Configured() {
		return nil, fmt.Errorf("telephony credentials not configured")
	}

	util.Info("Telephony client initialized",
		zap.String("from_number", telConfig.FromNumber),
	)

	return &twilioCaller{
		config: &telConfig,
		httpClient: &http.Client{
			Timeout: DispatchTimeout,
		},
	}, nil
}

// PlaceCall starts an outbound call that reads the script aloud. The
// script is wrapped in TwiML before it is handed to the provider.
func (t *twilioCaller) PlaceCall(ctx context.Context, to, script string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.config.FromNumber)
	form.Set("Twiml", buildTwiml(script))

	return t.post(ctx, "Calls.json", form)
}

func (t *twilioCaller) SendSMS(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.config.FromNumber)
	form.Set("Body", body)

	return t.post(ctx, "Messages.json", form)
}

func (t *twilioCaller) post(ctx context.Context, resource string, form url.Values) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s",
		strings.TrimSuffix(t.config.BaseURL, "/"), t.config.AccountSID, resource)

	ctx, cancel := context.WithTimeout(ctx, DispatchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build telephony request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.config.AccountSID, t.config.AuthToken)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Drain a bounded slice of the body so the provider's error
		// surfaces in logs without dumping the full payload.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		util.Error("Telephony provider rejected dispatch",
			zap.String("resource", resource),
			zap.Int("status", resp.StatusCode),
			zap.String("response", string(snippet)),
		)
		return fmt.Errorf("telephony provider returned status %d", resp.StatusCode)
	}

	return nil
}

// buildTwiml wraps the spoken script in the provider's call markup.
// The script text is XML-escaped so digits read "one, two" style
// punctuation survives intact.
func buildTwiml(script string) string {
	var escaped strings.Builder
	xml.EscapeText(&escaped, []byte(script))
	return fmt.Sprintf(`<Response><Say voice="alice">%s</Say></Response>`, escaped.String())
}
