// Package listing resolves a place identifier to the public business
// listing signals the trust scorer and delivery gate consume.
package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"restaurant-verify/internal/client"
	"restaurant-verify/internal/config"
	"restaurant-verify/internal/util"
)

// LookupTimeout bounds a single oracle round trip.
const LookupTimeout = 10 * time.Second

// Signal is the listing projection the verification flow consumes.
// A nil *Signal from a successful lookup means the place has no
// listing; callers treat that as an unknown rather than a failure.
type Signal struct {
	PlaceID           string  `json:"place_id"`
	Name              string  `json:"name"`
	Address           string  `json:"address"`
	Rating            float64 `json:"rating"`
	ReviewCount       int     `json:"review_count"`
	OperationalStatus string  `json:"operational_status"`
	ListedPhone       string  `json:"listed_phone"`
}

// Operational reports whether the listing is marked open for business.
func (s *Signal) Operational() bool {
	return s != nil && s.OperationalStatus == "OPERATIONAL"
}

// Oracle looks up listing signals for a place.
type Oracle interface {
	Lookup(ctx context.Context, placeID string) (*Signal, error)
}

type httpOracle struct {
	config     *config.ListingConfig
	httpClient *http.Client
	cache      *client.RedisClient
}

// NewOracle builds the HTTP-backed oracle. The cache is optional; when
// nil every lookup goes to the upstream provider.
func NewOracle(cfg *config.Config, cache *client.RedisClient) Oracle {
	listConfig := cfg.Listing
	return &httpOracle{
		config: &listConfig,
		httpClient: &http.Client{
			Timeout: LookupTimeout,
		},
		cache: cache,
	}
}

// cacheEnvelope distinguishes "cached absence" from a cache miss so a
// place with no listing does not hammer the upstream on every issue.
type cacheEnvelope struct {
	Found  bool    `json:"found"`
	Signal *Signal `json:"signal,omitempty"`
}

func (o *httpOracle) Lookup(ctx context.Context, placeID string) (*Signal, error) {
	if placeID == "" {
		return nil, nil
	}

	cacheKey := "listing:" + placeID
	if o.cache != nil {
		if raw, err := o.cache.Get(ctx, cacheKey); err == nil {
			var env cacheEnvelope
			if err := json.Unmarshal([]byte(raw), &env); err == nil {
				if !env.Found {
					return nil, nil
				}
				return env.Signal, nil
			}
		}
	}

	signal, err := o.fetch(ctx, placeID)
	if err != nil {
		return nil, err
	}

	if o.cache != nil {
		env := cacheEnvelope{Found: signal != nil, Signal: signal}
		if raw, err := json.Marshal(env); err == nil {
			if err := o.cache.Set(ctx, cacheKey, string(raw), o.config.CacheTTL); err != nil {
				util.Debug("Failed to cache listing signal",
					zap.String("place_id", placeID),
					zap.Error(err),
				)
			}
		}
	}

	return signal, nil
}

func (o *httpOracle) fetch(ctx context.Context, placeID string) (*Signal, error) {
	// Lookups are read-only, so one retry on a transport failure is safe.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		signal, err := o.get(ctx, placeID)
		if err == nil {
			return signal, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (o *httpOracle) get(ctx context.Context, placeID string) (*Signal, error) {
	endpoint := fmt.Sprintf("%s/v1/listings/%s", o.config.BaseURL, url.PathEscape(placeID))

	ctx, cancel := context.WithTimeout(ctx, LookupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build listing request: %w", err)
	}
	if o.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("listing oracle returned status %d", resp.StatusCode)
	}

	var signal Signal
	if err := json.NewDecoder(resp.Body).Decode(&signal); err != nil {
		return nil, fmt.Errorf("failed to decode listing response: %w", err)
	}
	if signal.PlaceID == "" {
		signal.PlaceID = placeID
	}

	return &signal, nil
}
