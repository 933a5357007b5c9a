package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"restaurant-verify/internal/listing"
	"restaurant-verify/internal/model"
	"restaurant-verify/internal/repository/postgres"
	"restaurant-verify/internal/util"
)

// Trust bands attached to a numeric score.
const (
	BandVerified          = "Verified"
	BandPartiallyVerified = "Partially Verified"
	BandUnverified        = "Unverified"
)

// MinimumToRegister is the score floor for registration.
const MinimumToRegister = 55

// ScoreInputs are the three independent trust signals. Listing may be
// nil when the place has no public listing.
type ScoreInputs struct {
	Listing        *listing.Signal
	PhoneProven    bool
	MerchantProven bool
}

// ScoreResult is a computed score with its band and the component
// breakdown the admin surface exposes.
type ScoreResult struct {
	Score      int            `json:"score"`
	Band       string         `json:"band"`
	Eligible   bool           `json:"eligible"`
	Components map[string]int `json:"components"`
}

// ComputeScore is a pure function of its inputs; the same inputs
// always yield the same score and band. A listing marked
// non-operational contributes nothing, including its rating and
// review sub-components.
func ComputeScore(in ScoreInputs) ScoreResult {
	components := map[string]int{
		"listing":  0,
		"rating":   0,
		"reviews":  0,
		"phone":    0,
		"merchant": 0,
	}

	if in.Listing != nil {
		status := in.Listing.OperationalStatus
		if status == "OPERATIONAL" || status == "" || status == "UNKNOWN" {
			components["listing"] = 30
			if in.Listing.Rating >= 4.0 {
				components["rating"] = 10
			}
			if in.Listing.ReviewCount >= 50 {
				components["reviews"] = 10
			}
		}
	}
	if in.PhoneProven {
		components["phone"] = 25
	}
	if in.MerchantProven {
		components["merchant"] = 25
	}

	score := 0
	for _, v := range components {
		score += v
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return ScoreResult{
		Score:      score,
		Band:       BandFor(score),
		Eligible:   score >= MinimumToRegister,
		Components: components,
	}
}

// BandFor maps a score to its qualitative band.
func BandFor(score int) string {
	switch {
	case score >= 80:
		return BandVerified
	case score >= MinimumToRegister:
		return BandPartiallyVerified
	default:
		return BandUnverified
	}
}

// ScorerService computes and persists trust scores for restaurants.
type ScorerService interface {
	ScoreRestaurant(ctx context.Context, walletAddress, placeID string) (*ScoreResult, error)
	GetRestaurant(ctx context.Context, walletAddress string) (*model.Restaurant, error)
}

type scorerService struct {
	restaurants postgres.RestaurantRepository
	oracle      listing.Oracle
}

func NewScorerService(restaurants postgres.RestaurantRepository, oracle listing.Oracle) ScorerService {
	return &scorerService{
		restaurants: restaurants,
		oracle:      oracle,
	}
}

// ScoreRestaurant gathers the three signal sources, computes the score,
// and persists it on the restaurant row. An unreachable listing oracle
// fails the request rather than silently scoring without the signal.
func (s *scorerService) ScoreRestaurant(ctx context.Context, walletAddress, placeID string) (*ScoreResult, error) {
	rest, err := s.restaurants.GetByWallet(ctx, walletAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to load restaurant: %w", err)
	}

	inputs := ScoreInputs{}
	if rest != nil {
		inputs.PhoneProven = rest.PhoneVerified
		inputs.MerchantProven = rest.SquareMerchantID != ""
	}

	if placeID != "" {
		signal, err := s.oracle.Lookup(ctx, placeID)
		if err != nil {
			util.Warn("Listing lookup failed during scoring",
				zap.String("place_id", placeID),
				zap.Error(err),
			)
			return nil, interpretCollaboratorErr(err, "listing", model.ErrListingUnavailable)
		}
		inputs.Listing = signal
	}

	result := ComputeScore(inputs)

	if inputs.Listing.Operational() {
		if err := s.restaurants.MarkBusinessVerified(ctx, walletAddress); err != nil {
			return nil, fmt.Errorf("failed to mark business verified: %w", err)
		}
	}
	if err := s.restaurants.SaveScore(ctx, walletAddress, result.Score); err != nil {
		return nil, fmt.Errorf("failed to persist score: %w", err)
	}

	util.Info("Restaurant scored",
		zap.String("wallet", walletAddress),
		zap.String("place_id", placeID),
		zap.Int("score", result.Score),
		zap.String("band", result.Band),
	)
	return &result, nil
}

func (s *scorerService) GetRestaurant(ctx context.Context, walletAddress string) (*model.Restaurant, error) {
	return s.restaurants.GetByWallet(ctx, walletAddress)
}
