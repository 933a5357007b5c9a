package service

import (
	"context"
	"testing"

	"restaurant-verify/internal/listing"
	"restaurant-verify/internal/model"
)

func TestComputeScore(t *testing.T) {
	tests := []struct {
		name          string
		inputs        ScoreInputs
		expectedScore int
		expectedBand  string
	}{
		{
			name: "everything_proven",
			inputs: ScoreInputs{
				Listing:        &listing.Signal{OperationalStatus: "OPERATIONAL", Rating: 4.5, ReviewCount: 120},
				PhoneProven:    true,
				MerchantProven: true,
			},
			expectedScore: 100,
			expectedBand:  BandVerified,
		},
		{
			name: "non_operational_listing_contributes_nothing",
			inputs: ScoreInputs{
				Listing:        &listing.Signal{OperationalStatus: "CLOSED_PERMANENTLY", Rating: 5.0, ReviewCount: 500},
				PhoneProven:    true,
				MerchantProven: false,
			},
			expectedScore: 25,
			expectedBand:  BandUnverified,
		},
		{
			name: "weak_listing_plus_phone",
			inputs: ScoreInputs{
				Listing:     &listing.Signal{OperationalStatus: "OPERATIONAL", Rating: 3.5, ReviewCount: 10},
				PhoneProven: true,
			},
			expectedScore: 55,
			expectedBand:  BandPartiallyVerified,
		},
		{
			name:          "no_signals_at_all",
			inputs:        ScoreInputs{},
			expectedScore: 0,
			expectedBand:  BandUnverified,
		},
		{
			name: "unknown_status_counts_as_listing",
			inputs: ScoreInputs{
				Listing: &listing.Signal{OperationalStatus: "UNKNOWN", Rating: 4.2, ReviewCount: 80},
			},
			expectedScore: 50,
			expectedBand:  BandUnverified,
		},
		{
			name: "listing_and_phone_without_merchant",
			inputs: ScoreInputs{
				Listing:     &listing.Signal{OperationalStatus: "OPERATIONAL", Rating: 4.8, ReviewCount: 200},
				PhoneProven: true,
			},
			expectedScore: 75,
			expectedBand:  BandPartiallyVerified,
		},
		{
			name: "rating_boundary_inclusive",
			inputs: ScoreInputs{
				Listing: &listing.Signal{OperationalStatus: "OPERATIONAL", Rating: 4.0, ReviewCount: 50},
			},
			expectedScore: 50,
			expectedBand:  BandUnverified,
		},
		{
			name: "merchant_and_phone_without_listing",
			inputs: ScoreInputs{
				PhoneProven:    true,
				MerchantProven: true,
			},
			expectedScore: 50,
			expectedBand:  BandUnverified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComputeScore(tt.inputs)
			if result.Score != tt.expectedScore {
				t.Errorf("expected score %d, got %d", tt.expectedScore, result.Score)
			}
			if result.Band != tt.expectedBand {
				t.Errorf("expected band %q, got %q", tt.expectedBand, result.Band)
			}
			if result.Eligible != (tt.expectedScore >= MinimumToRegister) {
				t.Errorf("eligibility inconsistent with score %d", result.Score)
			}
		})
	}
}

func TestComputeScoreDeterministic(t *testing.T) {
	inputs := ScoreInputs{
		Listing:     &listing.Signal{OperationalStatus: "OPERATIONAL", Rating: 4.1, ReviewCount: 51},
		PhoneProven: true,
	}
	first := ComputeScore(inputs)
	for i := 0; i < 10; i++ {
		if got := ComputeScore(inputs); got.Score != first.Score || got.Band != first.Band {
			t.Fatalf("scorer is not deterministic: %v vs %v", got, first)
		}
	}
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		score    int
		expected string
	}{
		{100, BandVerified},
		{80, BandVerified},
		{79, BandPartiallyVerified},
		{55, BandPartiallyVerified},
		{54, BandUnverified},
		{0, BandUnverified},
	}
	for _, tt := range tests {
		if got := BandFor(tt.score); got != tt.expected {
			t.Errorf("BandFor(%d): expected %q, got %q", tt.score, tt.expected, got)
		}
	}
}

// mockRestaurantRepository implements postgres.RestaurantRepository.
type mockRestaurantRepository struct {
	getByWalletFunc          func(ctx context.Context, wallet string) (*model.Restaurant, error)
	markPhoneVerifiedFunc    func(ctx context.Context, wallet string) error
	markBusinessVerifiedFunc func(ctx context.Context, wallet string) error
	saveScoreFunc            func(ctx context.Context, wallet string, score int) error
}

func (m *mockRestaurantRepository) GetByWallet(ctx context.Context, wallet string) (*model.Restaurant, error) {
	if m.getByWalletFunc != nil {
		return m.getByWalletFunc(ctx, wallet)
	}
	return nil, nil
}

func (m *mockRestaurantRepository) MarkPhoneVerified(ctx context.Context, wallet string) error {
	if m.markPhoneVerifiedFunc != nil {
		return m.markPhoneVerifiedFunc(ctx, wallet)
	}
	return nil
}

func (m *mockRestaurantRepository) MarkBusinessVerified(ctx context.Context, wallet string) error {
	if m.markBusinessVerifiedFunc != nil {
		return m.markBusinessVerifiedFunc(ctx, wallet)
	}
	return nil
}

func (m *mockRestaurantRepository) SaveScore(ctx context.Context, wallet string, score int) error {
	if m.saveScoreFunc != nil {
		return m.saveScoreFunc(ctx, wallet, score)
	}
	return nil
}

// mockOracle implements listing.Oracle.
type mockOracle struct {
	lookupFunc func(ctx context.Context, placeID string) (*listing.Signal, error)
}

func (m *mockOracle) Lookup(ctx context.Context, placeID string) (*listing.Signal, error) {
	if m.lookupFunc != nil {
		return m.lookupFunc(ctx, placeID)
	}
	return nil, nil
}

func TestScoreRestaurantPersistsScore(t *testing.T) {
	ctx := context.Background()

	var savedWallet string
	var savedScore int
	businessMarked := false

	repo := &mockRestaurantRepository{
		getByWalletFunc: func(ctx context.Context, wallet string) (*model.Restaurant, error) {
			return &model.Restaurant{
				WalletAddress:    wallet,
				PhoneVerified:    true,
				SquareMerchantID: "sq-merchant-1",
			}, nil
		},
		saveScoreFunc: func(ctx context.Context, wallet string, score int) error {
			savedWallet, savedScore = wallet, score
			return nil
		},
		markBusinessVerifiedFunc: func(ctx context.Context, wallet string) error {
			businessMarked = true
			return nil
		},
	}
	oracle := &mockOracle{
		lookupFunc: func(ctx context.Context, placeID string) (*listing.Signal, error) {
			return &listing.Signal{OperationalStatus: "OPERATIONAL", Rating: 4.6, ReviewCount: 210}, nil
		},
	}

	svc := NewScorerService(repo, oracle)
	result, err := svc.ScoreRestaurant(ctx, "0xabc", "P1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Score != 100 || result.Band != BandVerified {
		t.Errorf("expected 100/Verified, got %d/%s", result.Score, result.Band)
	}
	if savedWallet != "0xabc" || savedScore != 100 {
		t.Errorf("score not persisted: wallet=%q score=%d", savedWallet, savedScore)
	}
	if !businessMarked {
		t.Error("operational listing should mark business verified")
	}
}

func TestScoreRestaurantWithoutListing(t *testing.T) {
	ctx := context.Background()

	repo := &mockRestaurantRepository{
		getByWalletFunc: func(ctx context.Context, wallet string) (*model.Restaurant, error) {
			return &model.Restaurant{WalletAddress: wallet, PhoneVerified: true}, nil
		},
		markBusinessVerifiedFunc: func(ctx context.Context, wallet string) error {
			t.Error("business must not be marked verified without an operational listing")
			return nil
		},
	}

	svc := NewScorerService(repo, &mockOracle{})
	result, err := svc.ScoreRestaurant(ctx, "0xabc", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Score != 25 || result.Band != BandUnverified {
		t.Errorf("expected 25/Unverified, got %d/%s", result.Score, result.Band)
	}
}
