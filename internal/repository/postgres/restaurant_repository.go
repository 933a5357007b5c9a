package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"restaurant-verify/internal/model"
)

// RestaurantRepository reads and writes the trust columns on the
// restaurants table. Writes are upserts keyed on wallet address so a
// verification can land before the rest of the profile exists.
type RestaurantRepository interface {
	GetByWallet(ctx context.Context, walletAddress string) (*model.Restaurant, error)
	MarkPhoneVerified(ctx context.Context, walletAddress string) error
	MarkBusinessVerified(ctx context.Context, walletAddress string) error
	SaveScore(ctx context.Context, walletAddress string, score int) error
}

type restaurantRepository struct {
	client *PGClient
}

func NewRestaurantRepository(client *PGClient) RestaurantRepository {
	return &restaurantRepository{client: client}
}

func (r *restaurantRepository) GetByWallet(ctx context.Context, walletAddress string) (*model.Restaurant, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	var rest model.Restaurant
	err := r.client.Pool().QueryRow(ctx, `
		SELECT wallet_address, business_verified, phone_verified,
		       COALESCE(square_merchant_id, ''), verification_score, updated_at
		FROM restaurants
		WHERE wallet_address = $1`,
		walletAddress,
	).Scan(
		&rest.WalletAddress, &rest.BusinessVerified, &rest.PhoneVerified,
		&rest.SquareMerchantID, &rest.VerificationScore, &rest.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query restaurant: %w", err)
	}
	return &rest, nil
}

func (r *restaurantRepository) MarkPhoneVerified(ctx context.Context, walletAddress string) error {
	return r.upsertFlag(ctx, walletAddress, "phone_verified")
}

func (r *restaurantRepository) MarkBusinessVerified(ctx context.Context, walletAddress string) error {
	return r.upsertFlag(ctx, walletAddress, "business_verified")
}

func (r *restaurantRepository) SaveScore(ctx context.Context, walletAddress string, score int) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	_, err := r.client.Pool().Exec(ctx, `
		INSERT INTO restaurants (wallet_address, verification_score, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (wallet_address)
		DO UPDATE SET verification_score = $2, updated_at = $3`,
		walletAddress, score, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save score: %w", err)
	}
	return nil
}

// upsertFlag sets one boolean trust column to true. The column name is
// compile-time constant at every call site, never caller input.
func (r *restaurantRepository) upsertFlag(ctx context.Context, walletAddress, column string) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO restaurants (wallet_address, %s, updated_at)
		VALUES ($1, true, $2)
		ON CONFLICT (wallet_address)
		DO UPDATE SET %s = true, updated_at = $2`, column, column)

	_, err := r.client.Pool().Exec(ctx, query, walletAddress, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", column, err)
	}
	return nil
}
